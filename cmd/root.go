// Package cmd wires the console's processes and maintenance commands.
package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/supporttools/GoSQLConsole/pkg/config"
	"github.com/supporttools/GoSQLConsole/pkg/logging"
)

var (
	// ConfigFile is the optional YAML process configuration.
	ConfigFile string
	// EnvFile is an optional .env file loaded before the environment is read.
	EnvFile string

	current *app

	rootCmd = &cobra.Command{
		Use:   "gosqlconsole",
		Short: "Admin console and scheduler for MySQL backups",
		Long: `gosqlconsole serves the admin API for configuring MySQL backup
targets and the recurring schedule, runs the scheduler process that executes
it, and offers maintenance commands for the produced archives.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if current != nil {
			current.logger.WithError(err).Error("Command failed")
		} else {
			logrus.WithError(err).Error("Command failed")
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&ConfigFile, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&EnvFile, "env-file", "", "path to a .env file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the process configuration and builds the logger shared by
// every command.
func setup(cmd *cobra.Command, _ []string) error {
	if EnvFile != "" {
		if err := gotenv.Load(EnvFile); err != nil {
			return errors.Wrapf(err, "failed to load env file %s", EnvFile)
		}
	}

	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateConfig(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		return err
	}
	current = &app{cfg: cfg, logger: logger, closer: closer}

	if cfg.Debug {
		cfg.DisplayConfiguration(logger)
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if current == nil {
		return nil
	}
	return current.closer.Close()
}
