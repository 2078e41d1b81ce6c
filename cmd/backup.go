package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/backup"
)

var (
	backupDatabase string
	backupAll      bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run the backup script now",
	Long: `Run the backup script once. Without flags the script picks its default
target; --database runs it for one target and --all for every target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if backupAll && backupDatabase != "" {
			return errors.New("--database and --all are mutually exclusive")
		}
		a := current

		configs, _, err := a.stores()
		if err != nil {
			return err
		}
		hist, err := a.openHistory()
		if err != nil {
			return err
		}
		defer closeHistory(hist, a.logger)

		cfg, err := configs.Load()
		if err != nil {
			return err
		}
		if backupDatabase != "" {
			if _, ok := cfg.Database(backupDatabase); !ok {
				return apperrors.NotFound("database", backupDatabase)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		inv := a.newInvoker(configs, hist)
		var results []backup.Result
		if backupAll {
			results = inv.RunEach(ctx, backup.TriggerCLI, cfg.DatabaseIDs())
		} else {
			results = []backup.Result{inv.Run(ctx, backup.TriggerCLI, backupDatabase)}
		}

		out := cmd.OutOrStdout()
		for _, res := range results {
			target := res.DatabaseID
			if target == "" {
				target = "default"
			}
			if res.Success {
				fmt.Fprintf(out, "OK     %-8s %s\n", target, res.Duration.Round(time.Millisecond))
				continue
			}
			fmt.Fprintf(out, "FAILED %-8s %s: %s\n", target, res.Error, res.Output)
		}

		if failed := backup.Failed(results); len(failed) > 0 {
			return errors.Errorf("%d of %d backups failed", len(failed), len(results))
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupDatabase, "database", "d", "", "database target id")
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every configured target")
}
