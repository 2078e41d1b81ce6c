package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLConsole/pkg/adminserver"
	"github.com/supporttools/GoSQLConsole/pkg/mysql"
	"github.com/supporttools/GoSQLConsole/pkg/smb"
	"github.com/supporttools/GoSQLConsole/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		a.logger.WithField("version", version.Version).Info("Starting GoSQLConsole admin server")

		configs, schedules, err := a.stores()
		if err != nil {
			return err
		}
		hist, err := a.openHistory()
		if err != nil {
			return err
		}
		defer closeHistory(hist, a.logger)

		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}

		opts := adminserver.Options{
			Addr:      a.cfg.ListenAddr,
			Configs:   configs,
			Schedules: schedules,
			Runner:    a.newInvoker(configs, hist),
			Prober:    mysql.NewProber(a.logger),
			Mounter:   smb.NewMounter(a.cfg.SMBMountHelper, a.logger),
			Location:  loc,
			Logger:    a.logger,
		}
		if hist != nil {
			opts.History = hist
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.serveMetrics(ctx)
		return adminserver.New(opts).ListenAndServe(ctx, shutdownGrace)
	},
}
