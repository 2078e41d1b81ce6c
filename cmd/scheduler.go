package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSQLConsole/pkg/scheduler"
	"github.com/supporttools/GoSQLConsole/pkg/version"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run scheduled backups, following edits to the schedule file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		a.logger.WithField("version", version.Version).Info("Starting GoSQLConsole scheduler")

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

		reconciler := scheduler.New(scheduler.Options{
			Schedules:    schedules,
			Targets:      configs,
			Invoker:      a.newInvoker(configs, hist),
			PollInterval: a.cfg.Scheduler.PollInterval,
			Scope:        a.cfg.Scheduler.Scope,
			Location:     loc,
			Logger:       a.logger,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.serveMetrics(ctx)
		if err := reconciler.Start(ctx); err != nil {
			return err
		}
		for _, t := range reconciler.Triggers() {
			a.logger.WithFields(logrus.Fields{
				"spec":     t.Spec,
				"schedule": t.Description,
				"next":     t.Next,
			}).Info("Next scheduled backup")
		}

		a.logger.Info("Scheduler is running. Press Ctrl+C to exit.")
		return reconciler.Wait(ctx, shutdownGrace)
	},
}
