package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/catalog"
	"github.com/supporttools/GoSQLConsole/pkg/config"
	"github.com/supporttools/GoSQLConsole/pkg/history"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
	"github.com/supporttools/GoSQLConsole/pkg/storage/s3"
)

// shutdownGrace bounds how long a running backup may delay process exit.
const shutdownGrace = 30 * time.Second

type app struct {
	cfg    *config.AppConfig
	logger *logrus.Logger
	closer io.Closer
}

// stores opens both configuration files, creating them when missing.
func (a *app) stores() (*backupconf.Store, *schedule.Store, error) {
	configs := backupconf.NewStore(a.cfg.BackupConfigPath(), a.logger)
	if err := configs.EnsureFiles(); err != nil {
		return nil, nil, err
	}
	schedules := schedule.NewStore(a.cfg.SchedulerConfigPath(), a.logger)
	if err := schedules.EnsureFile(); err != nil {
		return nil, nil, err
	}
	return configs, schedules, nil
}

func (a *app) openHistory() (*history.Store, error) {
	return history.Open(a.cfg.History.Driver, a.cfg.History.DSN, a.cfg.Debug, a.logger)
}

// pruneHistory removes history entries older than the retention period when
// history is enabled.
func (a *app) pruneHistory(ctx context.Context, retentionDays int, now time.Time) error {
	if retentionDays <= 0 {
		return nil
	}
	hist, err := a.openHistory()
	if err != nil || hist == nil {
		return err
	}
	defer closeHistory(hist, a.logger)

	_, err = hist.PruneBefore(ctx, catalog.Cutoff(retentionDays, now))
	return err
}

// newInvoker builds the backup invoker with the history and S3 hooks. hist
// may be nil.
func (a *app) newInvoker(configs *backupconf.Store, hist *history.Store) *backup.Invoker {
	inv := backup.NewInvoker(backup.Options{
		Script:      a.cfg.Backup.Script,
		Timeout:     a.cfg.Backup.Timeout,
		MaxParallel: a.cfg.Backup.MaxParallel,
		Logger:      a.logger,
	})
	if _, err := os.Stat(inv.Script()); err != nil {
		a.logger.WithError(err).WithField("script", inv.Script()).Warn("Backup script is not accessible, runs will fail")
	}
	if hist != nil {
		inv.AddHook(hist)
	}
	inv.AddHook(s3.NewOffloader(configs, nil, a.logger.WithField("component", "s3")))
	return inv
}

func (a *app) catalog(configs *backupconf.Store) *catalog.Catalog {
	return catalog.New(configs.LoadOrDefault().BackupDir, a.logger)
}

// serveMetrics exposes /metrics on the configured metrics address until ctx
// is done. It does nothing when no address is set.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	srv := metrics.NewServer(a.cfg.MetricsAddr)
	go func() {
		a.logger.WithField("addr", a.cfg.MetricsAddr).Info("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func closeHistory(hist *history.Store, logger logrus.FieldLogger) {
	if hist == nil {
		return
	}
	if err := hist.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close history database")
	}
}
