package s3

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
)

// mtimeSlack covers file systems with coarse modification times.
const mtimeSlack = time.Second

// ConfigSource provides the current backup configuration.
type ConfigSource interface {
	LoadOrDefault() *backupconf.BackupConfig
}

// ClientFactory builds the S3 API for the current settings.
type ClientFactory func(ctx context.Context, settings backupconf.S3Settings) (API, error)

func defaultFactory(ctx context.Context, settings backupconf.S3Settings) (API, error) {
	return NewClient(ctx, settings)
}

// Offloader uploads the archives written by a successful backup run. The
// settings are read on every run so edits take effect without a restart.
type Offloader struct {
	configs ConfigSource
	factory ClientFactory
	logger  logrus.FieldLogger
}

// NewOffloader creates an offloader. A nil factory uses NewClient.
func NewOffloader(configs ConfigSource, factory ClientFactory, logger logrus.FieldLogger) *Offloader {
	if factory == nil {
		factory = defaultFactory
	}
	return &Offloader{configs: configs, factory: factory, logger: logger}
}

// AfterBackup offloads archives modified since the run started. A run for a
// single target offloads only that target's archives, so runs happening at
// the same time do not upload each other's files.
func (o *Offloader) AfterBackup(ctx context.Context, res backup.Result) error {
	if !res.Success {
		return nil
	}
	cfg := o.configs.LoadOrDefault()
	if !cfg.S3.Enabled {
		return nil
	}

	api, err := o.factory(ctx, cfg.S3)
	if err != nil {
		return err
	}
	uploader := NewUploader(api, cfg.S3, o.logger)
	_, err = uploader.OffloadSince(ctx, cfg.BackupDir, res.StartedAt.Add(-mtimeSlack), res.DatabaseID)
	return err
}
