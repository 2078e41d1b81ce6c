// Package history records backup runs in a SQL database.
package history

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supporttools/GoSQLConsole/pkg/backup"
	"github.com/supporttools/GoSQLConsole/pkg/config"
)

// maxOutput bounds the stored script output per run.
const maxOutput = 64 * 1024

// Store persists backup runs.
type Store struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

// Open connects to the history database for driver and runs migrations.
// It returns nil and no error when history is disabled.
func Open(driver, dsn string, debug bool, log logrus.FieldLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", config.HistoryNone:
		return nil, nil
	case config.HistorySQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create history directory")
			}
		}
		dialector = sqlite.Open(dsn)
	case config.HistoryMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported history driver %q", driver)
	}
	return New(dialector, debug, log)
}

// New opens a store on an arbitrary dialector.
func New(dialector gorm.Dialector, debug bool, log logrus.FieldLogger) (*Store, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to history database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database connection")
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)

	if err := db.AutoMigrate(&BackupRun{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate history tables")
	}

	return &Store{db: db, logger: log.WithField("component", "history")}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores a backup result.
func (s *Store) Record(ctx context.Context, res backup.Result) error {
	run := BackupRun{
		RunID:      res.RunID,
		DatabaseID: res.DatabaseID,
		Trigger:    string(res.Trigger),
		Success:    res.Success,
		Output:     truncate(res.Output),
		Error:      truncate(res.Error),
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return errors.Wrapf(err, "failed to record backup run %s", res.RunID)
	}
	return nil
}

// AfterBackup records every finished run.
func (s *Store) AfterBackup(ctx context.Context, res backup.Result) error {
	return s.Record(ctx, res)
}

// Filter narrows Recent.
type Filter struct {
	DatabaseID string
	Trigger    string
	FailedOnly bool
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int, f Filter) ([]BackupRun, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&BackupRun{})
	if f.DatabaseID != "" {
		q = q.Where("database_id = ?", f.DatabaseID)
	}
	if f.Trigger != "" {
		q = q.Where("run_trigger = ?", f.Trigger)
	}
	if f.FailedOnly {
		q = q.Where("success = ?", false)
	}

	var runs []BackupRun
	if err := q.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query backup history")
	}
	return runs, nil
}

// LastSuccess returns the newest successful run for a database, or nil.
func (s *Store) LastSuccess(ctx context.Context, databaseID string) (*BackupRun, error) {
	var run BackupRun
	err := s.db.WithContext(ctx).
		Where("success = ? AND database_id = ?", true, databaseID).
		Order("started_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query last successful run")
	}
	return &run, nil
}

// PruneBefore deletes runs started before t.
func (s *Store) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("started_at < ?", t).Delete(&BackupRun{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to prune backup history")
	}
	if res.RowsAffected > 0 {
		s.logger.WithField("removed", res.RowsAffected).Info("Pruned backup history")
	}
	return res.RowsAffected, nil
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[:maxOutput] + "\n[truncated]"
}
