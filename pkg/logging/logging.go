// Package logging builds the logrus logger shared by the console processes.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/config"
)

// New returns a logger configured from cfg. When a log file is configured the
// output is written to both stderr and the file; the returned closer releases
// the file handle.
func New(cfg *config.AppConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	switch cfg.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Log.File == "" {
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create log directory")
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open log file %s", cfg.Log.File)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))

	return logger, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
