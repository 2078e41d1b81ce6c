package schedule

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
)

// Store owns the scheduler configuration file.
type Store struct {
	path   string
	logger logrus.FieldLogger
	mu     sync.Mutex
}

// NewStore creates a store for the file at path.
func NewStore(path string, logger logrus.FieldLogger) *Store {
	return &Store{
		path:   path,
		logger: logger.WithField("component", "schedule"),
	}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored configuration, or Default() when the file is
// missing, unreadable or corrupt.
func (s *Store) Load() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default()
	}
	if err != nil {
		s.logger.WithError(&apperrors.ConfigIOError{Op: "read", Path: s.path, Err: err}).
			Warn("Failed to read scheduler configuration, using defaults")
		return Default()
	}

	cfg, err := unmarshal(data)
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).
			Warn("Scheduler configuration is corrupt, using defaults")
		return Default()
	}
	return cfg
}

// Save validates cfg and replaces the file with its JSON form.
func (s *Store) Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(cfg)
}

func (s *Store) write(cfg Config) error {
	data, err := marshal(cfg)
	if err != nil {
		return &apperrors.ConfigIOError{Op: "encode", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &apperrors.ConfigIOError{Op: "write", Path: s.path, Err: err}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return &apperrors.ConfigIOError{Op: "write", Path: s.path, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"path":     s.path,
		"schedule": cfg.Describe(),
	}).Info("Saved scheduler configuration")
	return nil
}

// ModTime returns the last modification time of the file.
func (s *Store) ModTime() (time.Time, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// EnsureFile writes the default configuration when no file exists.
func (s *Store) EnsureFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := s.write(Default()); err != nil {
		return err
	}
	s.logger.WithField("path", s.path).Info("Created default scheduler configuration")
	return nil
}
