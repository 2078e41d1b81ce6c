package backupconf

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
)

// ExampleSuffix names the template a missing config file is seeded from.
const ExampleSuffix = ".example"

// Store owns the backup configuration file. All writes go through a single
// mutex and replace the file atomically.
type Store struct {
	path   string
	logger logrus.FieldLogger
	mu     sync.Mutex
}

// NewStore creates a store for the file at path.
func NewStore(path string, logger logrus.FieldLogger) *Store {
	return &Store{
		path:   path,
		logger: logger.WithField("component", "backupconf"),
	}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load reads the configuration. A missing file yields Default(); a file that
// cannot be read yields a *apperrors.ConfigIOError.
func (s *Store) Load() (*BackupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// LoadOrDefault is Load with read failures logged and replaced by Default().
func (s *Store) LoadOrDefault() *BackupConfig {
	cfg, err := s.Load()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load backup configuration, using defaults")
		return Default()
	}
	return cfg
}

func (s *Store) load() (*BackupConfig, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("path", s.path).Debug("Backup configuration not found, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, &apperrors.ConfigIOError{Op: "read", Path: s.path, Err: err}
	}
	defer f.Close()

	pairs, err := readPairs(f)
	if err != nil {
		return nil, &apperrors.ConfigIOError{Op: "read", Path: s.path, Err: err}
	}

	cfg, warnings := decode(pairs)
	for _, w := range warnings {
		s.logger.WithField("path", s.path).Warn(w)
	}
	return cfg, nil
}

// Save validates cfg and replaces the file with its encoding.
func (s *Store) Save(cfg *BackupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cfg)
}

func (s *Store) save(cfg *BackupConfig) error {
	out := *cfg
	out.Databases = append([]DatabaseTarget(nil), cfg.Databases...)
	out.normalize()
	if err := out.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := encode(&buf, &out); err != nil {
		return &apperrors.ConfigIOError{Op: "encode", Path: s.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &apperrors.ConfigIOError{Op: "write", Path: s.path, Err: err}
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return &apperrors.ConfigIOError{Op: "write", Path: s.path, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"path":      s.path,
		"databases": len(out.Databases),
	}).Info("Saved backup configuration")
	return nil
}

// Update performs a locked read-modify-write. fn may mutate the loaded
// configuration; returning an error aborts without writing.
func (s *Store) Update(fn func(cfg *BackupConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.save(cfg)
}

// AddDatabase stores t under the next free id and returns it with the id set.
func (s *Store) AddDatabase(t DatabaseTarget) (DatabaseTarget, error) {
	err := s.Update(func(cfg *BackupConfig) error {
		t.ID = strconv.Itoa(NextID(numericIDs(cfg.Databases)))
		cfg.Databases = append(cfg.Databases, t)
		return nil
	})
	if err != nil {
		return DatabaseTarget{}, err
	}
	return t, nil
}

// UpdateDatabase replaces the target with id by fn applied to it and returns
// the stored result. The id itself cannot be changed.
func (s *Store) UpdateDatabase(id string, fn func(DatabaseTarget) DatabaseTarget) (DatabaseTarget, error) {
	var updated DatabaseTarget
	err := s.Update(func(cfg *BackupConfig) error {
		for i := range cfg.Databases {
			if sameID(cfg.Databases[i].ID, id) {
				updated = fn(cfg.Databases[i])
				updated.ID = cfg.Databases[i].ID
				cfg.Databases[i] = updated
				return nil
			}
		}
		return apperrors.NotFound("database", id)
	})
	if err != nil {
		return DatabaseTarget{}, err
	}
	return updated, nil
}

// DeleteDatabase removes the target with id. Removing the last target leaves
// the default target in its place.
func (s *Store) DeleteDatabase(id string) error {
	return s.Update(func(cfg *BackupConfig) error {
		for i := range cfg.Databases {
			if sameID(cfg.Databases[i].ID, id) {
				cfg.Databases = append(cfg.Databases[:i], cfg.Databases[i+1:]...)
				if len(cfg.Databases) == 0 {
					cfg.Databases = []DatabaseTarget{DefaultDatabase()}
				}
				return nil
			}
		}
		return apperrors.NotFound("database", id)
	})
}

// EnsureFiles creates the config directory and seeds the config file from
// its ".example" sibling when the file does not exist yet.
func (s *Store) EnsureFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &apperrors.ConfigIOError{Op: "create directory for", Path: s.path, Err: err}
	}
	if _, err := os.Stat(s.path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	example := s.path + ExampleSuffix
	src, err := os.Open(example)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &apperrors.ConfigIOError{Op: "read", Path: example, Err: err}
	}
	defer src.Close()

	if err := atomic.WriteFile(s.path, src); err != nil {
		return &apperrors.ConfigIOError{Op: "write", Path: s.path, Err: err}
	}
	s.logger.WithField("path", s.path).Info("Created backup configuration from example")
	return nil
}
