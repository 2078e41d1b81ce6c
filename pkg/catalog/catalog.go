// Package catalog lists, verifies and deletes the backup archives in the
// backup directory. Nothing is cached: every call scans the directory.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/metrics"
)

// Deletion reasons used as metric labels.
const (
	ReasonManual    = "manual"
	ReasonRetention = "retention"
)

var (
	// ErrInvalidName is returned for names outside the archive naming convention.
	ErrInvalidName = errors.New("invalid archive name")
	// ErrOutsideBackupDir is returned for names that would resolve outside the
	// backup directory.
	ErrOutsideBackupDir = errors.New("path outside the backup directory")
)

// Catalog reads the archives of one backup directory.
type Catalog struct {
	dir    string
	logger logrus.FieldLogger
}

// New creates a catalog for dir.
func New(dir string, logger logrus.FieldLogger) *Catalog {
	return &Catalog{
		dir:    dir,
		logger: logger.WithField("component", "catalog"),
	}
}

// Dir returns the backup directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns all archives, newest first. Ties are ordered by file name.
// A missing directory yields an empty list.
func (c *Catalog) List() ([]ArchiveRecord, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		metrics.ArchiveCount.Set(0)
		metrics.ArchiveBytes.Set(0)
		return []ArchiveRecord{}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read backup directory %s", c.dir)
	}

	records := make([]ArchiveRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		rec, ok := ParseFilename(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		rec.Path = filepath.Join(c.dir, entry.Name())
		rec.SizeBytes = info.Size()
		rec.Size = humanize.IBytes(uint64(info.Size()))
		rec.ModifiedAt = info.ModTime()
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].ModifiedAt.Equal(records[j].ModifiedAt) {
			return records[i].ModifiedAt.After(records[j].ModifiedAt)
		}
		return records[i].Filename < records[j].Filename
	})

	summary := Summarize(records)
	metrics.ArchiveCount.Set(float64(summary.Count))
	metrics.ArchiveBytes.Set(float64(summary.TotalBytes))
	return records, nil
}

// Resolve maps a file name to its path inside the backup directory. The name
// must be a bare archive name and the file must be a regular file.
func (c *Catalog) Resolve(filename string) (string, error) {
	if filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrOutsideBackupDir, filename)
	}
	if !IsArchiveName(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}

	dir, err := filepath.Abs(c.dir)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to resolve backup directory")
	}
	path := filepath.Join(dir, filename)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel != filename {
		return "", fmt.Errorf("%w: %q", ErrOutsideBackupDir, filename)
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", apperrors.NotFound("backup", filename)
	}
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to stat %s", filename)
	}
	if !info.Mode().IsRegular() {
		return "", apperrors.NotFound("backup", filename)
	}
	return path, nil
}

// Delete removes one archive. It reports false, and logs why, when the name
// is invalid, the file is absent or removal fails.
func (c *Catalog) Delete(filename string) bool {
	return c.remove(filename, ReasonManual)
}

func (c *Catalog) remove(filename, reason string) bool {
	log := c.logger.WithField("filename", filename)

	path, err := c.Resolve(filename)
	if err != nil {
		log.WithError(err).Warn("Refusing to delete backup")
		return false
	}
	if err := os.Remove(path); err != nil {
		log.WithError(err).Error("Failed to delete backup")
		return false
	}

	metrics.ArchiveDeletes.WithLabelValues(reason).Inc()
	log.WithField("reason", reason).Info("Deleted backup")
	return true
}

// Open opens an archive for reading.
func (c *Catalog) Open(filename string) (*os.File, ArchiveRecord, error) {
	path, err := c.Resolve(filename)
	if err != nil {
		return nil, ArchiveRecord{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ArchiveRecord{}, pkgerrors.Wrapf(err, "failed to open %s", filename)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ArchiveRecord{}, pkgerrors.Wrapf(err, "failed to stat %s", filename)
	}

	rec, _ := ParseFilename(filename)
	rec.Path = path
	rec.SizeBytes = info.Size()
	rec.Size = humanize.IBytes(uint64(info.Size()))
	rec.ModifiedAt = info.ModTime()
	return f, rec, nil
}

// Cutoff returns the instant before which a retention of retentionDays
// expires archives and history.
func Cutoff(retentionDays int, now time.Time) time.Time {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// Prune deletes archives last modified more than retentionDays before now.
// A retention of zero or less keeps everything.
func (c *Catalog) Prune(retentionDays int, now time.Time) ([]ArchiveRecord, error) {
	if retentionDays <= 0 {
		c.logger.Debug("Retention disabled, skipping prune")
		return nil, nil
	}

	records, err := c.List()
	if err != nil {
		return nil, err
	}

	cutoff := Cutoff(retentionDays, now)
	var removed []ArchiveRecord
	for _, rec := range records {
		if !rec.ModifiedAt.Before(cutoff) {
			continue
		}
		if c.remove(rec.Filename, ReasonRetention) {
			removed = append(removed, rec)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"removed":        len(removed),
	}).Info("Retention enforcement completed")
	return removed, nil
}

// VerifyResult is the outcome of decompressing an archive end to end.
type VerifyResult struct {
	Filename          string `json:"filename"`
	Valid             bool   `json:"valid"`
	CompressedBytes   int64  `json:"compressed_bytes"`
	UncompressedBytes int64  `json:"uncompressed_bytes"`
	Error             string `json:"error,omitempty"`
}

// Verify reads the whole archive through gzip. A corrupt archive is reported
// through VerifyResult; the error is reserved for lookup failures.
func (c *Catalog) Verify(filename string) (VerifyResult, error) {
	f, rec, err := c.Open(filename)
	if err != nil {
		return VerifyResult{}, err
	}
	defer f.Close()

	res := VerifyResult{Filename: filename, CompressedBytes: rec.SizeBytes}
	zr, err := gzip.NewReader(f)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	defer zr.Close()

	n, err := io.Copy(io.Discard, zr)
	res.UncompressedBytes = n
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.Valid = true
	return res, nil
}

// Summary aggregates a list of archives.
type Summary struct {
	Count       int            `json:"count"`
	TotalBytes  int64          `json:"total_bytes"`
	TotalSize   string         `json:"total_size"`
	Newest      *time.Time     `json:"newest,omitempty"`
	PerDatabase map[string]int `json:"per_database"`
}

// Summarize computes totals for records.
func Summarize(records []ArchiveRecord) Summary {
	s := Summary{PerDatabase: make(map[string]int)}
	for i := range records {
		s.Count++
		s.TotalBytes += records[i].SizeBytes
		s.PerDatabase[records[i].DatabaseID]++
		if s.Newest == nil || records[i].ModifiedAt.After(*s.Newest) {
			t := records[i].ModifiedAt
			s.Newest = &t
		}
	}
	s.TotalSize = humanize.IBytes(uint64(s.TotalBytes))
	return s
}
