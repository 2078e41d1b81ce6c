package catalog

import (
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
)

// Archive naming convention
const (
	Prefix = "mysql_backup_"
	Suffix = ".sql.gz"
)

// UnknownName is reported when no database name can be parsed.
const UnknownName = "unknown"

var (
	timestampPattern = regexp.MustCompile(`(?:^|_)(\d{8}(?:[_-]?\d{4,6})?)$`)
	idPattern        = regexp.MustCompile(`^(\d+)_(.+)$`)
)

// timestampLayouts are tried in order when reading the timestamp part.
var timestampLayouts = []string{
	"20060102_150405",
	"20060102-150405",
	"20060102150405",
	"20060102_1504",
	"20060102-1504",
	"200601021504",
	"20060102",
}

// ArchiveRecord describes one archive found in the backup directory.
type ArchiveRecord struct {
	Filename     string    `json:"filename"`
	DatabaseID   string    `json:"database_id"`
	DatabaseName string    `json:"database_name"`
	Timestamp    string    `json:"timestamp"`
	SizeBytes    int64     `json:"size_bytes"`
	Size         string    `json:"size"`
	ModifiedAt   time.Time `json:"modified_at"`
	Path         string    `json:"path"`
}

// Age renders the time since the archive was written, e.g. "3 hours ago".
func (r ArchiveRecord) Age(now time.Time) string {
	return humanize.RelTime(r.ModifiedAt, now, "ago", "from now")
}

// TakenAt parses the timestamp embedded in the file name.
func (r ArchiveRecord) TakenAt(loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timestampLayouts {
		if len(layout) != len(r.Timestamp) {
			continue
		}
		if t, err := time.ParseInLocation(layout, r.Timestamp, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsArchiveName reports whether name follows the archive naming convention.
func IsArchiveName(name string) bool {
	return len(name) > len(Prefix)+len(Suffix) &&
		strings.HasPrefix(name, Prefix) &&
		strings.HasSuffix(name, Suffix)
}

// ParseFilename extracts the database id, name and timestamp from an archive
// name. Names without an id prefix use the legacy format and get id "1".
func ParseFilename(name string) (ArchiveRecord, bool) {
	if !IsArchiveName(name) {
		return ArchiveRecord{}, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Suffix)

	rec := ArchiveRecord{
		Filename:   name,
		DatabaseID: backupconf.DefaultDatabaseID,
	}

	var rest string
	if m := timestampPattern.FindStringSubmatchIndex(middle); m != nil {
		rest = middle[:m[0]]
		rec.Timestamp = middle[m[2]:m[3]]
	} else if i := strings.LastIndex(middle, "_"); i >= 0 {
		rest = middle[:i]
		rec.Timestamp = middle[i+1:]
	} else {
		rest = middle
	}

	if m := idPattern.FindStringSubmatch(rest); m != nil {
		rec.DatabaseID = m[1]
		rest = m[2]
	}
	rec.DatabaseName = rest
	if rec.DatabaseName == "" {
		rec.DatabaseName = UnknownName
	}
	return rec, true
}
