// Package backupconf reads and writes the operator-editable backup
// configuration: a flat file of KEY="value" lines holding general settings,
// SMB and S3 offload settings, and one block of DB_<id>_<FIELD> keys per
// database target.
package backupconf

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/supporttools/GoSQLConsole/pkg/validation"
)

// Defaults used when the file is missing or a value is unusable
const (
	DefaultBackupDir     = "/app/backups"
	DefaultRetentionDays = 7
	DefaultSMBMount      = "/mnt/backup"
	DefaultSMBDomain     = "WORKGROUP"
	DefaultS3Region      = "us-east-1"
	DefaultDatabaseID    = "1"
)

// DatabaseTarget is one MySQL connection the backup script can dump.
type DatabaseTarget struct {
	ID       string `json:"id" validate:"required,numeric,excludesall=+-."`
	Name     string `json:"name" validate:"max=128"`
	Host     string `json:"host" validate:"max=255"`
	Port     string `json:"port" validate:"omitempty,numeric"`
	User     string `json:"user" validate:"max=128"`
	Password string `json:"password"`
	Database string `json:"database" validate:"max=255"`
}

// SMBSettings describes the optional network share the archives are copied to.
type SMBSettings struct {
	Enabled  bool   `json:"enabled"`
	Share    string `json:"share"`
	Mount    string `json:"mount"`
	User     string `json:"user"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

// S3Settings describes the optional object storage archives are offloaded to.
type S3Settings struct {
	Enabled   bool   `json:"enabled"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Prefix    string `json:"prefix"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// BackupConfig is the full content of the backup configuration file.
type BackupConfig struct {
	BackupDir     string           `json:"backupDir"`
	RetentionDays int              `json:"retentionDays"`
	SMB           SMBSettings      `json:"smb"`
	S3            S3Settings       `json:"s3"`
	Databases     []DatabaseTarget `json:"databases"`

	// Extra holds keys this program does not interpret. They are written
	// back unchanged so hand-added script settings survive a save.
	Extra map[string]string `json:"-"`
}

// DefaultDatabase returns the target created when none exist.
func DefaultDatabase() DatabaseTarget {
	return DatabaseTarget{
		ID:   DefaultDatabaseID,
		Name: "default",
		Host: "localhost",
		Port: "3306",
		User: "root",
	}
}

// Default returns the configuration used when no file exists yet.
func Default() *BackupConfig {
	return &BackupConfig{
		BackupDir:     DefaultBackupDir,
		RetentionDays: DefaultRetentionDays,
		SMB: SMBSettings{
			Mount:  DefaultSMBMount,
			Domain: DefaultSMBDomain,
		},
		S3:        S3Settings{Region: DefaultS3Region},
		Databases: []DatabaseTarget{DefaultDatabase()},
	}
}

// Database returns the target with the given id.
func (c *BackupConfig) Database(id string) (DatabaseTarget, bool) {
	for _, db := range c.Databases {
		if sameID(db.ID, id) {
			return db, true
		}
	}
	return DatabaseTarget{}, false
}

// ReplaceDatabases swaps the whole target list. The list is validated when
// the configuration is saved.
func (c *BackupConfig) ReplaceDatabases(dbs []DatabaseTarget) {
	c.Databases = append([]DatabaseTarget(nil), dbs...)
}

// DatabaseIDs returns the target ids in configuration order.
func (c *BackupConfig) DatabaseIDs() []string {
	ids := make([]string, 0, len(c.Databases))
	for _, db := range c.Databases {
		ids = append(ids, db.ID)
	}
	return ids
}

// Validate checks every target against its field rules and the id invariants:
// ids are numeric and unique, and at least one target exists.
func (c *BackupConfig) Validate() error {
	verr := &validation.Error{}

	if len(c.Databases) == 0 {
		verr.Add("databases", "min", "at least one database is required")
	}

	seen := make(map[int]bool, len(c.Databases))
	for i, db := range c.Databases {
		field := fmt.Sprintf("databases[%d]", i)
		if fe := validation.ValidateStruct(&db); fe != nil {
			for _, f := range fe.Fields {
				verr.Add(field+"."+f.Field, f.Tag, f.Message)
			}
			continue
		}
		n, err := strconv.Atoi(db.ID)
		if err != nil {
			verr.Add(field+".id", "numeric", "must be numeric")
			continue
		}
		if seen[n] {
			verr.Add(field+".id", "unique", fmt.Sprintf("duplicate id %s", db.ID))
		}
		seen[n] = true
	}

	if c.RetentionDays < 0 {
		verr.Add("retentionDays", "gte", "must be greater than or equal to 0")
	}

	return verr.OrNil()
}

// normalize canonicalizes ids, sorts targets by numeric id and restores the
// default target when the list is empty.
func (c *BackupConfig) normalize() {
	for i := range c.Databases {
		c.Databases[i].ID = canonicalID(c.Databases[i].ID)
	}
	SortDatabases(c.Databases)
	if len(c.Databases) == 0 {
		c.Databases = []DatabaseTarget{DefaultDatabase()}
	}
}

// NextID returns the smallest positive integer not present in existing.
func NextID(existing []int) int {
	used := make(map[int]bool, len(existing))
	for _, id := range existing {
		used[id] = true
	}
	for id := 1; ; id++ {
		if !used[id] {
			return id
		}
	}
}

// CompareIDs orders two database ids numerically. Non-numeric ids sort after
// numeric ones and compare lexically among themselves.
func CompareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortDatabases sorts targets by numeric id ascending.
func SortDatabases(dbs []DatabaseTarget) {
	sort.SliceStable(dbs, func(i, j int) bool {
		return CompareIDs(dbs[i].ID, dbs[j].ID) < 0
	})
}

func sameID(a, b string) bool {
	return CompareIDs(a, b) == 0
}

func numericIDs(dbs []DatabaseTarget) []int {
	ids := make([]int, 0, len(dbs))
	for _, db := range dbs {
		if n, err := strconv.Atoi(db.ID); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}
