package adminserver

import (
	"time"

	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
	"github.com/supporttools/GoSQLConsole/pkg/schedule"
)

// Secrets never leave the server. Views report whether one is stored and
// requests with an empty secret keep the stored value.

type targetView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	User        string `json:"user"`
	Database    string `json:"database"`
	PasswordSet bool   `json:"passwordSet"`
}

type smbView struct {
	Enabled     bool   `json:"enabled"`
	Share       string `json:"share"`
	Mount       string `json:"mount"`
	User        string `json:"user"`
	Domain      string `json:"domain"`
	PasswordSet bool   `json:"passwordSet"`
}

type s3View struct {
	Enabled      bool   `json:"enabled"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	Prefix       string `json:"prefix"`
	AccessKey    string `json:"accessKey"`
	SecretKeySet bool   `json:"secretKeySet"`
}

type configView struct {
	BackupDir     string       `json:"backupDir"`
	RetentionDays int          `json:"retentionDays"`
	SMB           smbView      `json:"smb"`
	S3            s3View       `json:"s3"`
	Databases     []targetView `json:"databases"`
}

func newTargetView(t backupconf.DatabaseTarget) targetView {
	return targetView{
		ID:          t.ID,
		Name:        t.Name,
		Host:        t.Host,
		Port:        t.Port,
		User:        t.User,
		Database:    t.Database,
		PasswordSet: t.Password != "",
	}
}

func newConfigView(cfg *backupconf.BackupConfig) configView {
	v := configView{
		BackupDir:     cfg.BackupDir,
		RetentionDays: cfg.RetentionDays,
		SMB: smbView{
			Enabled:     cfg.SMB.Enabled,
			Share:       cfg.SMB.Share,
			Mount:       cfg.SMB.Mount,
			User:        cfg.SMB.User,
			Domain:      cfg.SMB.Domain,
			PasswordSet: cfg.SMB.Password != "",
		},
		S3: s3View{
			Enabled:      cfg.S3.Enabled,
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			Prefix:       cfg.S3.Prefix,
			AccessKey:    cfg.S3.AccessKey,
			SecretKeySet: cfg.S3.SecretKey != "",
		},
		Databases: make([]targetView, 0, len(cfg.Databases)),
	}
	for _, t := range cfg.Databases {
		v.Databases = append(v.Databases, newTargetView(t))
	}
	return v
}

type targetRequest struct {
	ID            string `json:"id" validate:"omitempty,numeric"`
	Name          string `json:"name" validate:"required,max=128"`
	Host          string `json:"host" validate:"required,max=255"`
	Port          string `json:"port" validate:"omitempty,numeric"`
	User          string `json:"user" validate:"required,max=128"`
	Password      string `json:"password"`
	ClearPassword bool   `json:"clearPassword"`
	Database      string `json:"database" validate:"max=255"`
}

// apply merges the request over the stored target.
func (r targetRequest) apply(stored backupconf.DatabaseTarget) backupconf.DatabaseTarget {
	t := backupconf.DatabaseTarget{
		ID:       stored.ID,
		Name:     r.Name,
		Host:     r.Host,
		Port:     r.Port,
		User:     r.User,
		Password: stored.Password,
		Database: r.Database,
	}
	switch {
	case r.Password != "":
		t.Password = r.Password
	case r.ClearPassword:
		t.Password = ""
	}
	return t
}

type smbRequest struct {
	Enabled       bool   `json:"enabled"`
	Share         string `json:"share" validate:"required_if=Enabled true"`
	Mount         string `json:"mount" validate:"required_if=Enabled true"`
	User          string `json:"user"`
	Password      string `json:"password"`
	ClearPassword bool   `json:"clearPassword"`
	Domain        string `json:"domain"`
}

func (r smbRequest) apply(stored backupconf.SMBSettings) backupconf.SMBSettings {
	s := backupconf.SMBSettings{
		Enabled:  r.Enabled,
		Share:    r.Share,
		Mount:    r.Mount,
		User:     r.User,
		Password: stored.Password,
		Domain:   r.Domain,
	}
	switch {
	case r.Password != "":
		s.Password = r.Password
	case r.ClearPassword:
		s.Password = ""
	}
	if s.Domain == "" {
		s.Domain = backupconf.DefaultSMBDomain
	}
	return s
}

type s3Request struct {
	Enabled        bool   `json:"enabled"`
	Bucket         string `json:"bucket" validate:"required_if=Enabled true"`
	Region         string `json:"region"`
	Endpoint       string `json:"endpoint" validate:"omitempty,url"`
	Prefix         string `json:"prefix"`
	AccessKey      string `json:"accessKey"`
	SecretKey      string `json:"secretKey"`
	ClearSecretKey bool   `json:"clearSecretKey"`
}

func (r s3Request) apply(stored backupconf.S3Settings) backupconf.S3Settings {
	s := backupconf.S3Settings{
		Enabled:   r.Enabled,
		Bucket:    r.Bucket,
		Region:    r.Region,
		Endpoint:  r.Endpoint,
		Prefix:    r.Prefix,
		AccessKey: r.AccessKey,
		SecretKey: stored.SecretKey,
	}
	switch {
	case r.SecretKey != "":
		s.SecretKey = r.SecretKey
	case r.ClearSecretKey:
		s.SecretKey = ""
	}
	if s.Region == "" {
		s.Region = backupconf.DefaultS3Region
	}
	return s
}

// settingsRequest replaces the whole configuration. An empty Databases list
// leaves the targets unchanged.
type settingsRequest struct {
	BackupDir     string          `json:"backupDir" validate:"required,startswith=/"`
	RetentionDays int             `json:"retentionDays" validate:"gte=0,lte=3650"`
	SMB           smbRequest      `json:"smb"`
	S3            s3Request       `json:"s3"`
	Databases     []targetRequest `json:"databases" validate:"omitempty,dive"`
}

type scheduleView struct {
	schedule.Config
	Description string     `json:"description"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}
