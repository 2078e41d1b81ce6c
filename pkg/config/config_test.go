package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults tests that an empty environment yields the defaults
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/app/config/backup.conf", cfg.BackupConfigPath())
	assert.Equal(t, "/app/config/scheduler.json", cfg.SchedulerConfigPath())
	assert.Equal(t, "/app/scripts/backup.sh", cfg.Backup.Script)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, ScopeDefault, cfg.Scheduler.Scope)
	assert.Equal(t, ":80", cfg.ListenAddr)
	assert.NoError(t, cfg.ValidateConfig())
}

// TestLoad_FileAndEnvironment tests YAML overlay and environment precedence
func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.yaml")
	content := `
configDir: /srv/console
listenAddr: ":8080"
scheduler:
  pollInterval: 30s
  scope: each
backup:
  script: /opt/backup.sh
  maxParallel: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "5")
	t.Setenv("DEBUG", "yes")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/console/backup.conf", cfg.BackupConfigPath())
	assert.Equal(t, ":9090", cfg.ListenAddr, "environment should win over file")
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, ScopeEach, cfg.Scheduler.Scope)
	assert.Equal(t, "/opt/backup.sh", cfg.Backup.Script)
	assert.Equal(t, 4, cfg.Backup.MaxParallel)
	assert.True(t, cfg.Debug)
}

// TestLoad_MissingFile tests that an explicit but missing file is an error
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestAbsoluteFileNames tests that absolute file names bypass the config dir
func TestAbsoluteFileNames(t *testing.T) {
	cfg := Default()
	cfg.SchedulerConfigFile = "/etc/console/scheduler.json"
	assert.Equal(t, "/etc/console/scheduler.json", cfg.SchedulerConfigPath())
}

// TestValidateConfig tests validation of process settings
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{name: "unknown scope", mutate: func(c *AppConfig) { c.Scheduler.Scope = "some" }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *AppConfig) { c.Scheduler.PollInterval = 0 }, wantErr: true},
		{name: "no script", mutate: func(c *AppConfig) { c.Backup.Script = "" }, wantErr: true},
		{name: "zero parallel", mutate: func(c *AppConfig) { c.Backup.MaxParallel = 0 }, wantErr: true},
		{name: "bad timezone", mutate: func(c *AppConfig) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "utc timezone", mutate: func(c *AppConfig) { c.Scheduler.Timezone = "UTC" }},
		{name: "sqlite without dsn", mutate: func(c *AppConfig) { c.History.Driver = HistorySQLite }, wantErr: true},
		{
			name: "sqlite with dsn",
			mutate: func(c *AppConfig) {
				c.History.Driver = HistorySQLite
				c.History.DSN = "/app/config/history.db"
			},
		},
		{name: "unknown history driver", mutate: func(c *AppConfig) { c.History.Driver = "oracle"; c.History.DSN = "x" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.ValidateConfig()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestParseEnvBool tests the accepted truthy and falsy spellings
func TestParseEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true}, {"ON", true}, {"enabled", true}, {"1", true},
		{"false", false}, {"off", false}, {"0", false}, {"garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, parseEnvBool("TEST_BOOL", true))
		})
	}
}

// TestMaskSensitiveInfo tests secret masking
func TestMaskSensitiveInfo(t *testing.T) {
	assert.Equal(t, "[not set]", maskSensitiveInfo(""))
	assert.Equal(t, "****", maskSensitiveInfo("abc"))
	assert.Equal(t, "ro****db", maskSensitiveInfo("root:pw@tcp(db)/db"))
}
