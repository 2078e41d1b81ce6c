// Package config loads process-level settings for the console and scheduler.
//
// These settings describe where the persisted backup and scheduler files live
// and how the processes behave. The operator-editable backup configuration
// itself is handled by package backupconf.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Schedule scopes
const (
	ScopeDefault = "default"
	ScopeEach    = "each"
)

// History drivers
const (
	HistoryNone   = "none"
	HistorySQLite = "sqlite"
	HistoryMySQL  = "mysql"
)

// SchedulerConfig holds scheduler process settings
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Scope        string        `yaml:"scope"`
	Timezone     string        `yaml:"timezone"`
}

// BackupConfig holds settings for invoking the backup script
type BackupConfig struct {
	Script      string        `yaml:"script"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxParallel int           `yaml:"maxParallel"`
}

// HistoryConfig holds the optional run-history database settings
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AppConfig is the complete process configuration
type AppConfig struct {
	Debug               bool            `yaml:"debug"`
	ConfigDir           string          `yaml:"configDir"`
	BackupConfigFile    string          `yaml:"backupConfigFile"`
	SchedulerConfigFile string          `yaml:"schedulerConfigFile"`
	SMBMountHelper      string          `yaml:"smbMountHelper"`
	ListenAddr          string          `yaml:"listenAddr"`
	MetricsAddr         string          `yaml:"metricsAddr"`
	Scheduler           SchedulerConfig `yaml:"scheduler"`
	Backup              BackupConfig    `yaml:"backup"`
	History             HistoryConfig   `yaml:"history"`
	Log                 LogConfig       `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() AppConfig {
	return AppConfig{
		ConfigDir:           "/app/config",
		BackupConfigFile:    "backup.conf",
		SchedulerConfigFile: "scheduler.json",
		SMBMountHelper:      "/app/scripts/mount_smb.sh",
		ListenAddr:          ":80",
		Scheduler: SchedulerConfig{
			PollInterval: 10 * time.Second,
			Scope:        ScopeDefault,
		},
		Backup: BackupConfig{
			Script:      "/app/scripts/backup.sh",
			MaxParallel: 2,
		},
		History: HistoryConfig{Driver: HistoryNone},
		Log:     LogConfig{Format: "text"},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	loadFromEnvironment(&cfg)
	return &cfg, nil
}

// loadFromEnvironment overrides cfg with any environment variables that are set
func loadFromEnvironment(cfg *AppConfig) {
	cfg.Debug = parseEnvBool("DEBUG", cfg.Debug)

	cfg.ConfigDir = getEnvOrDefault("CONFIG_DIR", cfg.ConfigDir)
	cfg.BackupConfigFile = getEnvOrDefault("BACKUP_CONFIG_FILE", cfg.BackupConfigFile)
	cfg.SchedulerConfigFile = getEnvOrDefault("SCHEDULER_CONFIG_FILE", cfg.SchedulerConfigFile)
	cfg.SMBMountHelper = getEnvOrDefault("SMB_MOUNT_HELPER", cfg.SMBMountHelper)
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", cfg.MetricsAddr)

	// Scheduler settings
	cfg.Scheduler.PollInterval = parseEnvDuration("SCHEDULER_POLL_INTERVAL", cfg.Scheduler.PollInterval)
	cfg.Scheduler.Scope = strings.ToLower(getEnvOrDefault("SCHEDULE_SCOPE", cfg.Scheduler.Scope))
	cfg.Scheduler.Timezone = getEnvOrDefault("SCHEDULER_TIMEZONE", cfg.Scheduler.Timezone)

	// Backup invocation settings
	cfg.Backup.Script = getEnvOrDefault("BACKUP_SCRIPT", cfg.Backup.Script)
	cfg.Backup.Timeout = parseEnvDuration("BACKUP_TIMEOUT", cfg.Backup.Timeout)
	cfg.Backup.MaxParallel = parseEnvInt("BACKUP_MAX_PARALLEL", cfg.Backup.MaxParallel)

	// History settings
	cfg.History.Driver = strings.ToLower(getEnvOrDefault("HISTORY_DRIVER", cfg.History.Driver))
	cfg.History.DSN = getEnvOrDefault("HISTORY_DSN", cfg.History.DSN)

	cfg.Log.Format = getEnvOrDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnvOrDefault("LOG_FILE", cfg.Log.File)
}

// BackupConfigPath returns the location of the operator backup configuration
func (c *AppConfig) BackupConfigPath() string {
	return c.resolve(c.BackupConfigFile)
}

// SchedulerConfigPath returns the location of the scheduler configuration
func (c *AppConfig) SchedulerConfigPath() string {
	return c.resolve(c.SchedulerConfigFile)
}

func (c *AppConfig) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ConfigDir, name)
}

// Location returns the time zone used for schedule evaluation.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid scheduler timezone %q", c.Scheduler.Timezone)
	}
	return loc, nil
}

// ValidateConfig validates the configuration
func (c *AppConfig) ValidateConfig() error {
	if c.ConfigDir == "" {
		return fmt.Errorf("config directory must be specified")
	}

	if c.BackupConfigFile == "" || c.SchedulerConfigFile == "" {
		return fmt.Errorf("backup and scheduler config file names must be specified")
	}

	if c.Backup.Script == "" {
		return fmt.Errorf("backup script must be specified")
	}

	if c.Backup.MaxParallel < 1 {
		return fmt.Errorf("backup max parallel must be at least 1, got %d", c.Backup.MaxParallel)
	}

	if c.Backup.Timeout < 0 {
		return fmt.Errorf("backup timeout must not be negative")
	}

	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive, got %s", c.Scheduler.PollInterval)
	}

	switch c.Scheduler.Scope {
	case ScopeDefault, ScopeEach:
	default:
		return fmt.Errorf("invalid schedule scope %q (expected %q or %q)", c.Scheduler.Scope, ScopeDefault, ScopeEach)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.History.Driver {
	case HistoryNone, "":
	case HistorySQLite, HistoryMySQL:
		if c.History.DSN == "" {
			return fmt.Errorf("history DSN must be specified when history driver is %s", c.History.Driver)
		}
	default:
		return fmt.Errorf("unsupported history driver %q", c.History.Driver)
	}

	return nil
}

// DisplayConfiguration logs the effective configuration with secrets masked
func (c *AppConfig) DisplayConfiguration(logger logrus.FieldLogger) {
	logger.WithFields(logrus.Fields{
		"debug":            c.Debug,
		"backupConfig":     c.BackupConfigPath(),
		"schedulerConfig":  c.SchedulerConfigPath(),
		"backupScript":     c.Backup.Script,
		"backupTimeout":    c.Backup.Timeout.String(),
		"maxParallel":      c.Backup.MaxParallel,
		"smbMountHelper":   c.SMBMountHelper,
		"listenAddr":       c.ListenAddr,
		"metricsAddr":      c.MetricsAddr,
		"pollInterval":     c.Scheduler.PollInterval.String(),
		"scheduleScope":    c.Scheduler.Scope,
		"scheduleTimezone": c.Scheduler.Timezone,
		"historyDriver":    c.History.Driver,
		"historyDSN":       maskSensitiveInfo(c.History.DSN),
		"logFile":          c.Log.File,
	}).Info("Configuration loaded")
}

// maskSensitiveInfo masks sensitive information for logging
func maskSensitiveInfo(info string) string {
	if info == "" {
		return "[not set]"
	}

	if len(info) <= 4 {
		return "****"
	}

	// Show first and last characters, mask the rest
	return info[:2] + "****" + info[len(info)-2:]
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value = strings.ToLower(strings.TrimSpace(value))

	switch value {
	case "1", "t", "true", "yes", "on", "enabled":
		return true
	case "0", "f", "false", "no", "off", "disabled":
		return false
	default:
		logrus.Warnf("Error parsing %s as bool: %q. Using default value: %t", key, value, defaultValue)
		return defaultValue
	}
}

func parseEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		logrus.Warnf("Error parsing %s as integer: %v. Using default value: %d", key, err, defaultValue)
		return defaultValue
	}
	return n
}

// parseEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func parseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Error parsing %s as duration: %v. Using default value: %s", key, err, defaultValue)
		return defaultValue
	}
	return d
}
