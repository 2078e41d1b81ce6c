// Package mysql tests connectivity to a configured database target.
package mysql

import (
	"context"
	"database/sql"
	"net"
	"slices"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
	"github.com/supporttools/GoSQLConsole/pkg/backupconf"
)

const (
	defaultHost    = "localhost"
	defaultPort    = "3306"
	defaultTimeout = 10 * time.Second
)

// systemSchemas are never reported as backup candidates.
var systemSchemas = []string{"information_schema", "mysql", "performance_schema", "sys"}

// OpenFunc opens a database handle for a DSN.
type OpenFunc func(dsn string) (*sql.DB, error)

func openMySQL(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// Prober checks that a target accepts connections with its credentials.
type Prober struct {
	open    OpenFunc
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewProber returns a prober using the MySQL driver.
func NewProber(logger logrus.FieldLogger) *Prober {
	return &Prober{
		open:    openMySQL,
		timeout: defaultTimeout,
		logger:  logger.WithField("component", "mysql"),
	}
}

// WithOpener replaces the function used to open connections.
func (p *Prober) WithOpener(open OpenFunc) *Prober {
	p.open = open
	return p
}

// WithTimeout sets the overall deadline of one probe.
func (p *Prober) WithTimeout(d time.Duration) *Prober {
	p.timeout = d
	return p
}

// ProbeResult is what a successful probe learned about the server.
type ProbeResult struct {
	DatabaseID    string        `json:"database_id"`
	Address       string        `json:"address"`
	ServerVersion string        `json:"server_version"`
	Databases     []string      `json:"databases"`
	Latency       time.Duration `json:"latency"`
}

// DSN builds the driver connection string for a target. The configured
// schema is not selected so that a missing schema can be reported by name.
func DSN(t backupconf.DatabaseTarget) string {
	cfg := mysql.NewConfig()
	cfg.User = t.User
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = Address(t)
	cfg.Timeout = 5 * time.Second
	cfg.ReadTimeout = 30 * time.Second
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Address returns host:port for a target, with defaults for empty fields.
func Address(t backupconf.DatabaseTarget) string {
	host, port := t.Host, t.Port
	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// Test connects to the target, reads the server version and lists the
// non-system schemas. When the target names a schema it must exist.
func (p *Prober) Test(ctx context.Context, t backupconf.DatabaseTarget) (ProbeResult, error) {
	res := ProbeResult{DatabaseID: t.ID, Address: Address(t)}
	log := p.logger.WithFields(logrus.Fields{
		"database": t.ID,
		"address":  res.Address,
	})

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	db, err := p.open(DSN(t))
	if err != nil {
		return res, errors.Wrapf(err, "failed to open MySQL connection to %s", res.Address)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Warn("MySQL connection test failed")
		return res, errors.Wrapf(err, "failed to ping MySQL server at %s", res.Address)
	}
	res.Latency = time.Since(start)

	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&res.ServerVersion); err != nil {
		return res, errors.Wrap(err, "failed to read server version")
	}

	res.Databases, err = listDatabases(ctx, db)
	if err != nil {
		return res, err
	}

	if t.Database != "" && !slices.Contains(res.Databases, t.Database) {
		log.WithField("schema", t.Database).Warn("Configured schema not found on server")
		return res, apperrors.NotFound("schema", t.Database)
	}

	log.WithFields(logrus.Fields{
		"version": res.ServerVersion,
		"schemas": len(res.Databases),
		"latency": res.Latency.String(),
	}).Info("MySQL connection test succeeded")
	return res, nil
}

func listDatabases(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list databases")
	}
	defer rows.Close()

	databases := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan database name")
		}
		if slices.Contains(systemSchemas, name) {
			continue
		}
		databases = append(databases, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating database rows")
	}
	return databases, nil
}
