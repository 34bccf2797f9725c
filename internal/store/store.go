// Package store persists funds, NAV history, analytics, sync progress, and
// the singleton pipeline-status row in MySQL. All writes the pipeline issues
// are idempotent upserts, so re-running any sync leaves the database in the
// same state as running it once.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config describes the MySQL connection. URL wins when set; otherwise the
// DSN is assembled from the discrete fields.
type Config struct {
	URL      string `env:"MYSQL_URL"`
	Host     string `env:"MYSQL_HOST" envDefault:"localhost"`
	Port     int    `env:"MYSQL_PORT" envDefault:"3306"`
	User     string `env:"MYSQL_USER" envDefault:"root"`
	Password string `env:"MYSQL_PASSWORD"`
	Database string `env:"MYSQL_DATABASE" envDefault:"kreditbee"`

	MaxOpenConns  int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"10"`
	RetryAttempts int           `env:"MYSQL_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"MYSQL_RETRY_INTERVAL" envDefault:"5s"`
}

// DSN renders the driver connection string. parseTime makes DATE and
// TIMESTAMP columns scan into time.Time.
func (c Config) DSN() (string, error) {
	if c.URL != "" {
		cfg, err := mysql.ParseDSN(c.URL)
		if err != nil {
			return "", errors.Join(ErrInvalidConfig, err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN(), nil
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Connect opens a bounded pool and verifies it with a ping, retrying a few
// times so a restarting database does not fail startup.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	for i := range cfg.RetryAttempts {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, errors.Join(ErrConnectionFailed, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}

	_ = db.Close()
	return nil, errors.Join(ErrConnectionFailed, err)
}
