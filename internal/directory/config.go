package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Config holds the directory store settings.
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	Path            string        `json:"path" yaml:"path"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	RetryDelay      time.Duration `json:"retry_delay" yaml:"retry_delay"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns settings sized for a single relay node.
// FUNCTIONAL DISCOVERY: SQLite performs well with a small pool; reads are
// concurrent while writes funnel through one goroutine anyway
func DefaultConfig() *Config {
	return &Config{
		Path:            "./data/campuslink.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		RetryDelay:      5 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	return nil
}

// dsn carries the pragmas every pooled connection needs.
func (c *Config) dsn() string {
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while the
// store keeps a single writer
const sqliteOptimizations = `
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -16000;
	PRAGMA temp_store = MEMORY;
`

func applySQLiteOptimizations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqliteOptimizations)
	return err
}
