// Package database opens the SQL connection pools the contact stores run on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Config selects a driver and pool limits.
type Config struct {
	// Driver is a database/sql driver name: "postgres" or "sqlite".
	Driver string
	// DSN is a Postgres connection URL or a SQLite file path.
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects and pings. SQLite paths are expanded into a DSN that makes write
// transactions take the database lock at BEGIN and wait on contention.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	maxOpen := cfg.MaxOpenConns
	switch cfg.Driver {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres requires a connection URL")
		}
	case "sqlite":
		dsn = SQLiteDSN(dsn)
		if maxOpen <= 0 {
			maxOpen = 1
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", cfg.Driver, err)
	}
	return db, nil
}

// SQLiteDSN turns a file path (or ":memory:") into a modernc.org/sqlite DSN with
// immediate write transactions, a busy timeout, WAL and foreign keys enabled.
// Paths that already carry a query string are returned unchanged.
func SQLiteDSN(path string) string {
	if path == "" {
		path = "contacts.db"
	}
	if strings.Contains(path, "?") {
		return path
	}
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + path + "?" + params.Encode()
}
