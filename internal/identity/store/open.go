package store

import (
	"context"
	"fmt"

	"reconcile/internal/identity/service"
	"reconcile/internal/platform/config"
	"reconcile/internal/platform/database"
)

// Backend is a contact store that can also run reconcile units and report health.
type Backend interface {
	service.Store
	service.Transactor
	Ping(ctx context.Context) error
}

// Open builds the backend named by cfg.Dialect. SQL backends are migrated before
// they are returned. The close func releases the connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...SQLOption) (Backend, func() error, error) {
	if cfg.Dialect == "memory" {
		return NewInMemory(), func() error { return nil }, nil
	}

	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.URL
	if dialect == DialectSQLite {
		dsn = cfg.Storage
	}
	db, err := database.Open(ctx, database.Config{
		Driver:       dialect.DriverName(),
		DSN:          dsn,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return NewSQL(db, dialect, opts...), db.Close, nil
}
