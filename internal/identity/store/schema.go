package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates the contacts table and its lookup indexes if they are missing.
// Every statement is idempotent so it runs on each start.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	raw, err := migrations.ReadFile("migrations/" + string(dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read %s schema: %w", dialect, err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", dialect, err)
		}
	}
	return nil
}
