package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"reconcile/internal/identity/models"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect validates a dialect name from configuration.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case DialectPostgres, DialectSQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", s)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// timeArg encodes a timestamp for the dialect. SQLite keeps UTC microseconds as
// INTEGER so ordering is numeric and lossless.
func (d Dialect) timeArg(t time.Time) any {
	if d == DialectSQLite {
		return t.UTC().UnixMicro()
	}
	return t.UTC()
}

// idsClause renders "column matches any of ids" starting at placeholder n.
func (d Dialect) idsClause(column string, ids []models.ContactID, n int) (string, []any) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	if d == DialectPostgres {
		return column + " = ANY(" + d.placeholder(n) + ")", []any{pq.Array(raw)}
	}
	marks := make([]string, len(raw))
	args := make([]any, len(raw))
	for i, id := range raw {
		marks[i] = d.placeholder(n + i)
		args[i] = id
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

// txOptions is the isolation each dialect needs for a reconcile unit. SQLite
// serializes writers at BEGIN (see the _txlock DSN option) so it takes the default.
func (d Dialect) txOptions() *sql.TxOptions {
	if d == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// retryable reports whether err asks the caller to rerun the whole transaction.
func (d Dialect) retryable(err error) bool {
	if d != DialectPostgres {
		return false
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	default:
		return false
	}
}

// dbTime scans the timestamp encodings either dialect may hand back.
type dbTime struct {
	t time.Time
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.t = v.UTC()
	case int64:
		d.t = time.UnixMicro(v).UTC()
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (d *dbTime) parse(s string) error {
	if micros, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.t = time.UnixMicro(micros).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	d.t = t.UTC()
	return nil
}
