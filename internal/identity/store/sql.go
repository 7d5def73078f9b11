package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	"reconcile/internal/identity/models"
	"reconcile/internal/identity/service"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/sentinel"
	txcontext "reconcile/pkg/platform/tx"
)

const (
	defaultTxTimeout  = 5 * time.Second
	defaultMaxRetries = 5
	retryBaseDelay    = 10 * time.Millisecond

	contactColumns = `id, email, phone_number, link_precedence, linked_id, created_at, updated_at`
	ageOrder       = `ORDER BY created_at ASC, id ASC`
)

// SQLStore persists contacts in PostgreSQL or SQLite.
// This store is pure I/O; matching and merge rules live in the identity service.
type SQLStore struct {
	db         *sql.DB
	dialect    Dialect
	txTimeout  time.Duration
	maxRetries int
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithTxTimeout bounds a transaction when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithMaxRetries bounds reruns after serialization failures.
func WithMaxRetries(n int) SQLOption {
	return func(s *SQLStore) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed contact store.
func NewPostgres(db *sql.DB, opts ...SQLOption) *SQLStore {
	return newSQLStore(db, DialectPostgres, opts)
}

// NewSQLite constructs a SQLite-backed contact store. db must be opened through
// OpenSQLite (or with an equivalent DSN) so write transactions begin IMMEDIATE.
func NewSQLite(db *sql.DB, opts ...SQLOption) *SQLStore {
	return newSQLStore(db, DialectSQLite, opts)
}

// NewSQL picks the constructor for dialect.
func NewSQL(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQLStore {
	return newSQLStore(db, dialect, opts)
}

func newSQLStore(db *sql.DB, dialect Dialect, opts []SQLOption) *SQLStore {
	s := &SQLStore{
		db:         db,
		dialect:    dialect,
		txTimeout:  defaultTxTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dialect reports the backend this store speaks.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn inside one database transaction, rerunning it when Postgres
// reports a serialization failure or deadlock.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !s.dialect.retryable(err) || attempt >= s.maxRetries {
			return err
		}
		delay := retryBaseDelay<<attempt + rand.N(retryBaseDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted while retrying")
		}
	}
}

func (s *SQLStore) runOnce(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	tx, err := s.db.BeginTx(ctx, s.dialect.txOptions())
	if err != nil {
		return fmt.Errorf("begin contact transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) q(ctx context.Context) txcontext.Querier {
	return txcontext.Or(ctx, s.db)
}

func (s *SQLStore) FindByEmailOrPhone(ctx context.Context, email, phone models.Identifier) ([]*models.Contact, error) {
	var (
		clauses []string
		args    []any
	)
	if v, ok := email.Get(); ok {
		args = append(args, v)
		clauses = append(clauses, "email = "+s.dialect.placeholder(len(args)))
	}
	if v, ok := phone.Get(); ok {
		args = append(args, v)
		clauses = append(clauses, "phone_number = "+s.dialect.placeholder(len(args)))
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	where := clauses[0]
	if len(clauses) == 2 {
		where = clauses[0] + " OR " + clauses[1]
	}
	contacts, err := s.query(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+where+` `+ageOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("find contacts by email or phone: %w", err)
	}
	return contacts, nil
}

func (s *SQLStore) FindByIDs(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	clause, args := s.dialect.idsClause("id", ids, 1)
	contacts, err := s.query(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+clause+` `+ageOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("find contacts by ids: %w", err)
	}
	return contacts, nil
}

func (s *SQLStore) FindByPrimaryOrLinkedID(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ` + s.dialect.placeholder(1) +
		` OR linked_id = ` + s.dialect.placeholder(2) + ` ` + ageOrder
	contacts, err := s.query(ctx, query, int64(primaryID), int64(primaryID))
	if err != nil {
		return nil, fmt.Errorf("find component of %d: %w", primaryID, err)
	}
	return contacts, nil
}

func (s *SQLStore) Create(ctx context.Context, c *models.Contact) error {
	if c == nil {
		return fmt.Errorf("contact is required")
	}
	p := s.dialect.placeholder
	query := `
		INSERT INTO contacts (email, phone_number, link_precedence, linked_id, created_at, updated_at)
		VALUES (` + p(1) + `, ` + p(2) + `, ` + p(3) + `, ` + p(4) + `, ` + p(5) + `, ` + p(6) + `)
		RETURNING id
	`
	var id int64
	err := s.q(ctx).QueryRowContext(ctx, query,
		c.Email,
		c.PhoneNumber,
		string(c.LinkPrecedence),
		linkedArg(c.LinkedID),
		s.dialect.timeArg(c.CreatedAt),
		s.dialect.timeArg(c.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	c.ID = models.ContactID(id)
	return nil
}

func (s *SQLStore) UpdateLinkage(ctx context.Context, id models.ContactID, linkage models.Linkage, now time.Time) error {
	p := s.dialect.placeholder
	query := `UPDATE contacts SET link_precedence = ` + p(1) + `, linked_id = ` + p(2) +
		`, updated_at = ` + p(3) + ` WHERE id = ` + p(4)
	result, err := s.q(ctx).ExecContext(ctx, query,
		string(linkage.Precedence),
		linkedArg(linkage.LinkedID),
		s.dialect.timeArg(now),
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("update linkage of %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update linkage rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLStore) RelinkChildren(ctx context.Context, from, to models.ContactID, now time.Time) (int, error) {
	p := s.dialect.placeholder
	query := `UPDATE contacts SET link_precedence = ` + p(1) + `, linked_id = ` + p(2) +
		`, updated_at = ` + p(3) + ` WHERE linked_id = ` + p(4)
	result, err := s.q(ctx).ExecContext(ctx, query,
		string(models.LinkSecondary),
		int64(to),
		s.dialect.timeArg(now),
		int64(from),
	)
	if err != nil {
		return 0, fmt.Errorf("relink children of %d: %w", from, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relink children rows affected: %w", err)
	}
	return int(rows), nil
}

// LockIdentifiers takes transaction-scoped advisory locks on Postgres. Keys must
// arrive sorted so concurrent holders acquire in the same order. SQLite already
// holds the database write lock for the whole transaction.
func (s *SQLStore) LockIdentifiers(ctx context.Context, keys []string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	if _, ok := txcontext.From(ctx); !ok {
		return fmt.Errorf("advisory locks need a transaction: %w", sentinel.ErrInvalidState)
	}
	for _, key := range keys {
		if _, err := s.q(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("advisory lock %q: %w", key, err)
		}
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

type contactRow interface {
	Scan(dest ...any) error
}

func scanContact(row contactRow) (*models.Contact, error) {
	var (
		c          models.Contact
		id         int64
		precedence string
		linkedID   sql.NullInt64
		createdAt  dbTime
		updatedAt  dbTime
	)
	if err := row.Scan(&id, &c.Email, &c.PhoneNumber, &precedence, &linkedID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ID = models.ContactID(id)
	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if !c.LinkPrecedence.IsValid() {
		return nil, fmt.Errorf("contact %d has precedence %q: %w", id, precedence, sentinel.ErrInvalidState)
	}
	if linkedID.Valid {
		linked := models.ContactID(linkedID.Int64)
		c.LinkedID = &linked
	}
	c.CreatedAt = createdAt.t
	c.UpdatedAt = updatedAt.t
	return &c, nil
}

func linkedArg(id *models.ContactID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}
