package service

import (
	"context"
	"time"

	"reconcile/internal/identity/models"
)

// Store is the contact persistence contract. Every finder returns contacts oldest
// first (CreatedAt ascending, ties broken by id).
type Store interface {
	// FindByEmailOrPhone returns contacts whose email equals email or whose phone
	// equals phone. Absent identifiers contribute no clause.
	FindByEmailOrPhone(ctx context.Context, email, phone models.Identifier) ([]*models.Contact, error)
	FindByIDs(ctx context.Context, ids []models.ContactID) ([]*models.Contact, error)
	// FindByPrimaryOrLinkedID returns the contact with primaryID plus every contact
	// linked to it.
	FindByPrimaryOrLinkedID(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error)
	// Create persists c and assigns its ID.
	Create(ctx context.Context, c *models.Contact) error
	// UpdateLinkage rewrites one contact's precedence and parent pointer.
	UpdateLinkage(ctx context.Context, id models.ContactID, linkage models.Linkage, now time.Time) error
	// RelinkChildren re-points every contact linked to from onto to and reports how
	// many rows moved.
	RelinkChildren(ctx context.Context, from, to models.ContactID, now time.Time) (int, error)
	// LockIdentifiers takes transaction-scoped locks on identifier keys. Backends whose
	// transactions already serialize writers treat it as a no-op.
	LockIdentifiers(ctx context.Context, keys []string) error
}

// Transactor runs fn as one atomic unit. Any error from fn rolls every write back.
// Implementations may call fn more than once when the backend asks for a retry, so
// fn must not leak side effects outside the store it is handed.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// IdentifierLocker serializes reconcile calls that share an identifier key across
// processes. It is optional; the Transactor alone is sufficient within one database.
type IdentifierLocker interface {
	Acquire(ctx context.Context, keys []string) (release func(context.Context) error, err error)
}
