package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"reconcile/internal/identity/models"
	"reconcile/internal/identity/service"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/sentinel"
)

// InMemory keeps contacts in process memory. Transactions are serialized by a
// store-wide semaphore and run against a private copy that replaces the committed
// state only when fn succeeds, so readers never see a partial merge.
type InMemory struct {
	sem chan struct{}

	mu        sync.RWMutex
	committed *memState
}

// NewInMemory constructs an empty in-memory contact store.
func NewInMemory() *InMemory {
	return &InMemory{
		sem:       make(chan struct{}, 1),
		committed: &memState{contacts: make(map[models.ContactID]*models.Contact)},
	}
}

// RunInTx runs fn with exclusive write access. Errors discard every write fn made.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted: waiting for writer slot")
	}
	defer func() { <-s.sem }()

	s.mu.RLock()
	working := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{state: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}

	s.mu.Lock()
	s.committed = working
	s.mu.Unlock()
	return nil
}

func (s *InMemory) FindByEmailOrPhone(_ context.Context, email, phone models.Identifier) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.findByEmailOrPhone(email, phone), nil
}

func (s *InMemory) FindByIDs(_ context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.findByIDs(ids), nil
}

func (s *InMemory) FindByPrimaryOrLinkedID(_ context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.findByPrimaryOrLinkedID(primaryID), nil
}

// Create, UpdateLinkage and RelinkChildren outside RunInTx each commit on their own.
func (s *InMemory) Create(ctx context.Context, c *models.Contact) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx service.Store) error {
		return tx.Create(ctx, c)
	})
}

func (s *InMemory) UpdateLinkage(ctx context.Context, id models.ContactID, linkage models.Linkage, now time.Time) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx service.Store) error {
		return tx.UpdateLinkage(ctx, id, linkage, now)
	})
}

func (s *InMemory) RelinkChildren(ctx context.Context, from, to models.ContactID, now time.Time) (int, error) {
	var n int
	err := s.RunInTx(ctx, func(ctx context.Context, tx service.Store) error {
		var err error
		n, err = tx.RelinkChildren(ctx, from, to, now)
		return err
	})
	return n, err
}

func (s *InMemory) LockIdentifiers(context.Context, []string) error {
	return nil
}

// Count returns the number of committed contacts.
func (s *InMemory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.committed.contacts)
}

// Ping satisfies the health check contract.
func (s *InMemory) Ping(context.Context) error {
	return nil
}

// memTx is the Store view handed to RunInTx callbacks. It is owned by a single
// goroutine for the duration of the transaction.
type memTx struct {
	state *memState
}

func (t *memTx) FindByEmailOrPhone(_ context.Context, email, phone models.Identifier) ([]*models.Contact, error) {
	return t.state.findByEmailOrPhone(email, phone), nil
}

func (t *memTx) FindByIDs(_ context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	return t.state.findByIDs(ids), nil
}

func (t *memTx) FindByPrimaryOrLinkedID(_ context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	return t.state.findByPrimaryOrLinkedID(primaryID), nil
}

func (t *memTx) Create(_ context.Context, c *models.Contact) error {
	t.state.nextID++
	c.ID = t.state.nextID
	t.state.contacts[c.ID] = c.Clone()
	return nil
}

func (t *memTx) UpdateLinkage(_ context.Context, id models.ContactID, linkage models.Linkage, now time.Time) error {
	c, ok := t.state.contacts[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	updated := c.Clone()
	linkage.Apply(updated, now)
	t.state.contacts[id] = updated
	return nil
}

func (t *memTx) RelinkChildren(_ context.Context, from, to models.ContactID, now time.Time) (int, error) {
	moved := 0
	for id, c := range t.state.contacts {
		if c.LinkedID == nil || *c.LinkedID != from {
			continue
		}
		updated := c.Clone()
		models.SecondaryOf(to).Apply(updated, now)
		t.state.contacts[id] = updated
		moved++
	}
	return moved, nil
}

func (t *memTx) LockIdentifiers(context.Context, []string) error {
	return nil
}

// memState is an immutable-by-convention snapshot: contacts are replaced, never
// mutated, so clone only copies the map.
type memState struct {
	contacts map[models.ContactID]*models.Contact
	nextID   models.ContactID
}

func (st *memState) clone() *memState {
	return &memState{contacts: maps.Clone(st.contacts), nextID: st.nextID}
}

func (st *memState) collect(match func(c *models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for _, c := range st.contacts {
		if match(c) {
			out = append(out, c.Clone())
		}
	}
	models.SortByAge(out)
	return out
}

func (st *memState) findByEmailOrPhone(email, phone models.Identifier) []*models.Contact {
	return st.collect(func(c *models.Contact) bool {
		return email.Matches(c.Email) || phone.Matches(c.PhoneNumber)
	})
}

func (st *memState) findByIDs(ids []models.ContactID) []*models.Contact {
	var out []*models.Contact
	for _, id := range ids {
		if c, ok := st.contacts[id]; ok {
			out = append(out, c.Clone())
		}
	}
	models.SortByAge(out)
	return out
}

func (st *memState) findByPrimaryOrLinkedID(primaryID models.ContactID) []*models.Contact {
	return st.collect(func(c *models.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	})
}
