package store_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"reconcile/internal/identity/models"
	"reconcile/internal/identity/service"
	"reconcile/internal/identity/store"
	"reconcile/internal/platform/database"
)

// SQLiteConcurrencySuite races reconcile units through the SQLite store. With a
// single pooled connection writers queue in database/sql; with several they queue
// on BEGIN IMMEDIATE and the busy timeout.
type SQLiteConcurrencySuite struct {
	suite.Suite
	ctx      context.Context
	maxConns int
	store    *store.SQLStore
	service  *service.Service
}

func TestSQLiteConcurrencySuite(t *testing.T) {
	for _, conns := range []int{1, 4} {
		t.Run(fmt.Sprintf("%d connections", conns), func(t *testing.T) {
			suite.Run(t, &SQLiteConcurrencySuite{maxConns: conns})
		})
	}
}

func (s *SQLiteConcurrencySuite) SetupTest() {
	s.ctx = context.Background()
	db, err := database.Open(s.ctx, database.Config{
		Driver:       "sqlite",
		DSN:          filepath.Join(s.T().TempDir(), "contacts.db"),
		MaxOpenConns: s.maxConns,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = db.Close() })

	s.Require().NoError(store.Migrate(s.ctx, db, store.DialectSQLite))
	s.store = store.NewSQLite(db)
	s.service = service.New(s.store, s.store, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *SQLiteConcurrencySuite) reconcile(email, phone string) *models.CanonicalIdentity {
	identity, err := s.service.Reconcile(s.ctx, models.ReconcileRequest{
		Email:       models.NewIdentifier(email),
		PhoneNumber: models.NewIdentifier(phone),
	})
	s.Require().NoError(err)
	return identity
}

// TestSamePairCreatesOnePrimary fires the check-then-act race on one identifier pair.
func (s *SQLiteConcurrencySuite) TestSamePairCreatesOnePrimary() {
	const goroutines = 40

	var g errgroup.Group
	results := make([]*models.CanonicalIdentity, goroutines)
	for i := range goroutines {
		g.Go(func() error {
			identity, err := s.service.Reconcile(s.ctx, models.ReconcileRequest{
				Email:       models.NewIdentifier("marty@hillvalley.edu"),
				PhoneNumber: models.NewIdentifier("1985"),
			})
			results[i] = identity
			return err
		})
	}
	s.Require().NoError(g.Wait())

	found, err := s.store.FindByEmailOrPhone(s.ctx, models.NewIdentifier("marty@hillvalley.edu"), models.Absent())
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.True(found[0].IsPrimary())
	for _, r := range results {
		s.Equal(results[0], r)
	}
}

// TestNewEmailOnSharedPhonesKeepsOnePrimary spreads one new email over three phones
// so every unit after the first either joins or bridges the same component.
func (s *SQLiteConcurrencySuite) TestNewEmailOnSharedPhonesKeepsOnePrimary() {
	var g errgroup.Group
	for i := range 40 {
		phone := fmt.Sprintf("55%d", i%3)
		g.Go(func() error {
			_, err := s.service.Reconcile(s.ctx, models.ReconcileRequest{
				Email:       models.NewIdentifier("new@x.io"),
				PhoneNumber: models.NewIdentifier(phone),
			})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	contacts := assertForest(s.T(), s.ctx, s.store)
	s.Len(contacts, 3)
	primaries := 0
	for _, c := range contacts {
		if c.IsPrimary() {
			primaries++
		}
	}
	s.Equal(1, primaries)
}

// TestConcurrentBridgingKeepsForestValid interleaves creates and merges over
// overlapping identifiers.
func (s *SQLiteConcurrencySuite) TestConcurrentBridgingKeepsForestValid() {
	emails := []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io", ""}
	phones := []string{"1", "2", "3", "4", ""}

	var g errgroup.Group
	for i := range 100 {
		email := emails[i%len(emails)]
		phone := phones[(i*3+1)%len(phones)]
		if email == "" && phone == "" {
			continue
		}
		g.Go(func() error {
			_, err := s.service.Reconcile(s.ctx, models.ReconcileRequest{
				Email:       models.NewIdentifier(email),
				PhoneNumber: models.NewIdentifier(phone),
			})
			return err
		})
	}
	s.Require().NoError(g.Wait())
	assertForest(s.T(), s.ctx, s.store)
}

// TestBridgeMergesIntoOldest runs the sequential linking story and then races
// bridges between the two components.
func (s *SQLiteConcurrencySuite) TestBridgeMergesIntoOldest() {
	s.reconcile("lorraine@hillvalley.edu", "123456")
	s.reconcile("mcfly@hillvalley.edu", "123456")
	s.reconcile("george@hillvalley.edu", "919191")
	s.reconcile("biffsucks@hillvalley.edu", "717171")

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := s.service.Reconcile(s.ctx, models.ReconcileRequest{
				Email:       models.NewIdentifier("george@hillvalley.edu"),
				PhoneNumber: models.NewIdentifier("717171"),
			})
			return err
		})
	}
	s.Require().NoError(g.Wait())

	got := s.reconcile("lorraine@hillvalley.edu", "919191")
	s.Equal(&models.CanonicalIdentity{
		PrimaryContactID:    1,
		Emails:              []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu", "george@hillvalley.edu", "biffsucks@hillvalley.edu"},
		PhoneNumbers:        []string{"123456", "919191", "717171"},
		SecondaryContactIDs: []models.ContactID{2, 3, 4},
	}, got)
	assertForest(s.T(), s.ctx, s.store)
}

// assertForest loads every stored contact and checks the at-rest shape: each
// secondary points straight at a primary that is the oldest member of its
// component, and no identifier spans two components.
func assertForest(t *testing.T, ctx context.Context, contacts service.Store) []*models.Contact {
	t.Helper()
	every := make([]models.ContactID, 500)
	for i := range every {
		every[i] = models.ContactID(i + 1)
	}
	all, err := contacts.FindByIDs(ctx, every)
	require.NoError(t, err)

	byID := make(map[models.ContactID]*models.Contact, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}
	owner := make(map[string]models.ContactID)
	for _, c := range all {
		root := c.ID
		if !c.IsPrimary() {
			require.NotNil(t, c.LinkedID, "secondary %d has no parent", c.ID)
			parent, ok := byID[*c.LinkedID]
			require.True(t, ok, "secondary %d points at missing %d", c.ID, *c.LinkedID)
			require.True(t, parent.IsPrimary(), "secondary %d points at secondary %d", c.ID, parent.ID)
			require.False(t, c.OlderThan(parent), "secondary %d is older than primary %d", c.ID, parent.ID)
			root = parent.ID
		} else {
			require.Nil(t, c.LinkedID, "primary %d has a parent", c.ID)
		}
		for _, key := range []string{"email:" + c.Email.String(), "phone:" + c.PhoneNumber.String()} {
			if key == "email:" || key == "phone:" {
				continue
			}
			if prev, ok := owner[key]; ok {
				require.Equal(t, prev, root, "%s spans components %d and %d", key, prev, root)
			}
			owner[key] = root
		}
	}
	return all
}
