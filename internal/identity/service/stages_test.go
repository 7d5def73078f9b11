package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal/identity/models"
	"reconcile/pkg/platform/sentinel"
)

var t0 = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

// fakeStore is a bare map; it is never shared between goroutines.
type fakeStore struct {
	contacts map[models.ContactID]*models.Contact
	nextID   models.ContactID
}

func newFakeStore() *fakeStore {
	return &fakeStore{contacts: make(map[models.ContactID]*models.Contact)}
}

func (f *fakeStore) add(c *models.Contact) *models.Contact {
	_ = f.Create(context.Background(), c)
	return c
}

func (f *fakeStore) collect(match func(*models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for _, c := range f.contacts {
		if match(c) {
			out = append(out, c.Clone())
		}
	}
	models.SortByAge(out)
	return out
}

func (f *fakeStore) FindByEmailOrPhone(_ context.Context, email, phone models.Identifier) ([]*models.Contact, error) {
	return f.collect(func(c *models.Contact) bool {
		return email.Matches(c.Email) || phone.Matches(c.PhoneNumber)
	}), nil
}

func (f *fakeStore) FindByIDs(_ context.Context, ids []models.ContactID) ([]*models.Contact, error) {
	want := make(map[models.ContactID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return f.collect(func(c *models.Contact) bool { return want[c.ID] }), nil
}

func (f *fakeStore) FindByPrimaryOrLinkedID(_ context.Context, id models.ContactID) ([]*models.Contact, error) {
	return f.collect(func(c *models.Contact) bool {
		return c.ID == id || (c.LinkedID != nil && *c.LinkedID == id)
	}), nil
}

func (f *fakeStore) Create(_ context.Context, c *models.Contact) error {
	f.nextID++
	c.ID = f.nextID
	f.contacts[c.ID] = c.Clone()
	return nil
}

func (f *fakeStore) UpdateLinkage(_ context.Context, id models.ContactID, l models.Linkage, now time.Time) error {
	c, ok := f.contacts[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	l.Apply(c, now)
	return nil
}

func (f *fakeStore) RelinkChildren(_ context.Context, from, to models.ContactID, now time.Time) (int, error) {
	n := 0
	for _, c := range f.contacts {
		if c.LinkedID != nil && *c.LinkedID == from {
			models.SecondaryOf(to).Apply(c, now)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LockIdentifiers(context.Context, []string) error { return nil }

func email(v string) models.Identifier { return models.NewIdentifier(v) }
func phone(v string) models.Identifier { return models.NewIdentifier(v) }

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestResolveComponents(t *testing.T) {
	ctx := context.Background()

	t.Run("single primary needs no merge", func(t *testing.T) {
		f := newFakeStore()
		p := f.add(models.NewPrimary(email("a@x.io"), phone("1"), at(0)))
		s := f.add(models.NewSecondary(email("b@x.io"), phone("1"), p.ID, at(time.Second)))

		res, err := resolveComponents(ctx, f, []*models.Contact{p, s})
		require.NoError(t, err)
		assert.Equal(t, p.ID, res.survivor.ID)
		assert.False(t, res.needsMerge())
	})

	t.Run("oldest primary survives", func(t *testing.T) {
		f := newFakeStore()
		older := f.add(models.NewPrimary(email("a@x.io"), models.Absent(), at(0)))
		newer := f.add(models.NewPrimary(email("b@x.io"), models.Absent(), at(time.Hour)))
		child := f.add(models.NewSecondary(email("c@x.io"), models.Absent(), newer.ID, at(2*time.Hour)))

		res, err := resolveComponents(ctx, f, []*models.Contact{child, older})
		require.NoError(t, err)
		assert.Equal(t, older.ID, res.survivor.ID)
		require.Len(t, res.demoted, 1)
		assert.Equal(t, newer.ID, res.demoted[0].ID)
		assert.Empty(t, res.intermediates)
	})

	t.Run("equal timestamps break on id", func(t *testing.T) {
		f := newFakeStore()
		first := f.add(models.NewPrimary(email("a@x.io"), models.Absent(), at(0)))
		second := f.add(models.NewPrimary(email("b@x.io"), models.Absent(), at(0)))

		res, err := resolveComponents(ctx, f, []*models.Contact{second, first})
		require.NoError(t, err)
		assert.Equal(t, first.ID, res.survivor.ID)
	})

	t.Run("secondary chains resolve transitively", func(t *testing.T) {
		f := newFakeStore()
		p := f.add(models.NewPrimary(email("p@x.io"), models.Absent(), at(0)))
		mid := f.add(models.NewSecondary(email("m@x.io"), models.Absent(), p.ID, at(time.Second)))
		leaf := f.add(models.NewSecondary(email("l@x.io"), models.Absent(), mid.ID, at(2*time.Second)))

		res, err := resolveComponents(ctx, f, []*models.Contact{leaf})
		require.NoError(t, err)
		assert.Equal(t, p.ID, res.survivor.ID)
		require.Len(t, res.intermediates, 1)
		assert.Equal(t, mid.ID, res.intermediates[0].ID)
		assert.True(t, res.needsMerge())
	})

	t.Run("dangling link is invalid state", func(t *testing.T) {
		f := newFakeStore()
		orphan := f.add(models.NewSecondary(email("o@x.io"), models.Absent(), 404, at(0)))

		_, err := resolveComponents(ctx, f, []*models.Contact{orphan})
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})

	t.Run("overlong chain is invalid state", func(t *testing.T) {
		f := newFakeStore()
		prev := f.add(models.NewPrimary(email("0@x.io"), models.Absent(), at(0)))
		for i := 1; i <= maxLinkHops+1; i++ {
			prev = f.add(models.NewSecondary(email("n@x.io"), models.Absent(), prev.ID, at(time.Duration(i)*time.Second)))
		}

		_, err := resolveComponents(ctx, f, []*models.Contact{prev})
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})
}

func TestMergeComponents(t *testing.T) {
	ctx := context.Background()
	f := newFakeStore()
	survivor := f.add(models.NewPrimary(email("a@x.io"), models.Absent(), at(0)))
	demoted := f.add(models.NewPrimary(email("b@x.io"), models.Absent(), at(time.Hour)))
	f.add(models.NewSecondary(email("c@x.io"), models.Absent(), demoted.ID, at(2*time.Hour)))
	f.add(models.NewSecondary(email("d@x.io"), models.Absent(), demoted.ID, at(3*time.Hour)))

	res := &resolution{survivor: survivor, demoted: []*models.Contact{demoted}}
	merged, relinked, err := mergeComponents(ctx, f, res, at(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 2, relinked)

	component, err := f.FindByPrimaryOrLinkedID(ctx, survivor.ID)
	require.NoError(t, err)
	assert.Len(t, component, 4)
	for _, c := range component[1:] {
		assert.Equal(t, survivor.ID, *c.LinkedID)
		assert.Equal(t, at(4*time.Hour), c.UpdatedAt)
	}
	assert.Equal(t, at(time.Hour), f.contacts[demoted.ID].CreatedAt, "createdAt is immutable")
}

func TestHasNovelInfo(t *testing.T) {
	component := []*models.Contact{
		models.NewPrimary(email("a@x.io"), phone("1"), at(0)),
		models.NewSecondary(models.Absent(), phone("2"), 1, at(time.Second)),
	}

	tests := []struct {
		name  string
		req   models.ReconcileRequest
		novel bool
	}{
		{"known email", models.ReconcileRequest{Email: email("a@x.io")}, false},
		{"known pair across records", models.ReconcileRequest{Email: email("a@x.io"), PhoneNumber: phone("2")}, false},
		{"new email", models.ReconcileRequest{Email: email("b@x.io"), PhoneNumber: phone("1")}, true},
		{"new phone", models.ReconcileRequest{PhoneNumber: phone("3")}, true},
		{"email equal to a known phone is still novel", models.ReconcileRequest{Email: email("1")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.novel, hasNovelInfo(component, tt.req))
		})
	}
}

func TestProject(t *testing.T) {
	primary := models.NewPrimary(models.Absent(), phone("1"), at(time.Hour))
	primary.ID = 5
	older := models.NewSecondary(email("old@x.io"), phone("9"), 5, at(0))
	older.ID = 2
	newer := models.NewSecondary(email("new@x.io"), phone("1"), 5, at(2*time.Hour))
	newer.ID = 7

	identity := project(5, []*models.Contact{newer, older, primary})

	assert.Equal(t, models.ContactID(5), identity.PrimaryContactID)
	assert.Equal(t, []string{"old@x.io", "new@x.io"}, identity.Emails)
	assert.Equal(t, []string{"1", "9"}, identity.PhoneNumbers)
	assert.Equal(t, []models.ContactID{2, 7}, identity.SecondaryContactIDs)
}

func TestIdentifierKeys(t *testing.T) {
	assert.Equal(t, []string{"email:a@x.io", "phone:1"}, identifierKeys(models.ReconcileRequest{Email: email("a@x.io"), PhoneNumber: phone("1")}))
	assert.Equal(t, []string{"phone:1"}, identifierKeys(models.ReconcileRequest{PhoneNumber: phone("1")}))
	assert.Empty(t, identifierKeys(models.ReconcileRequest{}))
}

func TestNotBefore(t *testing.T) {
	component := []*models.Contact{
		models.NewPrimary(email("a@x.io"), models.Absent(), at(time.Hour)),
	}
	assert.Equal(t, at(time.Hour), notBefore(at(0), component))
	assert.Equal(t, at(2*time.Hour), notBefore(at(2*time.Hour), component))
}
