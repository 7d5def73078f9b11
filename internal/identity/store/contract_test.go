package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/suite"

	"reconcile/internal/identity/models"
	"reconcile/internal/identity/service"
	"reconcile/pkg/platform/sentinel"
)

// contactStore is what every backend offers the identity service.
type contactStore interface {
	service.Store
	service.Transactor
}

// ContractSuite holds the behaviour every contact store must share. Backend suites
// embed it and set newStore in SetupTest.
type ContractSuite struct {
	suite.Suite
	ctx      context.Context
	store    contactStore
	newStore func() contactStore
	t0       time.Time
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.t0 = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	s.store = s.newStore()
}

func (s *ContractSuite) create(c *models.Contact) *models.Contact {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx service.Store) error {
		return tx.Create(ctx, c)
	}))
	s.Require().NotZero(c.ID)
	return c
}

func (s *ContractSuite) primary(email, phone string, offset time.Duration) *models.Contact {
	return s.create(models.NewPrimary(models.NewIdentifier(email), models.NewIdentifier(phone), s.t0.Add(offset)))
}

func (s *ContractSuite) secondary(email, phone string, primaryID models.ContactID, offset time.Duration) *models.Contact {
	return s.create(models.NewSecondary(models.NewIdentifier(email), models.NewIdentifier(phone), primaryID, s.t0.Add(offset)))
}

func ids(contacts []*models.Contact) []models.ContactID {
	out := make([]models.ContactID, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}

// TestCreateAndFind verifies created contacts round-trip with their optional fields.
func (s *ContractSuite) TestCreateAndFind() {
	s.Run("null identifiers round trip", func() {
		c := s.primary("lorraine@hillvalley.edu", "", 0)

		found, err := s.store.FindByIDs(s.ctx, []models.ContactID{c.ID})
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal("lorraine@hillvalley.edu", found[0].Email.String())
		s.False(found[0].PhoneNumber.Present())
		s.Equal(models.LinkPrimary, found[0].LinkPrecedence)
		s.Nil(found[0].LinkedID)
		s.True(s.t0.Equal(found[0].CreatedAt), "created_at %s", found[0].CreatedAt)
	})

	s.Run("ids are unique and increasing", func() {
		a := s.primary("a@x.io", "", time.Minute)
		b := s.primary("b@x.io", "", 2*time.Minute)
		s.Greater(b.ID, a.ID)
	})

	s.Run("unknown ids are skipped", func() {
		found, err := s.store.FindByIDs(s.ctx, []models.ContactID{999999})
		s.Require().NoError(err)
		s.Empty(found)
	})
}

// TestFindByEmailOrPhone verifies the OR match and oldest-first ordering.
func (s *ContractSuite) TestFindByEmailOrPhone() {
	newer := s.primary("mcfly@hillvalley.edu", "123456", time.Hour)
	older := s.primary("lorraine@hillvalley.edu", "123456", 0)
	other := s.primary("biff@hillvalley.edu", "999999", 2*time.Hour)

	s.Run("email only", func() {
		found, err := s.store.FindByEmailOrPhone(s.ctx, models.NewIdentifier("biff@hillvalley.edu"), models.Absent())
		s.Require().NoError(err)
		s.Equal([]models.ContactID{other.ID}, ids(found))
	})

	s.Run("phone only returns oldest first", func() {
		found, err := s.store.FindByEmailOrPhone(s.ctx, models.Absent(), models.NewIdentifier("123456"))
		s.Require().NoError(err)
		s.Equal([]models.ContactID{older.ID, newer.ID}, ids(found))
	})

	s.Run("either identifier matches", func() {
		found, err := s.store.FindByEmailOrPhone(s.ctx, models.NewIdentifier("biff@hillvalley.edu"), models.NewIdentifier("123456"))
		s.Require().NoError(err)
		s.Equal([]models.ContactID{older.ID, newer.ID, other.ID}, ids(found))
	})

	s.Run("no identifiers match nothing", func() {
		found, err := s.store.FindByEmailOrPhone(s.ctx, models.Absent(), models.Absent())
		s.Require().NoError(err)
		s.Empty(found)
	})
}

// TestEqualTimestampsOrderByID verifies the tie-break on created_at.
func (s *ContractSuite) TestEqualTimestampsOrderByID() {
	first := s.primary("", "555", 0)
	second := s.primary("", "555", 0)

	found, err := s.store.FindByEmailOrPhone(s.ctx, models.Absent(), models.NewIdentifier("555"))
	s.Require().NoError(err)
	s.Equal([]models.ContactID{first.ID, second.ID}, ids(found))
}

// TestLinkage verifies component lookups, demotion and bulk relinking.
func (s *ContractSuite) TestLinkage() {
	root := s.primary("george@hillvalley.edu", "919191", 0)
	other := s.primary("biffsucks@hillvalley.edu", "717171", time.Hour)
	child := s.secondary("biff@hillvalley.edu", "717171", other.ID, 2*time.Hour)

	component, err := s.store.FindByPrimaryOrLinkedID(s.ctx, other.ID)
	s.Require().NoError(err)
	s.Equal([]models.ContactID{other.ID, child.ID}, ids(component))

	later := s.t0.Add(3 * time.Hour)
	var moved int
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx service.Store) error {
		if err := tx.UpdateLinkage(ctx, other.ID, models.SecondaryOf(root.ID), later); err != nil {
			return err
		}
		var err error
		moved, err = tx.RelinkChildren(ctx, other.ID, root.ID, later)
		return err
	}))
	s.Equal(1, moved)

	component, err = s.store.FindByPrimaryOrLinkedID(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal([]models.ContactID{root.ID, other.ID, child.ID}, ids(component))
	for _, c := range component[1:] {
		s.Equal(models.LinkSecondary, c.LinkPrecedence)
		s.Require().NotNil(c.LinkedID)
		s.Equal(root.ID, *c.LinkedID)
	}
	s.True(later.Equal(component[1].UpdatedAt))

	s.Run("unknown contact is not found", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx service.Store) error {
			return tx.UpdateLinkage(ctx, 424242, models.SecondaryOf(root.ID), later)
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestRunInTxRollsBack verifies a failing unit leaves no trace.
func (s *ContractSuite) TestRunInTxRollsBack() {
	root := s.primary("doc@brown.io", "", 0)
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx service.Store) error {
		added := models.NewSecondary(models.NewIdentifier("doc@brown.io"), models.NewIdentifier("121"), root.ID, s.t0.Add(time.Hour))
		if err := tx.Create(ctx, added); err != nil {
			return err
		}
		if err := tx.UpdateLinkage(ctx, root.ID, models.SecondaryOf(added.ID), s.t0.Add(time.Hour)); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	component, err := s.store.FindByPrimaryOrLinkedID(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Require().Len(component, 1)
	s.True(component[0].IsPrimary())

	found, err := s.store.FindByEmailOrPhone(s.ctx, models.Absent(), models.NewIdentifier("121"))
	s.Require().NoError(err)
	s.Empty(found)
}

// TestRunInTxSeesOwnWrites verifies reads inside a unit observe its writes.
func (s *ContractSuite) TestRunInTxSeesOwnWrites() {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx service.Store) error {
		s.Require().NoError(tx.LockIdentifiers(ctx, []string{"email:marty@hillvalley.edu"}))
		c := models.NewPrimary(models.NewIdentifier("marty@hillvalley.edu"), models.Absent(), s.t0)
		if err := tx.Create(ctx, c); err != nil {
			return err
		}
		found, err := tx.FindByEmailOrPhone(ctx, models.NewIdentifier("marty@hillvalley.edu"), models.Absent())
		if err != nil {
			return err
		}
		s.Equal([]models.ContactID{c.ID}, ids(found))
		return nil
	}))
}

// TestRunInTxHonoursCancelledContext verifies a dead context never opens a unit.
func (s *ContractSuite) TestRunInTxHonoursCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	called := false
	err := s.store.RunInTx(ctx, func(context.Context, service.Store) error {
		called = true
		return nil
	})
	s.Error(err)
	s.False(called)
}
