package models

import (
	"slices"
	"time"

	dErrors "reconcile/pkg/domain-errors"
)

// ContactID is the store-assigned, immutable contact key.
type ContactID int64

// LinkPrecedence marks a contact as the root of its component or a leaf under it.
type LinkPrecedence string

const (
	LinkPrimary   LinkPrecedence = "primary"
	LinkSecondary LinkPrecedence = "secondary"
)

// IsValid reports whether p is a known precedence.
func (p LinkPrecedence) IsValid() bool {
	return p == LinkPrimary || p == LinkSecondary
}

// Contact is one observation of a person's email and/or phone number.
//
// Invariants:
//   - LinkPrecedence is primary with LinkedID nil, or secondary with LinkedID set
//   - a secondary's LinkedID names a primary (one hop, never a chain)
//   - ID and CreatedAt never change after creation
//   - the primary of a component is its oldest member
type Contact struct {
	ID             ContactID      `json:"id"`
	Email          Identifier     `json:"email"`
	PhoneNumber    Identifier     `json:"phoneNumber"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	LinkedID       *ContactID     `json:"linkedId"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// NewPrimary builds an unsaved primary contact.
func NewPrimary(email, phone Identifier, now time.Time) *Contact {
	return &Contact{
		Email:          email,
		PhoneNumber:    phone,
		LinkPrecedence: LinkPrimary,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewSecondary builds an unsaved secondary contact linked to primaryID.
func NewSecondary(email, phone Identifier, primaryID ContactID, now time.Time) *Contact {
	linked := primaryID
	return &Contact{
		Email:          email,
		PhoneNumber:    phone,
		LinkPrecedence: LinkSecondary,
		LinkedID:       &linked,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrimary
}

// OwnerID is the contact's own id when primary, otherwise the id it links to.
func (c *Contact) OwnerID() ContactID {
	if c.IsPrimary() || c.LinkedID == nil {
		return c.ID
	}
	return *c.LinkedID
}

// OlderThan orders contacts by CreatedAt, breaking ties by the lower id.
func (c *Contact) OlderThan(other *Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Validate checks the precedence/link shape of a single record.
func (c *Contact) Validate() error {
	if !c.Email.Present() && !c.PhoneNumber.Present() {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact needs an email or a phone number")
	}
	switch c.LinkPrecedence {
	case LinkPrimary:
		if c.LinkedID != nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "primary contact cannot be linked")
		}
	case LinkSecondary:
		if c.LinkedID == nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "secondary contact must be linked")
		}
		if *c.LinkedID == c.ID && c.ID != 0 {
			return dErrors.New(dErrors.CodeInvariantViolation, "contact cannot link to itself")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown link precedence: "+string(c.LinkPrecedence))
	}
	return nil
}

// Linkage is the mutable part of a contact: its precedence and parent pointer.
type Linkage struct {
	Precedence LinkPrecedence
	LinkedID   *ContactID
}

// SecondaryOf returns the linkage that attaches a contact under primaryID.
func SecondaryOf(primaryID ContactID) Linkage {
	linked := primaryID
	return Linkage{Precedence: LinkSecondary, LinkedID: &linked}
}

// Apply updates c's linkage in place.
func (l Linkage) Apply(c *Contact, now time.Time) {
	c.LinkPrecedence = l.Precedence
	if l.LinkedID == nil {
		c.LinkedID = nil
	} else {
		linked := *l.LinkedID
		c.LinkedID = &linked
	}
	c.UpdatedAt = now
}

// SortByAge orders contacts oldest first in place.
func SortByAge(contacts []*Contact) {
	slices.SortFunc(contacts, func(a, b *Contact) int {
		switch {
		case a.OlderThan(b):
			return -1
		case b.OlderThan(a):
			return 1
		default:
			return 0
		}
	})
}

// Clone returns a deep copy of c.
func (c *Contact) Clone() *Contact {
	cp := *c
	if c.LinkedID != nil {
		linked := *c.LinkedID
		cp.LinkedID = &linked
	}
	return &cp
}
