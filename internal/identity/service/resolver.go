package service

import (
	"context"
	"fmt"
	"slices"

	"reconcile/internal/identity/models"
	"reconcile/pkg/platform/sentinel"
)

// maxLinkHops bounds how far a stale secondary chain is followed before the
// linkage is declared corrupt.
const maxLinkHops = 16

// resolution is the outcome of resolving a match set to its components.
type resolution struct {
	// survivor is the oldest primary touched; it roots the merged component.
	survivor *models.Contact
	// demoted are the other touched primaries, oldest first.
	demoted []*models.Contact
	// intermediates are secondaries that other secondaries point at. They only
	// exist when earlier writes left a chain behind.
	intermediates []*models.Contact
}

func (r *resolution) needsMerge() bool {
	return len(r.demoted) > 0 || len(r.intermediates) > 0
}

// resolveComponents maps every match to the primary owning it and picks the oldest
// primary as survivor. Secondary-to-secondary links are followed transitively so a
// corrupted chain is repaired by the merge rather than failing the call.
func resolveComponents(ctx context.Context, store Store, matches []*models.Contact) (*resolution, error) {
	known := make(map[models.ContactID]*models.Contact, len(matches))
	for _, c := range matches {
		known[c.ID] = c
	}

	intermediates := make(map[models.ContactID]*models.Contact)
	pending := ownersToFetch(matches, known)
	for hop := 0; len(pending) > 0; hop++ {
		if hop >= maxLinkHops {
			return nil, fmt.Errorf("resolve components: link chain exceeds %d hops: %w", maxLinkHops, sentinel.ErrInvalidState)
		}
		fetched, err := store.FindByIDs(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("resolve components: %w", err)
		}
		if len(fetched) != len(pending) {
			return nil, fmt.Errorf("resolve components: linked contact missing: %w", sentinel.ErrInvalidState)
		}
		for _, c := range fetched {
			known[c.ID] = c
			if !c.IsPrimary() {
				intermediates[c.ID] = c
			}
		}
		pending = ownersToFetch(fetched, known)
	}

	rootIDs := make(map[models.ContactID]struct{})
	for _, c := range matches {
		root, err := rootOf(c, known)
		if err != nil {
			return nil, err
		}
		rootIDs[root.ID] = struct{}{}
	}

	roots := make([]*models.Contact, 0, len(rootIDs))
	for id := range rootIDs {
		roots = append(roots, known[id])
	}
	models.SortByAge(roots)

	res := &resolution{
		survivor: roots[0],
		demoted:  roots[1:],
	}
	for _, c := range intermediates {
		res.intermediates = append(res.intermediates, c)
	}
	models.SortByAge(res.intermediates)
	return res, nil
}

// ownersToFetch lists the linked ids of secondaries in contacts that are not yet known.
func ownersToFetch(contacts []*models.Contact, known map[models.ContactID]*models.Contact) []models.ContactID {
	var ids []models.ContactID
	for _, c := range contacts {
		if c.IsPrimary() || c.LinkedID == nil {
			continue
		}
		if _, ok := known[*c.LinkedID]; ok {
			continue
		}
		if !slices.Contains(ids, *c.LinkedID) {
			ids = append(ids, *c.LinkedID)
		}
	}
	slices.Sort(ids)
	return ids
}

// rootOf walks c's links up to its primary.
func rootOf(c *models.Contact, known map[models.ContactID]*models.Contact) (*models.Contact, error) {
	current := c
	for hops := 0; !current.IsPrimary(); hops++ {
		if hops >= maxLinkHops || current.LinkedID == nil {
			return nil, fmt.Errorf("contact %d: broken link chain: %w", c.ID, sentinel.ErrInvalidState)
		}
		next, ok := known[*current.LinkedID]
		if !ok {
			return nil, fmt.Errorf("contact %d: linked contact %d missing: %w", c.ID, *current.LinkedID, sentinel.ErrInvalidState)
		}
		current = next
	}
	return current, nil
}
