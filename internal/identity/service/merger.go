package service

import (
	"context"
	"fmt"
	"time"

	"reconcile/internal/identity/models"
)

// mergeComponents folds every demoted primary into the survivor and flattens any
// stale chains so each member sits one hop below the survivor. Contacts are only
// relinked, never removed.
func mergeComponents(ctx context.Context, store Store, res *resolution, now time.Time) (merged, relinked int, err error) {
	target := res.survivor.ID
	linkage := models.SecondaryOf(target)

	for _, d := range res.demoted {
		if err := store.UpdateLinkage(ctx, d.ID, linkage, now); err != nil {
			return merged, relinked, fmt.Errorf("demote contact %d: %w", d.ID, err)
		}
		linkage.Apply(d, now)
		merged++

		n, err := store.RelinkChildren(ctx, d.ID, target, now)
		if err != nil {
			return merged, relinked, fmt.Errorf("relink children of %d: %w", d.ID, err)
		}
		relinked += n
	}

	for _, s := range res.intermediates {
		if s.LinkedID == nil || *s.LinkedID != target {
			if err := store.UpdateLinkage(ctx, s.ID, linkage, now); err != nil {
				return merged, relinked, fmt.Errorf("flatten contact %d: %w", s.ID, err)
			}
			linkage.Apply(s, now)
			relinked++
		}
		n, err := store.RelinkChildren(ctx, s.ID, target, now)
		if err != nil {
			return merged, relinked, fmt.Errorf("relink children of %d: %w", s.ID, err)
		}
		relinked += n
	}
	return merged, relinked, nil
}
