package service

import (
	"context"
	"fmt"

	"reconcile/internal/identity/models"
	"reconcile/pkg/platform/strings"
)

// findMatches returns every stored contact sharing the request's email or phone,
// oldest first.
func findMatches(ctx context.Context, store Store, req models.ReconcileRequest) ([]*models.Contact, error) {
	matches, err := store.FindByEmailOrPhone(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("find matches: %w", err)
	}
	models.SortByAge(matches)
	return matches, nil
}

// identifierKeys derives the lock keys for a request in acquisition order.
func identifierKeys(req models.ReconcileRequest) []string {
	keys := make([]string, 0, 2)
	if email, ok := req.Email.Get(); ok {
		keys = append(keys, "email:"+email)
	}
	if phone, ok := req.PhoneNumber.Get(); ok {
		keys = append(keys, "phone:"+phone)
	}
	return strings.SortedUnique(keys)
}
