package service

import (
	"reconcile/internal/identity/models"
)

// hasNovelInfo reports whether req carries a present email or phone that no member
// of component already holds.
func hasNovelInfo(component []*models.Contact, req models.ReconcileRequest) bool {
	emails := make(map[string]struct{}, len(component))
	phones := make(map[string]struct{}, len(component))
	for _, c := range component {
		if v, ok := c.Email.Get(); ok {
			emails[v] = struct{}{}
		}
		if v, ok := c.PhoneNumber.Get(); ok {
			phones[v] = struct{}{}
		}
	}

	if v, ok := req.Email.Get(); ok {
		if _, seen := emails[v]; !seen {
			return true
		}
	}
	if v, ok := req.PhoneNumber.Get(); ok {
		if _, seen := phones[v]; !seen {
			return true
		}
	}
	return false
}
