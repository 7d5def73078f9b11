package service

import (
	"reconcile/internal/identity/models"
	"reconcile/pkg/platform/strings"
)

// project assembles the canonical identity of the component rooted at primaryID.
// The primary's own values lead both lists; everything else follows in age order.
func project(primaryID models.ContactID, component []*models.Contact) *models.CanonicalIdentity {
	ordered := make([]*models.Contact, 0, len(component))
	var primary *models.Contact
	for _, c := range component {
		if c.ID == primaryID {
			primary = c
			continue
		}
		ordered = append(ordered, c)
	}
	models.SortByAge(ordered)
	if primary != nil {
		ordered = append([]*models.Contact{primary}, ordered...)
	}

	emails := make([]string, 0, len(ordered))
	phones := make([]string, 0, len(ordered))
	secondaryIDs := make([]models.ContactID, 0, len(ordered))
	for _, c := range ordered {
		emails = append(emails, c.Email.String())
		phones = append(phones, c.PhoneNumber.String())
		if !c.IsPrimary() {
			secondaryIDs = append(secondaryIDs, c.ID)
		}
	}

	return &models.CanonicalIdentity{
		PrimaryContactID:    primaryID,
		Emails:              strings.Dedupe(emails),
		PhoneNumbers:        strings.Dedupe(phones),
		SecondaryContactIDs: secondaryIDs,
	}
}
