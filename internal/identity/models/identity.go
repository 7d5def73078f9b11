package models

import (
	dErrors "reconcile/pkg/domain-errors"
)

// ReconcileRequest is one (email?, phone?) observation.
type ReconcileRequest struct {
	Email       Identifier
	PhoneNumber Identifier
}

// Validate enforces that at least one identifier is present.
func (r ReconcileRequest) Validate() error {
	if !r.Email.Present() && !r.PhoneNumber.Present() {
		return dErrors.New(dErrors.CodeInvalidInput, "email or phoneNumber is required")
	}
	return nil
}

// CanonicalIdentity is the consolidated view of one component.
// Emails and PhoneNumbers start with the primary's own values when it has them.
type CanonicalIdentity struct {
	PrimaryContactID    ContactID
	Emails              []string
	PhoneNumbers        []string
	SecondaryContactIDs []ContactID
}

// Outcome records what a reconcile call changed. It is reported to metrics and logs,
// never to clients.
type Outcome struct {
	CreatedPrimary   bool
	CreatedSecondary bool
	Merged           int
	Relinked         int
}
