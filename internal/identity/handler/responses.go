package handler

import (
	"reconcile/internal/identity/models"
)

// IdentifyResponse is the HTTP response for POST /identify and GET /contacts/{id}.
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// FromIdentity converts a canonical identity to its wire form. Empty lists encode
// as [] rather than null.
func FromIdentity(identity *models.CanonicalIdentity) *IdentifyResponse {
	resp := &IdentifyResponse{
		Contact: ContactResponse{
			PrimaryContactID:    int64(identity.PrimaryContactID),
			Emails:              nonNil(identity.Emails),
			PhoneNumbers:        nonNil(identity.PhoneNumbers),
			SecondaryContactIDs: make([]int64, len(identity.SecondaryContactIDs)),
		},
	}
	for i, id := range identity.SecondaryContactIDs {
		resp.Contact.SecondaryContactIDs[i] = int64(id)
	}
	return resp
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
