package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"reconcile/internal/identity/models"
)

// IdentifyRequest is the HTTP request body for POST /identify.
// Validation of "at least one identifier" is left to the service.
type IdentifyRequest struct {
	Email       *string     `json:"email"`
	PhoneNumber PhoneNumber `json:"phoneNumber"`
}

// Validate implements httputil.Validatable.
func (r *IdentifyRequest) Validate() error {
	return r.ToModel().Validate()
}

// ToModel converts the body to a reconcile request. Empty strings are absent.
func (r *IdentifyRequest) ToModel() models.ReconcileRequest {
	var email models.Identifier
	if r.Email != nil {
		email = models.NewIdentifier(*r.Email)
	}
	return models.ReconcileRequest{
		Email:       email,
		PhoneNumber: models.NewIdentifier(string(r.PhoneNumber)),
	}
}

// PhoneNumber accepts a JSON string, number or null. Numbers keep their decimal
// digits so 123456 and "123456" name the same phone. A numeric zero is absent,
// like null; the string "0" is a phone.
type PhoneNumber string

func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number")
	}
	f, err := n.Float64()
	switch {
	case err == nil && f == 0:
		*p = ""
	case isDigits(n.String()):
		*p = PhoneNumber(n.String())
	case err != nil:
		return fmt.Errorf("phoneNumber is not a valid number: %w", err)
	default:
		*p = PhoneNumber(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
