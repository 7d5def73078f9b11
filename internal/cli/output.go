package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"reconcile/internal/identity/handler"
	"reconcile/internal/identity/models"
)

// writeIdentity prints identity in the same shape the HTTP API returns.
func writeIdentity(w io.Writer, format string, identity *models.CanonicalIdentity) error {
	resp := handler.FromIdentity(identity)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	secondaries := make([]string, len(resp.Contact.SecondaryContactIDs))
	for i, id := range resp.Contact.SecondaryContactIDs {
		secondaries[i] = strconv.FormatInt(id, 10)
	}
	_, err := fmt.Fprintf(w, "primary:      %d\nemails:       %s\nphones:       %s\nsecondaries:  %s\n",
		resp.Contact.PrimaryContactID,
		strings.Join(resp.Contact.Emails, ", "),
		strings.Join(resp.Contact.PhoneNumbers, ", "),
		strings.Join(secondaries, ", "),
	)
	return err
}
