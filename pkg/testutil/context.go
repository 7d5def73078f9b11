package testutil

import (
	"net/http"

	"reconcile/pkg/requestcontext"
)

// WithRequestID attaches a request id the way the RequestID middleware does.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
