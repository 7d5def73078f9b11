package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"reconcile/internal/identity/models"
	"reconcile/internal/platform/middleware"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/httputil"
)

// Service defines the identity operations the HTTP layer needs.
type Service interface {
	Reconcile(ctx context.Context, req models.ReconcileRequest) (*models.CanonicalIdentity, error)
	Lookup(ctx context.Context, id models.ContactID) (*models.CanonicalIdentity, error)
}

// Handler handles the identity endpoints.
type Handler struct {
	logger     *slog.Logger
	service    Service
	identifyMW []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithIdentifyMiddleware wraps only POST /identify, e.g. with a rate limit.
func WithIdentifyMiddleware(mws ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.identifyMW = append(h.identifyMW, mws...)
	}
}

// New creates a new identity Handler.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:  logger,
		service: service,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.With(h.identifyMW...).Post("/identify", h.HandleIdentify)
		r.Get("/contacts/{id}", h.HandleGetContact)
	})
}

// HandleIdentify reconciles one (email, phoneNumber) observation and returns the
// canonical identity it belongs to.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IdentifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	identity, err := h.service.Reconcile(ctx, req.ToModel())
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to reconcile contact")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromIdentity(identity))
}

// HandleGetContact returns the canonical identity of the component containing
// the contact in the path.
func (h *Handler) HandleGetContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.WarnContext(ctx, "invalid contact id",
			"request_id", middleware.GetRequestID(ctx),
			"id", raw,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "contact id must be a positive integer"))
		return
	}

	identity, err := h.service.Lookup(ctx, models.ContactID(id))
	if err != nil {
		h.writeServiceError(ctx, w, err, "failed to look up contact")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromIdentity(identity))
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
