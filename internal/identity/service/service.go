package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reconcile/internal/identity/metrics"
	"reconcile/internal/identity/models"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/sentinel"
	"reconcile/pkg/requestcontext"
)

const (
	outcomeCreatedPrimary   = "created_primary"
	outcomeCreatedSecondary = "created_secondary"
	outcomeMerged           = "merged"
	outcomeUnchanged        = "unchanged"
)

// Service reconciles (email, phone) observations into canonical identities.
type Service struct {
	store   Store
	tx      Transactor
	locker  IdentifierLocker
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker adds a cross-process identifier lock taken before each transaction.
func WithLocker(locker IdentifierLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// WithClock overrides time.Now for contact timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service. store serves read-only lookups; tx scopes reconciles.
func New(store Store, tx Transactor, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("reconcile/internal/identity/service"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile finds or builds the component the request belongs to, merging any
// components it bridges, and returns that component's canonical identity.
func (s *Service) Reconcile(ctx context.Context, req models.ReconcileRequest) (*models.CanonicalIdentity, error) {
	start := time.Now()
	defer s.metrics.ObserveReconcile(start)

	ctx, span := s.tracer.Start(ctx, "identity.Reconcile", trace.WithAttributes(
		attribute.Bool("request.email_present", req.Email.Present()),
		attribute.Bool("request.phone_present", req.PhoneNumber.Present()),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		s.metrics.IncrementFailure(string(dErrors.CodeOf(err)))
		return nil, err
	}

	keys := identifierKeys(req)
	if s.locker != nil {
		lockStart := time.Now()
		release, err := s.locker.Acquire(ctx, keys)
		s.metrics.ObserveLockWait(time.Since(lockStart))
		if err != nil {
			return nil, s.fail(ctx, span, fmt.Errorf("acquire identifier locks: %w", err))
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release identifier locks",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
		}()
	}

	var (
		identity *models.CanonicalIdentity
		outcome  models.Outcome
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		outcome = models.Outcome{}
		if err := store.LockIdentifiers(ctx, keys); err != nil {
			return fmt.Errorf("lock identifiers: %w", err)
		}
		var err error
		identity, err = s.reconcileInTx(ctx, store, req, &outcome)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, err)
	}

	s.record(ctx, identity, outcome)
	span.SetAttributes(
		attribute.Int64("identity.primary_contact_id", int64(identity.PrimaryContactID)),
		attribute.Int("identity.merged", outcome.Merged),
	)
	return identity, nil
}

// reconcileInTx runs the match, resolve, merge, detect and project stages against
// the transactional store.
func (s *Service) reconcileInTx(ctx context.Context, store Store, req models.ReconcileRequest, outcome *models.Outcome) (*models.CanonicalIdentity, error) {
	now := s.now()

	matches, err := findMatches(ctx, store, req)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		primary := models.NewPrimary(req.Email, req.PhoneNumber, now)
		if err := store.Create(ctx, primary); err != nil {
			return nil, fmt.Errorf("create primary: %w", err)
		}
		outcome.CreatedPrimary = true
		return project(primary.ID, []*models.Contact{primary}), nil
	}

	res, err := resolveComponents(ctx, store, matches)
	if err != nil {
		return nil, err
	}

	if res.needsMerge() {
		merged, relinked, err := mergeComponents(ctx, store, res, now)
		if err != nil {
			return nil, err
		}
		outcome.Merged = merged
		outcome.Relinked = relinked
	}

	survivorID := res.survivor.ID
	component, err := store.FindByPrimaryOrLinkedID(ctx, survivorID)
	if err != nil {
		return nil, fmt.Errorf("load component %d: %w", survivorID, err)
	}

	if hasNovelInfo(component, req) {
		secondary := models.NewSecondary(req.Email, req.PhoneNumber, survivorID, notBefore(now, component))
		if err := store.Create(ctx, secondary); err != nil {
			return nil, fmt.Errorf("create secondary: %w", err)
		}
		outcome.CreatedSecondary = true
		component = append(component, secondary)
	}

	return project(survivorID, component), nil
}

// Lookup returns the canonical identity of the component containing id. It reads
// committed state without locks; when a merge lands between its reads and demotes
// the survivor it resolves again, and after lookupAttempts it reads inside a unit.
func (s *Service) Lookup(ctx context.Context, id models.ContactID) (*models.CanonicalIdentity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Lookup", trace.WithAttributes(
		attribute.Int64("contact.id", int64(id)),
	))
	defer span.End()

	for range lookupAttempts {
		identity, err := lookupIn(ctx, s.store, id)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, errSurvivorMoved) {
			return nil, s.translate(err)
		}
		s.logger.DebugContext(ctx, "survivor demoted during lookup, resolving again",
			"request_id", requestcontext.RequestID(ctx),
			"contact_id", id,
		)
	}

	var identity *models.CanonicalIdentity
	err := s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		identity, err = lookupIn(ctx, store, id)
		return err
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return identity, nil
}

const lookupAttempts = 3

// errSurvivorMoved reports a component read that no longer has the resolved
// survivor as its primary.
var errSurvivorMoved = errors.New("survivor demoted between reads")

func lookupIn(ctx context.Context, store Store, id models.ContactID) (*models.CanonicalIdentity, error) {
	found, err := store.FindByIDs(ctx, []models.ContactID{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "contact not found")
	}

	res, err := resolveComponents(ctx, store, found)
	if err != nil {
		return nil, err
	}
	survivorID := res.survivor.ID
	component, err := store.FindByPrimaryOrLinkedID(ctx, survivorID)
	if err != nil {
		return nil, err
	}
	if !primaryIn(component, survivorID) {
		return nil, errSurvivorMoved
	}
	return project(survivorID, component), nil
}

func primaryIn(component []*models.Contact, id models.ContactID) bool {
	for _, c := range component {
		if c.ID == id {
			return c.IsPrimary()
		}
	}
	return false
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// notBefore keeps a new member from predating the component it joins, so the
// primary stays the oldest member even when clocks disagree across instances.
func notBefore(now time.Time, component []*models.Contact) time.Time {
	for _, c := range component {
		if c.CreatedAt.After(now) {
			now = c.CreatedAt
		}
	}
	return now
}

func (s *Service) record(ctx context.Context, identity *models.CanonicalIdentity, outcome models.Outcome) {
	requestID := requestcontext.RequestID(ctx)
	switch {
	case outcome.CreatedPrimary:
		s.metrics.IncrementOutcome(outcomeCreatedPrimary)
		s.logger.InfoContext(ctx, "primary contact created",
			"request_id", requestID,
			"primary_contact_id", identity.PrimaryContactID,
		)
		return
	case outcome.Merged > 0:
		s.metrics.IncrementOutcome(outcomeMerged)
		s.metrics.AddDemoted(outcome.Merged)
		s.logger.InfoContext(ctx, "contact components merged",
			"request_id", requestID,
			"primary_contact_id", identity.PrimaryContactID,
			"demoted", outcome.Merged,
			"relinked", outcome.Relinked,
		)
	case outcome.Relinked > 0:
		s.logger.WarnContext(ctx, "flattened stale contact links",
			"request_id", requestID,
			"primary_contact_id", identity.PrimaryContactID,
			"relinked", outcome.Relinked,
		)
	}

	if outcome.CreatedSecondary {
		s.metrics.IncrementOutcome(outcomeCreatedSecondary)
		s.logger.InfoContext(ctx, "secondary contact created",
			"request_id", requestID,
			"primary_contact_id", identity.PrimaryContactID,
		)
	} else if outcome.Merged == 0 {
		s.metrics.IncrementOutcome(outcomeUnchanged)
	}
}

// fail translates, records and logs a reconcile error.
func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	translated := s.translate(err)
	code := dErrors.CodeOf(translated)
	s.metrics.IncrementFailure(string(code))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))

	if code != dErrors.CodeInvalidInput {
		s.logger.ErrorContext(ctx, "reconcile failed",
			"request_id", requestcontext.RequestID(ctx),
			"code", code,
			"error", err,
		)
	}
	return translated
}

// translate maps store and lock failures onto the two error kinds callers see:
// coded client errors pass through, everything else becomes a retryable server error.
func (s *Service) translate(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "reconcile aborted: context done")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "stored contact linkage is inconsistent")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact store unavailable")
	}
}
