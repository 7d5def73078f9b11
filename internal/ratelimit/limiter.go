// Package ratelimit bounds how often one client may call a write endpoint, using a
// sliding window kept in Redis or in process memory.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"reconcile/pkg/platform/circuit"
)

// Result describes one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a slot frees; set only when denied.
	RetryAfter int
	// Degraded is set when the decision came from the in-memory fallback.
	Degraded bool
}

// Store counts events per key over a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Limiter applies one limit to every key. When the primary store keeps failing
// the breaker opens and decisions come from a process-local window until the
// primary has answered successThreshold times in a row.
type Limiter struct {
	primary  Store
	fallback *InMemory
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Limiter) {
		if b != nil {
			l.breaker = b
		}
	}
}

// New creates a limiter allowing limit events per window for each key.
func New(primary Store, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: NewInMemory(),
		breaker:  circuit.New("rate-limit-store", circuit.WithSuccessThreshold(3)),
		limit:    limit,
		window:   window,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one event for key. An error means neither store could decide.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	res, err := l.primary.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		useFallback, change := l.breaker.RecordFailure()
		if change.Opened {
			l.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
				"breaker", l.breaker.Name(),
				"error", err,
			)
		}
		if !useFallback {
			return nil, err
		}
		return l.fromFallback(ctx, key)
	}

	usePrimary, change := l.breaker.RecordSuccess()
	if change.Closed {
		l.logger.InfoContext(ctx, "rate limit store recovered", "breaker", l.breaker.Name())
	}
	if !usePrimary {
		return l.fromFallback(ctx, key)
	}
	return res, nil
}

func (l *Limiter) fromFallback(ctx context.Context, key string) (*Result, error) {
	res, err := l.fallback.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	res.Degraded = true
	return res, nil
}
