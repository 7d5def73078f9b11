package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/circuit"
)

const (
	defaultProbeInterval = time.Second
	probeTimeout         = 500 * time.Millisecond
)

// Failover takes identifier locks in Redis and drops to in-process locks while
// Redis is unreachable. The database transaction still serializes writers, so a
// degraded instance stays correct and only loses cross-instance queueing.
type Failover struct {
	redis   *Redis
	local   *Local
	breaker *circuit.Breaker
	logger  *slog.Logger

	probeInterval time.Duration
	mu            sync.Mutex
	lastProbe     time.Time
}

type FailoverOption func(*Failover)

func WithBreaker(b *circuit.Breaker) FailoverOption {
	return func(f *Failover) {
		if b != nil {
			f.breaker = b
		}
	}
}

// WithProbeInterval spaces out Redis health probes while the breaker is open.
func WithProbeInterval(d time.Duration) FailoverOption {
	return func(f *Failover) {
		if d > 0 {
			f.probeInterval = d
		}
	}
}

// NewFailover wraps a Redis locker with a local fallback.
func NewFailover(r *Redis, logger *slog.Logger, opts ...FailoverOption) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Failover{
		redis:         r,
		local:         NewLocal(),
		breaker:       circuit.New("redis-identifier-locks"),
		logger:        logger,
		probeInterval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Failover) Acquire(ctx context.Context, keys []string) (func(context.Context) error, error) {
	if f.breaker.IsOpen() && !f.probe(ctx) {
		return f.local.Acquire(ctx, keys)
	}

	release, err := f.redis.Acquire(ctx, keys)
	if _, coded := dErrors.As(err); err == nil || coded {
		// Redis answered; a busy identifier is not an outage.
		f.recordSuccess(ctx)
		return release, err
	}

	f.recordFailure(ctx, err)
	return f.local.Acquire(ctx, keys)
}

// probe pings Redis at most once per probeInterval and reports whether locks may
// go back to Redis.
func (f *Failover) probe(ctx context.Context) bool {
	f.mu.Lock()
	if time.Since(f.lastProbe) < f.probeInterval {
		f.mu.Unlock()
		return false
	}
	f.lastProbe = time.Now()
	f.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()
	if err := f.redis.client.Ping(pingCtx).Err(); err != nil {
		f.breaker.RecordFailure()
		return false
	}
	return f.recordSuccess(ctx)
}

func (f *Failover) recordSuccess(ctx context.Context) bool {
	usePrimary, change := f.breaker.RecordSuccess()
	if change.Closed {
		f.logger.InfoContext(ctx, "redis reachable again, identifier locks restored", "breaker", f.breaker.Name())
	}
	return usePrimary
}

func (f *Failover) recordFailure(ctx context.Context, err error) {
	_, change := f.breaker.RecordFailure()
	if change.Opened {
		f.logger.WarnContext(ctx, "redis unreachable, identifier locks are process-local",
			"breaker", f.breaker.Name(),
			"error", err,
		)
		return
	}
	f.logger.DebugContext(ctx, "redis lock failed, using local lock", "error", err)
}
