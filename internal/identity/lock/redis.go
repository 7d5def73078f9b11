package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/sentinel"
)

const (
	// Redis key prefix for identifier locks
	lockKeyPrefix = "reconcile:lock:"

	defaultLockTTL      = 10 * time.Second
	defaultLockWait     = 5 * time.Second
	defaultPollInterval = 15 * time.Millisecond
)

// releaseScript deletes a lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis serializes reconcile calls that share an identifier across every instance
// pointed at the same Redis. Locks expire after ttl so a crashed holder cannot
// wedge an identifier.
type Redis struct {
	client       *redis.Client
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long an unreleased lock survives.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithWait bounds how long Acquire polls for a busy identifier.
func WithWait(wait time.Duration) RedisOption {
	return func(r *Redis) {
		if wait > 0 {
			r.wait = wait
		}
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// NewRedis constructs a Redis-backed identifier locker.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:       client,
		ttl:          defaultLockTTL,
		wait:         defaultLockWait,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Acquire takes every key with one token, in sorted order. A key still busy after
// the wait budget fails the whole call and frees whatever was already taken.
func (r *Redis) Acquire(ctx context.Context, keys []string) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}

	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	token := uuid.NewString()
	held := make([]string, 0, len(sorted))
	release := func(ctx context.Context) error {
		return r.release(ctx, held, token)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	for _, key := range sorted {
		if err := r.take(ctx, waitCtx, lockKeyPrefix+key, token); err != nil {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				err = errors.Join(err, relErr)
			}
			return nil, err
		}
		held = append(held, lockKeyPrefix+key)
	}
	return release, nil
}

// take polls for key until it is free or waitCtx ends. Only an exhausted wait
// budget reports the identifier as busy; a finished request reports a timeout.
func (r *Redis) take(ctx, waitCtx context.Context, key, token string) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(waitCtx, key, token, r.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return fmt.Errorf("set lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: request context ended")
			}
			return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeUnavailable, "identifier is locked by another request")
		}
	}
}

// release frees keys that still carry token. A lock that expired and was taken
// by someone else reports sentinel.ErrLockNotHeld.
func (r *Redis) release(ctx context.Context, keys []string, token string) error {
	var errs []error
	for i := len(keys) - 1; i >= 0; i-- {
		n, err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Int()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("release lock %s: %w", keys[i], err))
		case n == 0:
			errs = append(errs, fmt.Errorf("release lock %s: %w", keys[i], sentinel.ErrLockNotHeld))
		}
	}
	return errors.Join(errs...)
}
