package lock

import (
	"context"
	"slices"

	dErrors "reconcile/pkg/domain-errors"
)

// numShards bounds the lock table; unrelated keys may share a shard.
const numShards = 128

// Local serializes reconcile calls within one process. Keys hash onto a fixed set
// of shards and a caller holds every shard its keys map to, taken in ascending
// order so overlapping key sets cannot deadlock.
type Local struct {
	shards [numShards]chan struct{}
}

// NewLocal constructs a Local locker.
func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire blocks until every shard for keys is held or ctx ends.
func (l *Local) Acquire(ctx context.Context, keys []string) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}

	shards := shardsFor(keys)
	held := make([]int, 0, len(shards))
	release := func(context.Context) error {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.shards[held[i]]
		}
		held = held[:0]
		return nil
	}

	for _, shard := range shards {
		select {
		case l.shards[shard] <- struct{}{}:
			held = append(held, shard)
		case <-ctx.Done():
			_ = release(ctx)
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "lock aborted: waiting for identifier")
		}
	}
	return release, nil
}

func shardsFor(keys []string) []int {
	shards := make([]int, 0, len(keys))
	for _, key := range keys {
		shards = append(shards, int(hashKey(key)%numShards))
	}
	slices.Sort(shards)
	return slices.Compact(shards)
}

// hashKey is 32-bit FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
