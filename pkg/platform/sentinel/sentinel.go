package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and lock backends return these
// (optionally wrapped) so the reconcile service can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: contact does not exist in the store
// - ErrInvalidState: stored linkage breaks the primary/secondary shape
// - ErrUnavailable: store or lock backend temporarily unavailable
// - ErrLockNotHeld: a lock could not be acquired or was lost before release
//
// For validation errors (missing identifiers), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLockNotHeld  = errors.New("lock not held")
)
