package locker

import (
	"context"
	"errors"
)

var (
	// ErrNotAcquired is returned when the lock could not be taken before the context ended.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrEmptyKey is returned for an empty lock key.
	ErrEmptyKey = errors.New("lock key is required")
)

// Locker serializes work on a key. Lock blocks until the lock is held or ctx
// is done. The returned release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}
