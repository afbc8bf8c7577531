// Package lock provides the shared run-lock that serializes overlapping
// monitor ticks.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is held by another owner.
// For the tick engine this is not an error condition: the tick is
// abandoned for the cycle, never queued.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker is the shared lock service boundary: acquire-with-TTL and
// token-checked release, keyed by a fixed lock name. The TTL must be
// shorter than the tick interval so a crashed holder cannot wedge the
// schedule.
type Locker interface {
	// Acquire takes the named lock for at most ttl. Returns an opaque
	// token identifying this ownership, or ErrNotAcquired.
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, err error)

	// Release frees the named lock if token still owns it. Releasing a
	// lock that expired or was re-acquired by a newer owner is a no-op.
	Release(ctx context.Context, name string, token string) error
}
