package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "monitor-tick", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.Acquire(ctx, "monitor-tick", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// A different name is independent.
	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_ReleaseRequiresToken(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "monitor-tick", time.Minute)
	require.NoError(t, err)

	// A stale token cannot release the lock.
	require.NoError(t, l.Release(ctx, "monitor-tick", "stale-token"))
	_, err = l.Acquire(ctx, "monitor-tick", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// The owning token can.
	require.NoError(t, l.Release(ctx, "monitor-tick", token))
	_, err = l.Acquire(ctx, "monitor-tick", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryLocker_TTLExpiry(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	l.SetClock(func() time.Time { return now })

	_, err := l.Acquire(ctx, "monitor-tick", 30*time.Second)
	require.NoError(t, err)

	// Still held before the TTL.
	now = now.Add(29 * time.Second)
	_, err = l.Acquire(ctx, "monitor-tick", 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// Free after the TTL: a crashed holder cannot wedge the schedule.
	now = now.Add(2 * time.Second)
	_, err = l.Acquire(ctx, "monitor-tick", 30*time.Second)
	assert.NoError(t, err)
}
