package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while the caller's token still owns
// it, so a holder whose TTL lapsed cannot release a newer owner's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements Locker over a shared Redis instance using
// SET NX PX and a compare-and-delete release script.
type RedisLocker struct {
	client  *redis.Client
	release *redis.Script
}

// NewRedisLocker creates a locker over the given client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the named lock for at most ttl.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

// Release frees the named lock if token still owns it.
func (l *RedisLocker) Release(ctx context.Context, name string, token string) error {
	if err := l.release.Run(ctx, l.client, []string{name}, token).Err(); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
