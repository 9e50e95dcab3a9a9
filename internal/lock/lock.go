// Package lock serializes reconciliation runs per device.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the key
var ErrLocked = errors.New("already locked")

// Locker grants exclusive, expiring ownership of a key
type Locker interface {
	// Acquire returns a release func, or ErrLocked when the key is held
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLocker shares locks across worker instances
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker backed by client
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire sets the key only if absent, tagged with a random token so that
// release never removes a lock taken over after expiry
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := l.prefix + key

	acquired, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", full, err)
	}
	if !acquired {
		return nil, ErrLocked
	}

	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{full}, token).Err()
	}, nil
}

// LocalLocker is the single-process fallback used when no Redis is
// configured
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]time.Time{}, nowFn: time.Now}
}

// Acquire takes key unless it is held and unexpired
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrLocked
	}
	until := now.Add(ttl)
	l.held[key] = until

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == until {
			delete(l.held, key)
		}
	}, nil
}
