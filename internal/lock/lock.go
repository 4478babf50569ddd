// Package lock serializes work per account so that at most one withdrawal
// per user is between authorization and ledger debit at any time.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the lock.
var ErrBusy = errors.New("lock held by another request")

const keyPrefix = "lock:account:v1:"

// Locker acquires exclusive, expiring locks keyed by account. The returned
// release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

func normalizeKey(key string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(key))
}

// MemoryLocker is a process-local Locker for development and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker returns an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	k := normalizeKey(key)
	token := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[k]; ok && l.now().Before(e.expires) {
		return nil, ErrBusy
	}
	l.held[k] = memoryEntry{token: token, expires: l.now().Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if e, ok := l.held[k]; ok && e.token == token {
				delete(l.held, k)
			}
		})
	}, nil
}

// releaseScript deletes the key only if it still carries our token, so an
// expired holder can never release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks across service instances through Redis.
type RedisLocker struct {
	cache *redis.Client
}

// NewRedisLocker wraps a Redis client.
func NewRedisLocker(cache *redis.Client) *RedisLocker {
	return &RedisLocker{cache: cache}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := normalizeKey(key)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(releaseCtx, l.cache, []string{k}, token) // best effort; TTL covers failures
		})
	}, nil
}
