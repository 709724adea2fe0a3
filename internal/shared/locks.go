package shared

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResourceLockKey builds redis keys for stock critical sections.
func ResourceLockKey(resourceID string) string {
	return fmt.Sprintf("inventory:resource:%s:lock", resourceID)
}

// KeyedMutex serialises in-process access per key. Used by the guarded stock
// write mode to close the read-modify-write race on control_stock.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex constructs a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (m *KeyedMutex) Lock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

// Unlock releases the mutex for key.
func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	m.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}

// RedisLock is a best-effort cross-process lock over SET NX with TTL.
// It guards stock mutations across instances when guarded writes are on.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock constructs a RedisLock.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire tries to take the lock, polling until the context expires.
func (l *RedisLock) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	for {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			return fmt.Errorf("shared: acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Release drops the lock.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}
