// Package distlock provides Redis-backed advisory locks shared across
// instances.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLock is a SET NX lock with an ownership token, so a holder whose TTL
// lapsed cannot release someone else's lock.
type RedisLock struct {
	client redis.Cmdable
	key    string
	value  string
	ttl    time.Duration
}

func NewRedisLock(client redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLock{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries once. Returns true if this lock now holds the key.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release deletes the key only while we still own it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Locker hands out locks; services depend on it instead of a Redis client.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type RedisLocker struct {
	client redis.Cmdable
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l := NewRedisLock(r.client, key, ttl)
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() { _ = l.Release(context.WithoutCancel(ctx)) }, true, nil
}
