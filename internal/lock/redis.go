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

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX so that several service
// instances sharing a Redis serialize on the same entities.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker returns a locker storing keys under prefix with the given expiry.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	return acquireAll(ctx, keys, l.acquire)
}

func (l *RedisLocker) acquire(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ErrTimeout
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done; release on a fresh one
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{name}, token).Err()
		})
	}, nil
}
