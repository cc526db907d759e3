package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gainy-app/gainy-compute-sub000/internal/uuid"
)

// releaseScript deletes the lock key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX keys. The TTL bounds how long
// a crashed process can keep a key locked.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[ResourceKey]string
}

// NewRedisLocker creates a locker using client. Keys are namespaced by prefix.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		tokens: make(map[ResourceKey]string),
	}
}

func (l *RedisLocker) redisKey(key ResourceKey) string {
	return fmt.Sprintf("%slock:%d:%d", l.prefix, key.Kind, key.ID)
}

// TryLock sets the key if absent.
func (l *RedisLocker) TryLock(ctx context.Context, key ResourceKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[key]; ok {
		return false, nil
	}

	token := uuid.New()
	ok, err := l.client.SetNX(ctx, l.redisKey(key), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		l.tokens[key] = token
	}
	return ok, nil
}

// Unlock deletes the key if it is still owned by this locker.
func (l *RedisLocker) Unlock(ctx context.Context, key ResourceKey) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("lock %s is not held", key)
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.redisKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s expired before release", key)
	}
	return nil
}
