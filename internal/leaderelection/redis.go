package leaderelection

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease stored in a single redis key.
type RedisLease struct {
	client redis.UniversalClient
	key    string
}

// NewRedisLease returns a lease on key.
func NewRedisLease(client redis.UniversalClient, key string) *RedisLease {
	return &RedisLease{client: client, key: key}
}

// Key returns the redis key holding the owner id.
func (l *RedisLease) Key() string {
	return l.key
}

func (l *RedisLease) TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLease) Renew(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
