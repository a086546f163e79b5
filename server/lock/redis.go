package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries our holder token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker on a shared Redis instance using SET NX PX
// with a per-acquisition holder token.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, lease time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return "", errors.Wrap(err, "failed to acquire lock")
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}
