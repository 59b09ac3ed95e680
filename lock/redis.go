// Package lock provides a Redis-backed fee.SubjectLocker for deployments
// that run more than one engine process against the same database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/fee"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const defaultPollInterval = 50 * time.Millisecond

// RedisLocker holds one key per subject. The key expires after ttl so a
// crashed holder cannot block a subject forever.
type RedisLocker struct {
	client       redis.UniversalClient
	script       *redis.Script
	ttl          time.Duration
	prefix       string
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ fee.SubjectLocker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:       client,
		script:       redis.NewScript(lockReleaseScript),
		ttl:          ttl,
		prefix:       "feeengine:subject-lock:",
		pollInterval: defaultPollInterval,
		logger:       logger,
	}, nil
}

// Lock polls until the subject key is acquired or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, id fee.SubjectID) (func(), error) {
	key := l.prefix + string(id)
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: subject %s: %v", fee.ErrLockUnavailable, id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// releaser deletes the key only while it still holds our token. It uses a
// fresh context so that a cancelled request still releases its lock.
func (l *RedisLocker) releaser(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("release subject lock", zap.String("key", key), zap.Error(err))
		}
	}
}
