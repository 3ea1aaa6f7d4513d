package reservation

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"slotkeeper/utils"
)

// AdvisoryLock is a non-authoritative fast path in front of the store claim.
// Implementations fail open: any backend error reports the lock as acquired.
type AdvisoryLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool)
	Release(ctx context.Context, key, token string)
}

// compare-and-delete so a caller never frees a lock it no longer owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAdvisoryLock implements AdvisoryLock with SET NX PX.
type RedisAdvisoryLock struct {
	Client  *redis.Client
	Logger  *zap.Logger
	Timeout time.Duration
}

func NewRedisAdvisoryLock(client *redis.Client, logger *zap.Logger) *RedisAdvisoryLock {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &RedisAdvisoryLock{Client: client, Logger: logger, Timeout: 250 * time.Millisecond}
}

func (l *RedisAdvisoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	if l == nil || l.Client == nil {
		return "", true
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, utils.AdvisoryLockPrefix+key, token, ttl).Result()
	if err != nil {
		l.Logger.Warn("Advisory lock unavailable, continuing without it",
			zap.String("key", key), zap.Error(err))
		return "", true
	}
	if !ok {
		return "", false
	}
	return token, true
}

func (l *RedisAdvisoryLock) Release(ctx context.Context, key, token string) {
	if l == nil || l.Client == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.Timeout)
	defer cancel()

	if err := releaseScript.Run(ctx, l.Client, []string{utils.AdvisoryLockPrefix + key}, token).Err(); err != nil {
		l.Logger.Warn("Failed to release advisory lock; it will lapse on its own",
			zap.String("key", key), zap.Error(err))
	}
}

func lockKey(tenantID, slotID string) string {
	return tenantID + ":" + slotID
}
