package utils

import (
	"context"
	"time"

	"slotkeeper/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	// LockClient backs the advisory fast path in front of slot claims.
	LockClient *redis.Client
	// OTPClient stores hashed confirmation codes.
	OTPClient *redis.Client
)

func newRedisClient(db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.RedisAddr,
		Password:     config.AppConfig.RedisPassword,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// pingRedis logs instead of failing. Redis is never authoritative for a claim.
func pingRedis(client *redis.Client, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		GetLogger().Warn("Redis unavailable, continuing without it",
			zap.String("client", name), zap.Error(err))
	}
}

// InitLockCache initializes the Redis client used for advisory slot locks.
func InitLockCache() {
	LockClient = newRedisClient(config.AppConfig.RedisLockDB)
	pingRedis(LockClient, "lock")
}

// GetLockClient returns the advisory lock client.
func GetLockClient() *redis.Client {
	if LockClient == nil {
		InitLockCache()
	}
	return LockClient
}

// InitOTPCache initializes the Redis client holding confirmation codes.
func InitOTPCache() {
	OTPClient = newRedisClient(config.AppConfig.RedisOTPDB)
	pingRedis(OTPClient, "otp")
}

// GetOTPClient returns the confirmation code client.
func GetOTPClient() *redis.Client {
	if OTPClient == nil {
		InitOTPCache()
	}
	return OTPClient
}

// CloseCaches closes whichever clients were opened.
func CloseCaches() {
	for _, c := range []*redis.Client{LockClient, OTPClient} {
		if c != nil {
			_ = c.Close()
		}
	}
}
