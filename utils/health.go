package utils

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Pinger is anything with a liveness check, such as a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents current status of external services.
type HealthStatus struct {
	Store     bool      `json:"store"`
	Redis     []bool    `json:"redis"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Healthy reports whether the authoritative store answered. Redis is advisory.
func (h HealthStatus) Healthy() bool {
	return h.Store
}

var (
	currentHealth HealthStatus
	mu            sync.RWMutex
)

// GetHealthStatus returns latest stored health snapshot.
func GetHealthStatus() HealthStatus {
	mu.RLock()
	defer mu.RUnlock()
	return currentHealth
}

// CheckHealth pings every dependency once and stores the snapshot.
func CheckHealth(ctx context.Context, store Pinger, redisClients []*redis.Client) HealthStatus {
	var redisHealth []bool
	for _, client := range redisClients {
		if client == nil {
			continue
		}
		redisHealth = append(redisHealth, client.Ping(ctx).Err() == nil)
	}

	status := HealthStatus{
		Store:     store.Ping(ctx) == nil,
		Redis:     redisHealth,
		CheckedAt: time.Now().UTC(),
	}

	mu.Lock()
	currentHealth = status
	mu.Unlock()
	return status
}

// StartHealthMonitor performs periodic health checks until ctx is done.
func StartHealthMonitor(ctx context.Context, interval time.Duration, store Pinger, redisClients []*redis.Client) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		CheckHealth(ctx, store, redisClients)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CheckHealth(ctx, store, redisClients)
			}
		}
	}()
}
