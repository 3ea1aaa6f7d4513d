package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds retries of infrastructure failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// RetryInfra runs fn until it succeeds, returns a non-infrastructure error,
// or the attempts run out. Backoff doubles between attempts.
func RetryInfra(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := policy.Backoff

	var err error
	for i := 1; i <= attempts; i++ {
		err = fn(ctx)
		if err == nil || !IsInfrastructure(err) {
			return err
		}
		if i == attempts {
			break
		}
		GetLogger().Warn("Retrying after infrastructure error",
			zap.String("op", op),
			zap.Int("attempt", i),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return Infrastructure(op+" cancelled", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
