package utils

import "time"

const (
	// DefaultStoreTimeout bounds a single store round trip when none is configured.
	DefaultStoreTimeout = 5 * time.Second

	// HealthCheckInterval is how often the background monitor pings dependencies.
	HealthCheckInterval = 30 * time.Second

	// AdvisoryLockPrefix namespaces fast-path slot locks in Redis.
	AdvisoryLockPrefix = "slotlock:"

	// OTPKeyPrefix namespaces hashed confirmation codes in Redis.
	OTPKeyPrefix = "otp:"
)
