package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"slotkeeper/utils"
)

// rateLimiterStore holds a map of caller keys to their rate limiters.
type rateLimiterStore struct {
	limiters map[string]*rate.Limiter
	perMin   int
	mu       sync.Mutex
}

func newRateLimiterStore(perMin int) *rateLimiterStore {
	if perMin <= 0 {
		perMin = 600
	}
	return &rateLimiterStore{limiters: make(map[string]*rate.Limiter), perMin: perMin}
}

// getLimiter returns the rate limiter for a given key, creating one if it doesn't exist.
func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		// perMin requests per minute, bursting up to a tenth of that.
		burst := s.perMin / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMin)), burst)
		s.limiters[key] = limiter
	}
	return limiter
}

// RateLimitMiddleware limits requests per tenant credential, or per client IP
// when no credential header is present. Tool calls carry the credential in
// the body, so those are keyed by IP.
func RateLimitMiddleware(perMin int) gin.HandlerFunc {
	store := newRateLimiterStore(perMin)
	return func(c *gin.Context) {
		key := "ip:" + getClientIP(c)
		if auth := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")); auth != "" {
			key = "token:" + utils.HashToken(auth)
		}
		if !store.getLimiter(key).Allow() {
			zap.L().Warn("Rate limit exceeded", zap.String("key", key))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}
