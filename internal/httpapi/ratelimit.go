package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"voicebridge/internal/auth"
	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	// Rate is the number of requests allowed per second per user.
	Rate  rate.Limit
	Burst int
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per acting user. Requests without
// an identity are keyed by client IP.
type UserRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	cfg     RateLimiterConfig

	Now func() time.Time
}

func NewUserRateLimiter(cfg RateLimiterConfig) *UserRateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Minute
	}
	return &UserRateLimiter{entries: map[string]*limiterEntry{}, cfg: cfg, Now: time.Now}
}

func (rl *UserRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.Now()
	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than MaxAge and returns how many it removed.
func (rl *UserRateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.Now().Add(-rl.cfg.MaxAge)
	removed := 0
	for k, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, k)
			removed++
		}
	}
	return removed
}

func (rl *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			key = "user:" + uid
		}
		if !rl.Allow(key) {
			logger.FromGin(c).Warn("rate limit exceeded", "key", key)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Run evicts idle limiters every interval until ctx is done.
func (rl *UserRateLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := rl.Cleanup(); n > 0 {
				logger.From(ctx).Debug("rate limiter cleanup", "removed", n)
			}
		}
	}
}
