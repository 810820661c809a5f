package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
	"github.com/robertarktes/event-registrations/internal/observability"
)

// Counter is a fixed-window hit counter; *redisadapter.Cache implements it.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

var _ Counter = (*redisadapter.Cache)(nil)

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether key is still under rate hits per period. When the
// counter is unreachable requests are let through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.Incr(ctx, "rl:"+key, period)
	if err != nil {
		rl.logger.WithField("key", key).Warn("rate limiter unavailable: ", err)
		return true
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
