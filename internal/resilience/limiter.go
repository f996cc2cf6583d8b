package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a token bucket that speeds up by 20% on success, up to
// twice the initial rate, and halves on throttling, down to a quarter of it.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter starts at perSecond with the given burst.
func NewAdaptiveLimiter(perSecond float64, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	r := rate.Limit(perSecond)
	return &AdaptiveLimiter{limiter: rate.NewLimiter(r, burst), initial: r, current: r}
}

// Wait blocks until a call may proceed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.set(func(cur rate.Limit) rate.Limit { return min(cur*1.2, a.initial*2) })
}

// OnThrottle lowers the rate after a 429.
func (a *AdaptiveLimiter) OnThrottle() {
	r := a.set(func(cur rate.Limit) rate.Limit { return max(cur*0.5, a.initial/4) })
	zap.L().Warn("resilience: throttled, reducing rate", zap.Float64("rate", float64(r)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(next func(rate.Limit) rate.Limit) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = next(a.current)
	a.limiter.SetLimit(a.current)
	return a.current
}
