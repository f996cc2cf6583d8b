package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	a := NewAdaptiveLimiter(10, 1)

	a.OnSuccess()
	assert.InDelta(t, 12.0, float64(a.Limit()), 1e-9)
	for i := 0; i < 20; i++ {
		a.OnSuccess()
	}
	assert.Equal(t, rate.Limit(20), a.Limit())

	for i := 0; i < 10; i++ {
		a.OnThrottle()
	}
	assert.Equal(t, rate.Limit(2.5), a.Limit())
}

func TestAdaptiveLimiter_WaitHonoursContext(t *testing.T) {
	a := NewAdaptiveLimiter(0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, a.Wait(ctx), "burst token")
	cancel()
	assert.Error(t, a.Wait(ctx))
}
