// Package cache deduplicates and memoizes raster reductions.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/mgci/internal/metrics"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// Defaults for the in-process tier.
const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 24 * time.Hour
)

// Engine decorates a raster.Engine. Lookups go through the in-process LRU,
// then the optional backend, then the wrapped engine, with at most one
// in-flight call per request key. Only successful reductions are stored.
type Engine struct {
	next    raster.Engine
	lru     *LRU
	backend Backend
	ttl     time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared context of one in-flight call. It is cancelled when
// every caller waiting on it has gone away.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

var _ raster.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithBackend adds a persistent tier.
func WithBackend(b Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithTTL sets the lifetime of cached reductions in both tiers.
func WithTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

// WithMaxEntries bounds the in-process tier.
func WithMaxEntries(n int) Option {
	return func(e *Engine) { e.lru = NewLRU(n, e.ttl) }
}

// New wraps next.
func New(next raster.Engine, opts ...Option) *Engine {
	e := &Engine{next: next, ttl: DefaultTTL, flights: make(map[string]*flight)}
	for _, o := range opts {
		o(e)
	}
	if e.lru == nil {
		e.lru = NewLRU(DefaultMaxEntries, e.ttl)
	}
	e.lru.ttl = e.ttl
	return e
}

// Stats returns statistics of the in-process tier.
func (e *Engine) Stats() Stats {
	return e.lru.Stats()
}

// ReduceRegion returns a cached reduction or computes it once. A caller that
// gives up returns its own context error without affecting other waiters.
func (e *Engine) ReduceRegion(ctx context.Context, req raster.ReduceRequest) (raster.Reduction, error) {
	if err := req.Validate(); err != nil {
		return raster.Reduction{}, err
	}
	key, err := req.Key()
	if err != nil {
		return raster.Reduction{}, err
	}
	if v, ok := e.lru.Get(key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return v, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()

	f := e.join(ctx, key)
	ch := e.group.DoChan(key, func() (any, error) {
		return e.fill(f.ctx, key, req)
	})
	select {
	case res := <-ch:
		e.leave(key, f, false)
		if res.Shared {
			metrics.SingleflightSharedTotal.Inc()
		}
		if res.Err != nil {
			return raster.Reduction{}, res.Err
		}
		return res.Val.(raster.Reduction), nil
	case <-ctx.Done():
		e.leave(key, f, true)
		return raster.Reduction{}, ctx.Err()
	}
}

func (e *Engine) join(ctx context.Context, key string) *flight {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		e.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter. The last waiter to leave releases the flight; if
// it abandoned the call, the shared call is cancelled and forgotten so the
// next caller starts afresh.
func (e *Engine) leave(key string, f *flight, abandoned bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if abandoned {
		e.group.Forget(key)
	}
	if e.flights[key] == f {
		delete(e.flights, key)
	}
}

func (e *Engine) waiters(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.flights[key]; ok {
		return f.waiters
	}
	return 0
}

func (e *Engine) fill(ctx context.Context, key string, req raster.ReduceRequest) (raster.Reduction, error) {
	log := zap.L().With(zap.String("cache_key", key), zap.String("region", req.Region.ID),
		zap.Float64("resolution_m", req.ResolutionM))

	if e.backend != nil {
		v, ok, err := e.backend.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("cache: backend lookup failed", zap.String("backend", e.backend.Name()), zap.Error(err))
		case ok:
			metrics.CacheLookupsTotal.WithLabelValues(e.backend.Name(), "hit").Inc()
			e.lru.Put(key, v)
			return v, nil
		default:
			metrics.CacheLookupsTotal.WithLabelValues(e.backend.Name(), "miss").Inc()
		}
	}

	label := req.Label
	if label == "" {
		label = "unlabelled"
	}
	start := time.Now()
	v, err := e.next.ReduceRegion(ctx, req)
	metrics.ReductionDurationSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ReductionsTotal.WithLabelValues(label, model.Kind(err)).Inc()
		return raster.Reduction{}, err
	}
	metrics.ReductionsTotal.WithLabelValues(label, "ok").Inc()

	e.lru.Put(key, v)
	if e.backend != nil {
		if err := e.backend.Set(ctx, key, v, e.ttl); err != nil {
			log.Warn("cache: backend store failed", zap.String("backend", e.backend.Name()), zap.Error(err))
		}
	}
	log.Debug("cache: reduction stored", zap.Duration("elapsed", time.Since(start)))
	return v, nil
}
