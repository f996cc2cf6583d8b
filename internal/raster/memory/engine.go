package memory

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// Hook runs before every reduction. A non-nil error fails the reduction.
type Hook func(ctx context.Context, req raster.ReduceRequest) error

// Option configures an Engine.
type Option func(*Engine)

// WithHook installs a hook, typically to inject failures in tests.
func WithHook(h Hook) Option {
	return func(e *Engine) { e.hook = h }
}

// Engine evaluates expressions against a Scene. It is safe for concurrent use.
type Engine struct {
	scene *Scene
	hook  Hook
	calls atomic.Int64
}

var _ raster.Engine = (*Engine)(nil)

// New returns an Engine over scene.
func New(scene *Scene, opts ...Option) *Engine {
	if scene == nil {
		scene = &Scene{}
	}
	e := &Engine{scene: scene}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Calls returns the number of reductions evaluated so far.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// ReduceRegion samples the image on a square-pixel grid over the region and
// reduces the valid pixels whose centers fall inside the region geometry.
func (e *Engine) ReduceRegion(ctx context.Context, req raster.ReduceRequest) (raster.Reduction, error) {
	e.calls.Add(1)
	if err := req.Validate(); err != nil {
		return raster.Reduction{}, err
	}
	if e.hook != nil {
		if err := e.hook(ctx, req); err != nil {
			return raster.Reduction{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return raster.Reduction{}, err
	}

	fn, err := e.compileImage(req.Image.Expr())
	if err != nil {
		return raster.Reduction{}, err
	}

	g := newGrid(req.Region.BBox(), req.ResolutionM)
	if n := g.pixelCount(); n > req.Ceiling() {
		return raster.Reduction{}, eris.Wrapf(model.ErrAggregationTooLarge,
			"memory: %d pixels exceeds ceiling %d", n, req.Ceiling())
	}

	shp := newShape(req.Region.Geometry)
	area := g.pixelArea()
	var (
		sum   float64
		count int64
	)
	for i := 0; i < g.rows; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return raster.Reduction{}, err
			}
		}
		lat := g.rowLat(i)
		dLon := g.rowDLon(lat)
		cols := g.cols(lat)
		for j := 0; j < cols; j++ {
			lon := g.bbox.MinLon + (float64(j)+0.5)*dLon
			if !shp.contains(lon, lat) {
				continue
			}
			v, ok := fn(pixel{lon: lon, lat: lat, area: area})
			if !ok {
				continue
			}
			sum += v
			count++
		}
	}

	zap.L().Debug("memory: reduce region",
		zap.String("region", req.Region.ID),
		zap.String("reducer", string(req.Reducer)),
		zap.Float64("resolution_m", req.ResolutionM),
		zap.Int64("pixels", count),
	)

	if count == 0 {
		return raster.Reduction{}, nil
	}
	if req.Reducer == raster.ReducerMean {
		return raster.Reduction{Value: sum / float64(count), Valid: true}, nil
	}
	return raster.Reduction{Value: sum, Valid: true}, nil
}
