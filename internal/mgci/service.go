// Package mgci wires region resolution, classification and aggregation into
// the three user-facing operations: a single index, a yearly series and a
// subregion clustering.
package mgci

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/aggregate"
	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/cluster"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/resolution"
	"github.com/sells-group/mgci/internal/series"
	"github.com/sells-group/mgci/internal/store"
)

// Deps are the collaborators of a Service. Store may be nil, in which case
// no run history is kept.
type Deps struct {
	Regions    region.Provider
	Engine     raster.Engine
	Classifier *classify.Classifier
	Strategy   *resolution.Strategy
	Store      store.Store
}

// Options tunes fan-out and the clustering features.
type Options struct {
	SeriesConcurrency  int
	ClusterConcurrency int
	Features           cluster.Features
}

// Service runs MGCI computations and records them as runs.
type Service struct {
	regions  region.Provider
	cls      *classify.Classifier
	agg      *aggregate.Aggregator
	strategy *resolution.Strategy
	driver   *series.Driver
	store    store.Store
	opts     Options
	now      func() time.Time
}

// New validates deps and returns a Service.
func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Regions == nil:
		return nil, eris.New("mgci: region provider is required")
	case deps.Engine == nil:
		return nil, eris.New("mgci: raster engine is required")
	case deps.Classifier == nil:
		return nil, eris.New("mgci: classifier is required")
	case deps.Strategy == nil:
		return nil, eris.New("mgci: resolution strategy is required")
	}
	if opts.Features == "" {
		opts.Features = cluster.FeaturesGreen
	}
	agg := aggregate.New(deps.Engine)
	return &Service{
		regions:  deps.Regions,
		cls:      deps.Classifier,
		agg:      agg,
		strategy: deps.Strategy,
		driver:   series.New(deps.Classifier, agg, series.WithConcurrency(opts.SeriesConcurrency)),
		store:    deps.Store,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// Regions returns the provider the service resolves against.
func (s *Service) Regions() region.Provider { return s.regions }

// Plan turns a Resolution into a plan. An empty Resolution plans preview.
func (s *Service) Plan(r Resolution) (resolution.Plan, error) {
	return s.planOr(r, resolution.Preview)
}

// planOr is Plan with the intent used when r names neither an intent nor
// meters.
func (s *Service) planOr(r Resolution, fallback resolution.Intent) (resolution.Plan, error) {
	if r.ResolutionM < 0 {
		return resolution.Plan{}, invalidf("mgci: resolution must be positive, got %g", r.ResolutionM)
	}
	if r.ResolutionM > 0 {
		preview, err := s.strategy.PlanFor(resolution.Preview)
		if err != nil {
			return resolution.Plan{}, err
		}
		return resolution.At(r.ResolutionM, preview.PixelCeiling), nil
	}
	if r.Intent == "" {
		return s.strategy.PlanFor(fallback)
	}
	intent, err := resolution.ParseIntent(r.Intent)
	if err != nil {
		return resolution.Plan{}, invalid(err)
	}
	return s.strategy.PlanFor(intent)
}

// Compute resolves the region and returns its MGCI over [Start, End).
func (s *Service) Compute(ctx context.Context, req ComputeRequest) (*ComputeResponse, error) {
	plan, err := s.Plan(req.Resolution)
	if err != nil {
		return nil, err
	}
	dr, err := model.ParseDateRange(req.Start, req.End)
	if err != nil {
		return nil, invalid(err)
	}

	resp := &ComputeResponse{Plan: plan}
	err = s.track(ctx, model.RunKindMGCI, req, &resp.RunID, func() (any, error) {
		start := s.now()
		reg, err := s.regions.Resolve(ctx, req.Region)
		if err != nil {
			return nil, err
		}
		res, err := s.driver.Period(ctx, reg, model.Period{DateRange: dr}, plan)
		if err != nil {
			return nil, err
		}
		resp.Result = res
		resp.ElapsedMS = s.now().Sub(start).Milliseconds()

		fields := []zap.Field{
			zap.String("region", reg.ID),
			zap.String("period", dr.String()),
			zap.Float64("resolution_m", plan.ResolutionM),
			zap.Float64("mountain_km2", res.MountainAreaKM2()),
			zap.Float64("green_km2", res.GreenAreaKM2()),
			zap.Int64("elapsed_ms", resp.ElapsedMS),
		}
		if res.Pct != nil {
			fields = append(fields, zap.Float64("pct", *res.Pct))
		}
		zap.L().Info("mgci: computed", fields...)
		return res, nil
	})
	if err != nil {
		return resp, err
	}
	return resp, nil
}

// Series returns one entry per calendar year. Failed years are missing
// entries, not errors.
func (s *Service) Series(ctx context.Context, req SeriesRequest) (*SeriesResponse, error) {
	plan, err := s.Plan(req.Resolution)
	if err != nil {
		return nil, err
	}
	periods, err := model.YearlyPeriods(req.FromYear, req.ToYear)
	if err != nil {
		return nil, invalid(err)
	}

	resp := &SeriesResponse{Plan: plan}
	err = s.track(ctx, model.RunKindSeries, req, &resp.RunID, func() (any, error) {
		start := s.now()
		reg, err := s.regions.Resolve(ctx, req.Region)
		if err != nil {
			return nil, err
		}
		ts, err := s.driver.Series(ctx, reg, periods, plan)
		resp.Series = ts
		resp.ElapsedMS = s.now().Sub(start).Milliseconds()
		if err != nil {
			return nil, err
		}
		return ts, nil
	})
	if err != nil {
		return resp, err
	}
	return resp, nil
}

// Cluster groups the subregions of the requested region by green fraction.
// An empty Resolution plans the standard tier.
func (s *Service) Cluster(ctx context.Context, req ClusterRequest) (*ClusterResponse, error) {
	plan, err := s.planOr(req.Resolution, resolution.Standard)
	if err != nil {
		return nil, err
	}
	dr, err := model.ParseDateRange(req.Start, req.End)
	if err != nil {
		return nil, invalid(err)
	}
	features := s.opts.Features
	if req.Features != "" {
		if features, err = cluster.ParseFeatures(req.Features); err != nil {
			return nil, invalid(err)
		}
	}

	resp := &ClusterResponse{Plan: plan}
	err = s.track(ctx, model.RunKindCluster, req, &resp.RunID, func() (any, error) {
		start := s.now()
		parent, err := s.regions.Resolve(ctx, req.Region)
		if err != nil {
			return nil, err
		}
		subs, err := s.regions.Children(ctx, parent)
		if err != nil {
			return nil, eris.Wrapf(err, "mgci: subregions of %s", parent.ID)
		}
		analyzer := cluster.NewAnalyzer(s.cls, s.agg, plan,
			cluster.WithFeatures(features),
			cluster.WithConcurrency(s.opts.ClusterConcurrency))
		report, err := analyzer.Cluster(ctx, subs, dr)
		if err != nil {
			return nil, err
		}
		report.Parent = parent.Ref()
		resp.Report = report
		resp.ElapsedMS = s.now().Sub(start).Milliseconds()
		return report, nil
	})
	if err != nil {
		return resp, err
	}
	return resp, nil
}

// Run returns a recorded run.
func (s *Service) Run(ctx context.Context, id string) (*model.Run, error) {
	if s.store == nil {
		return nil, eris.Wrap(model.ErrRunNotFound, "mgci: run history is disabled")
	}
	return s.store.GetRun(ctx, id)
}

// Runs lists recorded runs, newest first.
func (s *Service) Runs(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRuns(ctx, filter)
}

// track records fn as a run when a store is configured. Failing to create
// the run aborts; failing to finish it is only logged.
func (s *Service) track(ctx context.Context, kind model.RunKind, req any, runID *string, fn func() (any, error)) error {
	if s.store == nil {
		_, err := fn()
		return err
	}
	run, err := s.store.CreateRun(ctx, kind, req)
	if err != nil {
		return eris.Wrap(err, "mgci: create run")
	}
	*runID = run.ID
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(kind)))

	result, fnErr := fn()
	// The run is finished even when ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if fnErr != nil {
		if err := s.store.FailRun(finishCtx, run.ID, fnErr.Error()); err != nil {
			log.Warn("mgci: failed to record run failure", zap.Error(err))
		}
		return fnErr
	}
	if err := s.store.CompleteRun(finishCtx, run.ID, result); err != nil {
		log.Warn("mgci: failed to record run result", zap.Error(err))
	}
	return nil
}
