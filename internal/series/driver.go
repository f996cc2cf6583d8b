// Package series runs the MGCI computation over an ordered list of periods.
package series

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mgci/internal/aggregate"
	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/metrics"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/resolution"
)

// Driver computes one MgciResult per period. Periods are independent, so
// they may run in parallel up to the configured concurrency; the default
// is one at a time.
type Driver struct {
	cls         *classify.Classifier
	agg         *aggregate.Aggregator
	concurrency int
}

// Option configures a Driver.
type Option func(*Driver)

// WithConcurrency bounds the number of periods in flight. Values below 1
// mean sequential.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n < 1 {
			n = 1
		}
		d.concurrency = n
	}
}

// New returns a Driver.
func New(cls *classify.Classifier, agg *aggregate.Aggregator, opts ...Option) *Driver {
	d := &Driver{cls: cls, agg: agg, concurrency: 1}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Period computes the MGCI of a single period.
func (d *Driver) Period(ctx context.Context, region model.Region, period model.Period, plan resolution.Plan) (model.MgciResult, error) {
	green, err := d.cls.GreenFraction(period.DateRange, region)
	if err != nil {
		return model.MgciResult{}, err
	}
	return d.agg.MGCI(ctx, green.Image, d.cls.Mountain(region), period, plan)
}

// Series returns exactly one entry per period, in order. A failed period is
// recorded as a missing entry and never aborts the others. The returned
// error is the context error when the run was cancelled; the series is
// still complete, with the unfinished periods missing.
func (d *Driver) Series(ctx context.Context, region model.Region, periods []model.Period, plan resolution.Plan) (model.TimeSeries, error) {
	ts := model.TimeSeries{
		Region:      region.Ref(),
		ResolutionM: plan.ResolutionM,
		Entries:     make([]model.SeriesEntry, len(periods)),
	}
	log := zap.L().With(
		zap.String("region", region.ID),
		zap.Float64("resolution_m", plan.ResolutionM),
		zap.Int("periods", len(periods)),
	)
	log.Info("series: start")

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, p := range periods {
		ts.Entries[i].Period = p
		if ctx.Err() != nil {
			d.missing(&ts.Entries[i], ctx.Err())
			continue
		}
		g.Go(func() error {
			res, err := d.Period(ctx, region, p, plan)
			if err != nil {
				log.Warn("series: period failed", zap.String("period", p.String()), zap.Error(err))
				d.missing(&ts.Entries[i], err)
				return nil
			}
			ts.Entries[i].Result = &res
			return nil
		})
	}
	_ = g.Wait()

	log.Info("series: done", zap.Int("missing", ts.MissingCount()))
	return ts, ctx.Err()
}

func (d *Driver) missing(e *model.SeriesEntry, err error) {
	kind := model.Kind(err)
	e.Result = nil
	e.Error = err.Error()
	e.Kind = kind
	metrics.SeriesPeriodsFailedTotal.WithLabelValues(kind).Inc()
}
