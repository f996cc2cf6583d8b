package cluster

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mgci/internal/aggregate"
	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/metrics"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/resolution"
)

// Features selects the feature vector of each subregion.
type Features string

const (
	FeaturesGreen          Features = "green"
	FeaturesGreenElevation Features = "green_elevation"
)

// ParseFeatures validates a feature set name.
func ParseFeatures(s string) (Features, error) {
	switch Features(s) {
	case FeaturesGreen, FeaturesGreenElevation:
		return Features(s), nil
	case "":
		return FeaturesGreen, nil
	}
	return "", eris.Errorf("cluster: unknown features %q (want green or green_elevation)", s)
}

// Analyzer measures every subregion and partitions them with KMeans.
type Analyzer struct {
	cls         *classify.Classifier
	agg         *aggregate.Aggregator
	plan        resolution.Plan
	features    Features
	concurrency int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithFeatures sets the feature vector.
func WithFeatures(f Features) Option {
	return func(a *Analyzer) { a.features = f }
}

// WithConcurrency bounds the subregions measured in parallel.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n < 1 {
			n = 1
		}
		a.concurrency = n
	}
}

// NewAnalyzer returns an Analyzer that measures subregions at plan.
func NewAnalyzer(cls *classify.Classifier, agg *aggregate.Aggregator, plan resolution.Plan, opts ...Option) *Analyzer {
	a := &Analyzer{cls: cls, agg: agg, plan: plan, features: FeaturesGreen, concurrency: 1}
	for _, o := range opts {
		o(a)
	}
	return a
}

type measurement struct {
	green     float64
	elevation *float64
	err       error
}

// Cluster measures each subregion over dr and groups them. Subregions whose
// measurement fails are excluded and listed in the report. Fewer than three
// usable subregions yield no assignments.
func (a *Analyzer) Cluster(ctx context.Context, subregions []model.Region, dr model.DateRange) (model.ClusterReport, error) {
	report := model.ClusterReport{DateRange: dr, Features: string(a.features)}
	log := zap.L().With(zap.Int("subregions", len(subregions)), zap.String("date_range", dr.String()))

	results := make([]measurement, len(subregions))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, r := range subregions {
		g.Go(func() error {
			results[i] = a.measure(ctx, r, dr)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var (
		usable []model.ClusterAssignment
		points [][]float64
	)
	for i, r := range subregions {
		m := results[i]
		if m.err != nil {
			log.Warn("cluster: excluding subregion", zap.String("region", r.ID), zap.Error(m.err))
			metrics.ClusterExcludedTotal.Inc()
			report.Excluded = append(report.Excluded, model.SubregionFailure{SubregionID: r.ID, Error: m.err.Error()})
			continue
		}
		usable = append(usable, model.ClusterAssignment{
			SubregionID:      r.ID,
			Name:             r.Name,
			GreenFraction:    m.green,
			ElevationSummary: m.elevation,
		})
		p := []float64{m.green}
		if a.features == FeaturesGreenElevation {
			p = append(p, *m.elevation)
		}
		points = append(points, p)
	}

	k := ChooseK(len(usable))
	if k == 0 {
		log.Info("cluster: too few subregions, skipping", zap.Int("usable", len(usable)))
		report.Assignments = []model.ClusterAssignment{}
		return report, nil
	}

	labels, err := KMeans(Standardize(points), k)
	if err != nil {
		return report, err
	}
	for i := range usable {
		usable[i].Cluster = labels[i]
	}
	report.K = Clusters(labels)
	report.Assignments = usable
	log.Info("cluster: done", zap.Int("k", report.K), zap.Int("excluded", len(report.Excluded)))
	return report, nil
}

// measure returns the mean green fraction inside the mountain mask and, when
// requested, the mean elevation. Empty reductions count as zero.
func (a *Analyzer) measure(ctx context.Context, r model.Region, dr model.DateRange) measurement {
	opErr := func(err error) measurement {
		return measurement{err: &model.OpError{
			Op: "cluster", Region: r.String(), Period: dr.String(), ResolutionM: a.plan.ResolutionM, Err: err,
		}}
	}

	green, err := a.cls.GreenFraction(dr, r)
	if err != nil {
		return opErr(err)
	}
	mountain := a.cls.Mountain(r)
	red, err := a.agg.Mean(ctx, raster.Mask(green.Image, mountain.Image), r, a.plan)
	if err != nil {
		return opErr(err)
	}
	m := measurement{green: red.OrZero()}

	if a.features == FeaturesGreenElevation {
		elev, err := a.agg.Mean(ctx, a.cls.Elevation(), r, a.plan)
		if err != nil {
			return opErr(err)
		}
		v := elev.OrZero()
		m.elevation = &v
	}
	return m
}
