package series

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mgci/internal/aggregate"
	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/raster/memory"
	"github.com/sells-group/mgci/internal/resolution"
)

const scene = `
rasters:
  - dataset: dem
    default: 3000
  - dataset: slope
    default: 12
series:
  - dataset: lc
    band: label
    observations:
      - {date: 2018-06-01, default: 1}
      - {date: 2019-06-01, default: 2}
      - {date: 2020-06-01, default: 7}
      - {date: 2021-06-01, default: 5}
`

// seriesStart returns the start year of the first series node in the graph.
func seriesStart(x *raster.Expr) (int, bool) {
	if x == nil {
		return 0, false
	}
	if x.Op == raster.OpSeries && x.Start != nil {
		return x.Start.Year(), true
	}
	for _, a := range x.Args {
		if y, ok := seriesStart(a); ok {
			return y, true
		}
	}
	return 0, false
}

func newDriver(t *testing.T, opts []memory.Option, driverOpts ...Option) *Driver {
	t.Helper()
	s, err := memory.ParseScene([]byte(scene))
	require.NoError(t, err)
	c, err := classify.New(classify.Datasets{Elevation: "dem", Slope: "slope", LandCover: "lc", LandCoverBand: "label"})
	require.NoError(t, err)
	return New(c, aggregate.New(memory.New(s, opts...)), driverOpts...)
}

var region = model.BBoxRegion(model.BBox{MinLon: 7, MinLat: 46, MaxLon: 7.2, MaxLat: 46.1})

func TestSeries_PartialFailureKeepsLength(t *testing.T) {
	t.Parallel()

	failing := memory.WithHook(func(_ context.Context, req raster.ReduceRequest) error {
		if y, ok := seriesStart(req.Image.Expr()); ok && y == 2019 {
			return model.ErrRemoteUnavailable
		}
		return nil
	})
	d := newDriver(t, []memory.Option{failing})

	periods, err := model.YearlyPeriods(2018, 2021)
	require.NoError(t, err)

	ts, err := d.Series(context.Background(), region, periods, resolution.At(2000, 0))
	require.NoError(t, err)
	require.Len(t, ts.Entries, len(periods))
	assert.Equal(t, 1, ts.MissingCount())

	for i, e := range ts.Entries {
		assert.Equal(t, periods[i].Label, e.Period.Label)
	}

	missing := ts.Entries[1]
	assert.True(t, missing.Missing())
	assert.Equal(t, "remote_unavailable", missing.Kind)
	assert.Contains(t, missing.Error, "period=2019")
	assert.Contains(t, missing.Error, "resolution=2000m")

	require.NotNil(t, ts.Entries[0].Result.Pct)
	assert.InDelta(t, 100, *ts.Entries[0].Result.Pct, 1e-9)
	assert.InDelta(t, 0, *ts.Entries[2].Result.Pct, 1e-9)
	assert.InDelta(t, 100, *ts.Entries[3].Result.Pct, 1e-9)
}

func TestSeries_ConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	periods, err := model.YearlyPeriods(2017, 2022)
	require.NoError(t, err)

	seq, err := newDriver(t, nil).Series(context.Background(), region, periods, resolution.At(2000, 0))
	require.NoError(t, err)
	par, err := newDriver(t, nil, WithConcurrency(4)).Series(context.Background(), region, periods, resolution.At(2000, 0))
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	// 2017 and 2022 have no observations: green is empty, not missing.
	assert.Equal(t, 0, seq.MissingCount())
	assert.Equal(t, 0.0, seq.Entries[0].Result.GreenAreaM2)
}

func TestSeries_CancelledStillComplete(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	periods, err := model.YearlyPeriods(2018, 2021)
	require.NoError(t, err)

	ts, err := newDriver(t, nil).Series(ctx, region, periods, resolution.At(2000, 0))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, ts.Entries, 4)
	assert.Equal(t, 4, ts.MissingCount())
}

func TestSeries_EmptyPeriods(t *testing.T) {
	t.Parallel()

	ts, err := newDriver(t, nil).Series(context.Background(), region, nil, resolution.At(2000, 0))
	require.NoError(t, err)
	assert.Empty(t, ts.Entries)
	assert.Equal(t, region.Ref(), ts.Region)
}
