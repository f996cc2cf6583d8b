package classify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/raster/memory"
)

var testDatasets = Datasets{Elevation: "dem", Slope: "slope", LandCover: "lc", LandCoverBand: "label"}

func TestIsMountain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		elevation float64
		slope     float64
		want      bool
	}{
		{4500, 0, true},
		{8000, 0, true},
		{4499.9, 0, true},
		{3500, 0, true},
		{3499, 90, true},
		{2500, 0, true},
		{2499, 1.9, false},
		{1500, 1.9, false},
		{1500, 2.0, true},
		{1000, 2.0, true},
		{999, 4.9, false},
		{999, 5.0, true},
		{300, 5.0, true},
		{300, 4.99, false},
		{299, 90, false},
		{0, 0, false},
		{-50, 30, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("e=%g,s=%g", tt.elevation, tt.slope), func(t *testing.T) {
			assert.Equal(t, tt.want, IsMountain(tt.elevation, tt.slope))
		})
	}
}

func TestIsMountain_BandEdges(t *testing.T) {
	t.Parallel()

	for i, b := range MountainBands {
		assert.True(t, b.Matches(b.MinElevationM, b.MinSlopeDeg), "band %d lower edge", i+1)
		assert.False(t, b.Matches(b.MaxElevationM, 90), "band %d upper edge is exclusive", i+1)
		if b.MinSlopeDeg > 0 {
			assert.False(t, b.Matches(b.MinElevationM, b.MinSlopeDeg-0.01), "band %d slope", i+1)
		}
	}
}

func TestMountainRule_MatchesIsMountain(t *testing.T) {
	t.Parallel()

	pairs := [][2]float64{
		{4500, 0}, {3499, 90}, {1500, 1.9}, {1500, 2}, {299, 90}, {300, 5}, {300, 4.9},
		{1200, 1}, {1200, 3}, {2600, 0}, {100, 0},
	}
	region := model.BBoxRegion(model.BBox{MinLon: 0, MinLat: 0, MaxLon: 0.05, MaxLat: 0.05})

	for _, p := range pairs {
		scene, err := memory.ParseScene([]byte(fmt.Sprintf(
			"rasters:\n  - dataset: dem\n    default: %g\n  - dataset: slope\n    default: %g\n", p[0], p[1])))
		require.NoError(t, err)
		engine := memory.New(scene)

		c, err := New(testDatasets)
		require.NoError(t, err)
		mask := c.Mountain(region)

		got, err := engine.ReduceRegion(context.Background(), raster.ReduceRequest{
			Image: mask.Image, Region: mask.Region, Reducer: raster.ReducerMean, ResolutionM: 5000,
		})
		require.NoError(t, err)
		require.True(t, got.Valid)

		want := 0.0
		if IsMountain(p[0], p[1]) {
			want = 1
		}
		assert.Equal(t, want, got.Value, "e=%g s=%g", p[0], p[1])
	}
}

func TestGreenLabels(t *testing.T) {
	t.Parallel()

	assert.True(t, IsGreen(int(Trees)))
	assert.True(t, IsGreen(int(Grass)))
	assert.True(t, IsGreen(int(Crops)))
	assert.True(t, IsGreen(int(ShrubAndScrub)))
	for _, c := range []LandCoverClass{Water, FloodedVegetation, Built, Bare, SnowAndIce} {
		assert.False(t, IsGreen(int(c)), c.String())
	}
	assert.False(t, IsGreen(42))
	assert.Equal(t, "shrub_and_scrub", ShrubAndScrub.String())
	assert.Equal(t, "unknown", LandCoverClass(99).String())
}

func TestGreenFractionAndMask(t *testing.T) {
	t.Parallel()

	// Zone A is green in 2 of 4 observations (exactly the threshold);
	// zone B in 1 of 4.
	scene, err := memory.ParseScene([]byte(`
series:
  - dataset: lc
    band: label
    observations:
      - date: 2020-01-10
        zones:
          - {bbox: {min_lon: 0, min_lat: 0, max_lon: 1, max_lat: 1}, value: 1}
          - {bbox: {min_lon: 1, min_lat: 0, max_lon: 2, max_lat: 1}, value: 5}
      - date: 2020-04-10
        zones:
          - {bbox: {min_lon: 0, min_lat: 0, max_lon: 1, max_lat: 1}, value: 4}
          - {bbox: {min_lon: 1, min_lat: 0, max_lon: 2, max_lat: 1}, value: 0}
      - date: 2020-07-10
        zones:
          - {bbox: {min_lon: 0, min_lat: 0, max_lon: 1, max_lat: 1}, value: 7}
          - {bbox: {min_lon: 1, min_lat: 0, max_lon: 2, max_lat: 1}, value: 6}
      - date: 2020-10-10
        zones:
          - {bbox: {min_lon: 0, min_lat: 0, max_lon: 1, max_lat: 1}, value: 8}
          - {bbox: {min_lon: 1, min_lat: 0, max_lon: 2, max_lat: 1}, value: 3}
`))
	require.NoError(t, err)
	engine := memory.New(scene)

	c, err := New(testDatasets)
	require.NoError(t, err)
	dr, err := model.ParseDateRange("2020-01-01", "2021-01-01")
	require.NoError(t, err)

	zoneA := model.BBoxRegion(model.BBox{MinLon: 0.1, MinLat: 0.1, MaxLon: 0.3, MaxLat: 0.3})
	zoneB := model.BBoxRegion(model.BBox{MinLon: 1.1, MinLat: 0.1, MaxLon: 1.3, MaxLat: 0.3})

	reduce := func(img raster.Image, region model.Region) float64 {
		got, err := engine.ReduceRegion(context.Background(), raster.ReduceRequest{
			Image: img, Region: region, Reducer: raster.ReducerMean, ResolutionM: 5000,
		})
		require.NoError(t, err)
		require.True(t, got.Valid)
		return got.Value
	}

	fa, err := c.GreenFraction(dr, zoneA)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, reduce(fa.Image, zoneA), 1e-12)
	assert.Equal(t, 1.0, reduce(fa.Mask().Image, zoneA), "threshold is inclusive")

	mb, err := c.GreenMask(dr, zoneB)
	require.NoError(t, err)
	assert.Equal(t, 0.0, reduce(mb.Image, zoneB))
	assert.Equal(t, dr, mb.DateRange)
}

func TestNew_RequiresDatasets(t *testing.T) {
	t.Parallel()

	_, err := New(Datasets{Elevation: "dem"})
	assert.Error(t, err)
}
