package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/config"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/resilience"
	"github.com/sells-group/mgci/internal/resolution"
	"github.com/sells-group/mgci/internal/store"
)

const demoScene = `
rasters:
  - dataset: dem
    default: 3000
  - dataset: slope
    default: 8
series:
  - dataset: lc
    band: label
    observations:
      - {date: 2020-06-01, default: 1}
`

const demoBoundaries = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"id": "HIGH", "name": "Highlands", "level": 0},
     "geometry": {"type": "Polygon", "coordinates": [[[10,10],[10.2,10],[10.2,10.1],[10,10.1],[10,10]]]}},
    {"type": "Feature", "properties": {"id": "HIGH-1", "name": "Upper Highlands", "level": 1, "parent": "HIGH"},
     "geometry": {"type": "Polygon", "coordinates": [[[10,10],[10.1,10],[10.1,10.1],[10,10.1],[10,10]]]}}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())

	dir := t.TempDir()
	scene := filepath.Join(dir, "scene.yaml")
	require.NoError(t, os.WriteFile(scene, []byte(demoScene), 0o644))
	bounds := filepath.Join(dir, "regions.geojson")
	require.NoError(t, os.WriteFile(bounds, []byte(demoBoundaries), 0o644))

	return &config.Config{
		Log:    config.LogConfig{Level: "info", Format: "json"},
		Engine: config.EngineConfig{Kind: config.EngineMemory, Scene: scene},
		Datasets: config.DatasetsConfig{
			Elevation: "dem", Slope: "slope", LandCover: "lc", LandCoverBand: "label",
		},
		Regions: config.RegionsConfig{
			Sources:  []region.Source{{Format: region.FormatGeoJSON, Path: bounds}},
			CacheDir: filepath.Join(dir, "boundaries"),
		},
		Resolution: resolution.DefaultConfig(),
		Cache: config.CacheConfig{
			Enabled: true, MaxEntries: 100, TTL: time.Hour, Backend: config.CacheBackendStore,
		},
		Store:   config.StoreConfig{Driver: config.StoreSQLite, DatabaseURL: filepath.Join(dir, "mgci.db")},
		Retry:   resilience.DefaultRetryConfig(),
		Circuit: resilience.DefaultCircuitConfig(),
		Series:  config.SeriesConfig{Concurrency: 2},
		Cluster: config.ClusterConfig{Concurrency: 2, Features: "green"},
	}
}

func TestInitService_ComputesAndRecords(t *testing.T) {
	ctx := context.Background()
	e, err := initService(ctx, testConfig(t))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 2, e.Catalog.Len())
	require.NotNil(t, e.Cache)

	req := mgci.ComputeRequest{Region: "highlands", Start: "2020-01-01", End: "2021-01-01"}
	first, err := e.Service.Compute(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Result.Pct)
	assert.InDelta(t, 100.0, *first.Result.Pct, 1e-9)
	assert.Equal(t, "HIGH", first.Result.Region.ID)
	assert.Equal(t, resolution.Preview, first.Plan.Intent)

	second, err := e.Service.Compute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Result.AreaResult, second.Result.AreaResult)
	assert.Positive(t, e.Cache.Stats().Hits)

	runs, err := e.Store.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestInitService_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Engine.Kind = "gpu"
	_, err := initService(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.kind")
}

func TestInitService_WithoutStoreOrCache(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = config.StoreNone
	c.Cache.Enabled = false
	c.Cache.Backend = config.CacheBackendNone

	e, err := initService(context.Background(), c)
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Store)
	assert.Nil(t, e.Cache)
	resp, err := e.Service.Compute(context.Background(), mgci.ComputeRequest{
		Region: "HIGH-1", Start: "2020-01-01", End: "2021-01-01",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.RunID)
}

func TestInitStore(t *testing.T) {
	c := testConfig(t)

	c.Store.Driver = config.StoreNone
	st, err := initStore(context.Background(), c)
	require.NoError(t, err)
	assert.Nil(t, st)

	c.Store.Driver = "mysql"
	_, err = initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")

	c.Store.Driver = config.StoreSQLite
	st, err = initStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close()
	assert.Nil(t, storePool(st))
}

func TestDemoScene_ClusterAndSeries(t *testing.T) {
	c := testConfig(t)
	c.Engine.Scene = filepath.Join("..", "demo", "scene.yaml")
	c.Regions.Sources = []region.Source{{Format: region.FormatGeoJSON, Path: filepath.Join("..", "demo", "regions.geojson")}}

	ctx := context.Background()
	e, err := initService(ctx, c)
	require.NoError(t, err)
	defer e.Close()
	require.Equal(t, 4, e.Catalog.Len())

	resp, err := e.Service.Cluster(ctx, mgci.ClusterRequest{Region: "DEMO", Start: "2020-01-01", End: "2023-01-01"})
	require.NoError(t, err)
	rep := resp.Report
	assert.Equal(t, "DEMO", rep.Parent.ID)
	assert.Equal(t, 2, rep.K)
	require.Len(t, rep.Assignments, 3)

	byID := map[string]int{}
	for i, a := range rep.Assignments {
		byID[a.SubregionID] = i
	}
	west := rep.Assignments[byID["DEMO-W"]]
	central := rep.Assignments[byID["DEMO-C"]]
	east := rep.Assignments[byID["DEMO-E"]]
	assert.InDelta(t, 1.0, west.GreenFraction, 1e-9)
	assert.InDelta(t, 1.0, east.GreenFraction, 1e-9)
	assert.Less(t, central.GreenFraction, 0.9)
	assert.Equal(t, west.Cluster, east.Cluster)
	assert.NotEqual(t, west.Cluster, central.Cluster)

	series, err := e.Service.Series(ctx, mgci.SeriesRequest{Region: "Western Province", FromYear: 2020, ToYear: 2022})
	require.NoError(t, err)
	require.Len(t, series.Series.Entries, 3)
	assert.Zero(t, series.Series.MissingCount())
	pct2021 := series.Series.Entries[1].Result.Pct
	require.NotNil(t, pct2021)
	assert.InDelta(t, 100.0, *pct2021, 1e-9)
}
