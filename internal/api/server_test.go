package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster/memory"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/resolution"
	"github.com/sells-group/mgci/internal/store"
)

const scene = `
rasters:
  - dataset: dem
    default: 3000
    zones:
      - {bbox: {min_lon: 0, min_lat: 0, max_lon: 1, max_lat: 1}, value: 50}
  - dataset: slope
    default: 8
series:
  - dataset: lc
    band: label
    observations:
      - {date: 2020-06-01, default: 1}
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())

	sc, err := memory.ParseScene([]byte(scene))
	require.NoError(t, err)
	cls, err := classify.New(classify.Datasets{Elevation: "dem", Slope: "slope", LandCover: "lc", LandCoverBand: "label"})
	require.NoError(t, err)
	strategy, err := resolution.NewStrategy(resolution.DefaultConfig())
	require.NoError(t, err)

	mk := func(id string, level int, parent string, b model.BBox) model.Region {
		r, err := model.NewRegion(id, id, b.Polygon())
		require.NoError(t, err)
		r.Level, r.Parent = level, parent
		return r
	}
	catalog, err := region.NewCatalog([]model.Region{
		mk("HIGH", 0, "", model.BBox{MinLon: 10, MinLat: 10, MaxLon: 10.2, MaxLat: 10.1}),
		mk("HIGH-1", 1, "HIGH", model.BBox{MinLon: 10, MinLat: 10, MaxLon: 10.1, MaxLat: 10.1}),
		mk("FLAT", 0, "", model.BBox{MinLon: 0.2, MinLat: 0.2, MaxLon: 0.4, MaxLat: 0.3}),
	})
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	svc, err := mgci.New(mgci.Deps{
		Regions: catalog, Engine: memory.New(sc), Classifier: cls, Strategy: strategy, Store: st,
	}, mgci.Options{})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(svc, Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCompute_AndFetchRun(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/v1/mgci",
		`{"region":"HIGH","start":"2020-01-01","end":"2021-01-01","resolution_m":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out mgci.ComputeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Result.Pct)
	assert.InDelta(t, 100.0, *out.Result.Pct, 1e-9)
	assert.Equal(t, "custom@2000m", out.Plan.CacheKey)
	require.NotEmpty(t, out.RunID)

	runResp := get(t, srv.URL+"/v1/runs/"+out.RunID)
	require.Equal(t, http.StatusOK, runResp.StatusCode)
	var run model.Run
	require.NoError(t, json.NewDecoder(runResp.Body).Decode(&run))
	assert.Equal(t, model.RunStatusComplete, run.Status)

	listResp := get(t, srv.URL+"/v1/runs?kind=mgci&limit=5")
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var runs []model.Run
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestCompute_UndefinedRatioIsNull(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/v1/mgci",
		`{"region":"FLAT","start":"2020-01-01","end":"2021-01-01","resolution_m":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["result"], "pct")
	assert.Nil(t, out["result"]["pct"])
}

func TestCompute_CSV(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/v1/mgci?format=csv",
		`{"region":"HIGH","start":"2020-01-01","end":"2021-01-01","resolution_m":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	recs, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "HIGH", recs[1][0])
	assert.Equal(t, "100", recs[1][8])
}

func TestSeriesAndCluster(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/v1/series", `{"region":"HIGH","from_year":2019,"to_year":2020,"resolution_m":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ts mgci.SeriesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ts))
	assert.Len(t, ts.Series.Entries, 2)

	resp = post(t, srv.URL+"/v1/cluster", `{"region":"HIGH","start":"2020-01-01","end":"2021-01-01","resolution_m":2000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cr mgci.ClusterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cr))
	assert.Equal(t, "HIGH", cr.Report.Parent.ID)
	assert.Equal(t, 0, cr.Report.K)
}

func TestListRegions(t *testing.T) {
	srv := newTestServer(t)

	resp := get(t, srv.URL+"/v1/regions?level=0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []regionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "FLAT", out[0].ID)

	resp = get(t, srv.URL+"/v1/regions?parent=high")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "HIGH-1", out[0].ID)
	assert.Equal(t, 10.1, out[0].BBox.MaxLon)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/v1/regions?level=x").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/v1/regions?parent=nowhere").StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown region", "/v1/mgci", `{"region":"Atlantis","start":"2020-01-01","end":"2021-01-01"}`, http.StatusNotFound},
		{"bad json", "/v1/mgci", `{"region":`, http.StatusBadRequest},
		{"unknown field", "/v1/mgci", `{"place":"HIGH"}`, http.StatusBadRequest},
		{"bad intent", "/v1/mgci", `{"region":"HIGH","start":"2020-01-01","end":"2021-01-01","intent":"max"}`, http.StatusBadRequest},
		{"reversed years", "/v1/series", `{"region":"HIGH","from_year":2021,"to_year":2020}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/v1/runs/missing").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/v1/runs?limit=-1").StatusCode)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{eris.Wrap(model.ErrAggregationTooLarge, "reduce"), http.StatusUnprocessableEntity},
		{&model.OpError{Op: "mgci", Err: model.ErrRemoteUnavailable}, http.StatusServiceUnavailable},
		{eris.Wrap(model.ErrRunNotFound, "get"), http.StatusNotFound},
		{eris.Wrap(context.DeadlineExceeded, "reduce"), http.StatusGatewayTimeout},
		{&mgci.InvalidRequestError{Err: eris.New("bad")}, http.StatusBadRequest},
		{eris.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	get(t, srv.URL+"/health")

	resp := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mgci_http_requests_total{code="200",route="/health"}`)
}
