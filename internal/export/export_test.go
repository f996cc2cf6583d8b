package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mgci/internal/model"
)

func testResult(t *testing.T, mountain, green float64) model.MgciResult {
	t.Helper()
	periods, err := model.YearlyPeriods(2020, 2020)
	require.NoError(t, err)
	r := model.BBoxRegion(model.BBox{MinLon: 86, MinLat: 27, MaxLon: 87, MaxLat: 28})
	r.Name = "Everest"
	return model.NewMgciResult(r, periods[0], 1000, model.AreaResult{GreenAreaM2: green, MountainAreaM2: mountain})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": JSON, "YAML": YAML, "yml": YAML, " csv ": CSV, "xlsx": XLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("parquet")
	assert.Error(t, err)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, CSV, FormatForPath("out/mgci.csv"))
	assert.Equal(t, XLSX, FormatForPath("report.XLSX"))
	assert.Equal(t, YAML, FormatForPath("a.yml"))
	assert.Equal(t, JSON, FormatForPath("noext"))
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, JSON, testResult(t, 0, 0)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Nil(t, got["pct"])
	assert.Contains(t, got, "mountain_area_m2")
	assert.Equal(t, "2020", got["period"].(map[string]any)["label"])
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, YAML, testResult(t, 4e6, 1e6)))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.InDelta(t, 25.0, got["pct"], 1e-9)
	assert.InDelta(t, 4e6, got["mountain_area_m2"], 1e-9)
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	results := []model.MgciResult{testResult(t, 4e6, 1e6), testResult(t, 0, 0)}
	require.NoError(t, Write(&buf, CSV, results))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	want := [][]string{
		mgciHeader,
		{"bbox:86,27,87,28", "Everest", "2020", "2020-01-01", "2021-01-01", "1000", "4", "1", "25"},
		{"bbox:86,27,87,28", "Everest", "2020", "2020-01-01", "2021-01-01", "1000", "0", "0", ""},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestSeriesTable_KeepsFailedPeriods(t *testing.T) {
	periods, err := model.YearlyPeriods(2019, 2020)
	require.NoError(t, err)
	ok := testResult(t, 4e6, 2e6)
	ts := model.TimeSeries{
		Region:      ok.Region,
		ResolutionM: 1000,
		Entries: []model.SeriesEntry{
			{Period: periods[0], Error: "remote unavailable"},
			{Period: periods[1], Result: &ok},
		},
	}
	tbl := SeriesTable(ts)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "2019", tbl.Rows[0][2])
	assert.Nil(t, tbl.Rows[0][8])
	assert.Equal(t, "remote unavailable", tbl.Rows[0][9])
	assert.Equal(t, 50.0, tbl.Rows[1][8])
}

func TestWrite_XLSXCluster(t *testing.T) {
	elev := 3200.0
	report := model.ClusterReport{
		K: 2,
		Assignments: []model.ClusterAssignment{
			{SubregionID: "a", Name: "Alpha", GreenFraction: 0.25, ElevationSummary: &elev, Cluster: 0},
			{SubregionID: "b", Name: "Beta", GreenFraction: 0.75, Cluster: 1},
		},
		Excluded: []model.SubregionFailure{{SubregionID: "c", Error: "aggregation too large"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, XLSX, &report))

	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Sheets, 1)
	sheet := file.Sheets[0]
	assert.Equal(t, "clusters", sheet.Name)
	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, "subregion_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Alpha", sheet.Rows[1].Cells[1].String())
	g, err := sheet.Rows[2].Cells[2].Float()
	require.NoError(t, err)
	assert.Equal(t, 0.75, g)
	assert.Equal(t, "aggregation too large", sheet.Rows[3].Cells[5].String())
}

func TestWrite_Untabulated(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, CSV, map[string]int{"a": 1}))
	assert.Error(t, Write(&buf, Format("toml"), 1))
}
