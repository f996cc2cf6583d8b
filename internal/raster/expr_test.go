package raster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mgci/internal/model"
)

func testDateRange(t *testing.T) model.DateRange {
	t.Helper()
	dr, err := model.NewDateRange(
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return dr
}

func TestRemapLabels_LengthMismatch(t *testing.T) {
	t.Parallel()

	s := LoadImageSeries("lc", "label", testDateRange(t), model.BBox{MaxLon: 1, MaxLat: 1})
	_, err := RemapLabels(s, []int{1, 2}, []float64{1}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 source labels but 1 targets")
}

func TestRemapLabels_CopiesInputs(t *testing.T) {
	t.Parallel()

	s := LoadImageSeries("lc", "label", testDateRange(t), model.BBox{MaxLon: 1, MaxLat: 1})
	from := []int{1, 2}
	to := []float64{1, 1}
	remapped, err := RemapLabels(s, from, to, 0)
	require.NoError(t, err)

	from[0] = 9
	to[0] = 9
	assert.Equal(t, []int{1, 2}, remapped.Expr().From)
	assert.Equal(t, []float64{1, 1}, remapped.Expr().To)
	assert.Same(t, s.Expr(), remapped.Expr().Args[0])
}

func TestImage_MarshalJSON(t *testing.T) {
	t.Parallel()

	img := Mask(Multiply(Constant(2), PixelArea()), Threshold(LoadRaster("dem"), 4500))
	data, err := json.Marshal(img)
	require.NoError(t, err)

	var decoded Expr
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, OpMask, decoded.Op)
	require.Len(t, decoded.Args, 2)
	assert.Equal(t, OpGreaterEq, decoded.Args[1].Op)
	assert.Equal(t, 4500.0, *decoded.Args[1].Value)
	assert.Equal(t, "dem", decoded.Args[1].Args[0].Dataset)
}

func TestReduceRequest_Key(t *testing.T) {
	t.Parallel()

	region := model.BBoxRegion(model.BBox{MinLon: 40, MinLat: 18, MaxLon: 41, MaxLat: 19})
	base := ReduceRequest{
		Image:       Multiply(LoadRaster("dem"), PixelArea()),
		Region:      region,
		Reducer:     ReducerSum,
		ResolutionM: 1000,
		Label:       "preview",
	}

	k1, err := base.Key()
	require.NoError(t, err)

	same := base
	same.Image = Multiply(LoadRaster("dem"), PixelArea())
	same.Label = "other"
	k2, err := same.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "label and node identity must not change the key")

	finer := base
	finer.ResolutionM = 30
	k3, err := finer.Key()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	explicit := base
	explicit.PixelCeiling = DefaultPixelCeiling
	k4, err := explicit.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k4, "default ceiling is applied before hashing")
}

func TestReduceRequest_Validate(t *testing.T) {
	t.Parallel()

	region := model.BBoxRegion(model.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1})
	valid := ReduceRequest{Image: PixelArea(), Region: region, Reducer: ReducerSum, ResolutionM: 30}
	require.NoError(t, valid.Validate())

	noImage := valid
	noImage.Image = Image{}
	assert.Error(t, noImage.Validate())

	badRes := valid
	badRes.ResolutionM = 0
	assert.Error(t, badRes.Validate())

	mode := valid
	mode.Reducer = ReducerMode
	assert.Error(t, mode.Validate())

	noGeom := valid
	noGeom.Region = model.Region{ID: "x"}
	assert.Error(t, noGeom.Validate())
}
