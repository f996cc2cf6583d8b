package region

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/mgci/internal/model"
)

func TestLoadPostGIS(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	b := model.BBox{MinLon: 80, MinLat: 26, MaxLon: 88, MaxLat: 30}
	data, err := wkb.Marshal(b.Polygon(), wkb.NDR)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, name, level, COALESCE\(parent_id, ''\), ST_AsBinary\(geom\)`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "level", "parent_id", "geom"}).
			AddRow("NP", "Nepal", 0, "", data).
			AddRow("NP-1", "Koshi", 1, "NP", data))

	rs, err := LoadPostGIS(context.Background(), mock)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, "Nepal", rs[0].Name)
	assert.Equal(t, b, rs[0].BBox())
	assert.Equal(t, 1, rs[1].Level)
	assert.Equal(t, "NP", rs[1].Parent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPostGIS_BadGeometry(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM mgci.regions`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "level", "parent_id", "geom"}).
			AddRow("NP", "Nepal", 0, "", []byte{0x01, 0x02}))

	_, err = LoadPostGIS(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode geometry of NP")
}

func TestLoadPostGIS_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM mgci.regions`).WillReturnError(errors.New("relation does not exist"))
	_, err = LoadPostGIS(context.Background(), mock)
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	b := model.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}
	country, err := model.NewRegion("C", "Country", b.Polygon())
	require.NoError(t, err)
	province, err := model.NewRegion("C-1", "Province", b.Polygon())
	require.NoError(t, err)
	province.Level, province.Parent = 1, "C"

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_mgci_regions"}, regionColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "mgci"."regions"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := Import(context.Background(), mock, []model.Region{country, province}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
