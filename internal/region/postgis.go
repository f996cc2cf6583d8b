package region

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/db"
	"github.com/sells-group/mgci/internal/model"
)

// RegionsTable is the PostGIS boundary table created by the store migration.
const RegionsTable = "mgci.regions"

var regionColumns = []string{"id", "name", "level", "parent_id", "geom"}

const selectRegionsSQL = `SELECT id, name, level, COALESCE(parent_id, ''), ST_AsBinary(geom)
FROM mgci.regions ORDER BY id`

// LoadPostGIS reads every boundary in mgci.regions.
func LoadPostGIS(ctx context.Context, pool db.Pool) ([]model.Region, error) {
	rows, err := pool.Query(ctx, selectRegionsSQL)
	if err != nil {
		return nil, eris.Wrap(err, "region: query regions")
	}
	defer rows.Close()

	var out []model.Region
	for rows.Next() {
		var (
			id, name, parent string
			level            int
			data             []byte
		)
		if err := rows.Scan(&id, &name, &level, &parent, &data); err != nil {
			return nil, eris.Wrap(err, "region: scan region")
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, eris.Wrapf(err, "region: decode geometry of %s", id)
		}
		mp, err := toMultiPolygon(g)
		if err != nil {
			return nil, eris.Wrapf(err, "region: %s", id)
		}
		r, err := model.NewRegion(id, name, mp)
		if err != nil {
			return nil, err
		}
		r.Level = level
		r.Parent = parent
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "region: iterate regions")
	}
	return out, nil
}

// Import upserts regions into mgci.regions keyed by id and returns the rows
// written.
func Import(ctx context.Context, pool db.Pool, regions []model.Region, batchSize int) (int64, error) {
	rows := make([][]any, 0, len(regions))
	for _, r := range regions {
		data, err := ewkb.Marshal(r.Geometry, ewkb.NDR)
		if err != nil {
			return 0, eris.Wrapf(err, "region: encode geometry of %s", r.ID)
		}
		var parent any
		if r.Parent != "" {
			parent = r.Parent
		}
		rows = append(rows, []any{r.ID, r.Name, r.Level, parent, data})
	}
	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        RegionsTable,
		Columns:      regionColumns,
		ConflictKeys: []string{"id"},
		BatchSize:    batchSize,
	}, rows)
	if err != nil {
		return n, eris.Wrap(err, "region: import")
	}
	zap.L().Info("region: imported boundaries", zap.Int64("rows", n))
	return n, nil
}
