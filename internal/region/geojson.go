package region

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/model"
)

// LoadGeoJSONFile reads a FeatureCollection from path.
func LoadGeoJSONFile(path string, level int, fields Fields) ([]model.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return LoadGeoJSON(f, level, fields)
}

// LoadGeoJSON reads a FeatureCollection of Polygon and MultiPolygon
// features. The feature id is used when the id property is absent.
func LoadGeoJSON(r io.Reader, level int, fields Fields) ([]model.Region, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "region: decode geojson")
	}
	fields = fields.withDefaults()

	var (
		out     []model.Region
		skipped int
	)
	for i, feat := range fc.Features {
		get := propertyAttrs(feat)
		g, err := toMultiPolygon(feat.Geometry)
		if err != nil {
			zap.L().Debug("region: skipping feature", zap.Int("index", i), zap.Error(err))
			skipped++
			continue
		}
		reg, ok, err := build(get, fields, level, g)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		out = append(out, reg)
	}
	if skipped > 0 {
		zap.L().Warn("region: skipped geojson features", zap.Int("skipped", skipped))
	}
	return out, nil
}

func propertyAttrs(feat *geojson.Feature) attrs {
	return func(name string) (string, bool) {
		v, ok := feat.Properties[name]
		if !ok || v == nil {
			if name == "id" && feat.ID != "" {
				return feat.ID, true
			}
			return "", false
		}
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		}
		return "", false
	}
}
