package region

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/mgci/internal/fetcher"
	"github.com/sells-group/mgci/internal/model"
)

// LoadShapefile reads polygon records from a shapefile. Attribute text is
// decoded with the code page named in the sibling .cpg file, if any.
func LoadShapefile(shpPath string, level int, fields Fields) ([]model.Region, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	dec := codePage(shpPath)
	fields = fields.withDefaults()
	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	get := func(name string) (string, bool) {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if !ok {
			return "", false
		}
		val := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
		if dec != nil {
			if s, err := dec.String(val); err == nil {
				val = s
			}
		}
		return val, true
	}

	var (
		out     []model.Region
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		g, err := shapePolygon(poly)
		if err != nil {
			skipped++
			continue
		}
		r, ok, err := build(get, fields, level, g)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if skipped > 0 {
		zap.L().Debug("region: skipped shapefile records", zap.String("path", shpPath), zap.Int("skipped", skipped))
	}
	return out, nil
}

// codePage returns the decoder named by the .cpg file next to shpPath, or
// nil for UTF-8 and unknown code pages.
func codePage(shpPath string) *encoding.Decoder {
	data, err := os.ReadFile(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".cpg")
	if err != nil {
		return nil
	}
	label := strings.ToLower(strings.TrimSpace(string(data)))
	if label == "" || label == "utf-8" || label == "utf8" {
		return nil
	}
	if strings.HasPrefix(label, "88591") {
		label = "iso-8859-1"
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		zap.L().Warn("region: unknown shapefile code page", zap.String("cpg", label))
		return nil
	}
	return enc.NewDecoder()
}

// shapePolygon converts shapefile rings into polygons. Clockwise rings start
// a new polygon; counter-clockwise rings are holes of the polygon before them.
func shapePolygon(p *shp.Polygon) (*geom.MultiPolygon, error) {
	var polys [][][]geom.Coord
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}
		ring := make([]geom.Coord, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, geom.Coord{p.Points[j].X, p.Points[j].Y})
		}
		if signedArea(ring) > 0 && len(polys) > 0 {
			last := len(polys) - 1
			polys[last] = append(polys[last], ring)
			continue
		}
		polys = append(polys, [][]geom.Coord{ring})
	}
	if len(polys) == 0 {
		return nil, eris.New("region: polygon has no usable rings")
	}
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	if err != nil {
		return nil, eris.Wrap(err, "region: build multipolygon")
	}
	return mp.SetSRID(4326), nil
}

// LoadZippedShapefile downloads a zipped shapefile into dir, unpacks it and
// reads the first .shp inside. An unchanged download reuses the unpacked copy.
func LoadZippedShapefile(ctx context.Context, f fetcher.Fetcher, url, dir string, level int, fields Fields) ([]model.Region, error) {
	name := filepath.Base(url)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	zipPath := filepath.Join(dir, name)
	changed, err := f.Fetch(ctx, url, zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "region: fetch %s", url)
	}

	extractDir := strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
	shpPath, found := findShapefile(extractDir)
	if changed || !found {
		paths, err := fetcher.ExtractZIP(zipPath, extractDir, ".shp", ".shx", ".dbf", ".cpg", ".prj")
		if err != nil {
			return nil, eris.Wrapf(err, "region: unpack %s", zipPath)
		}
		found = false
		for _, p := range paths {
			if strings.EqualFold(filepath.Ext(p), ".shp") {
				shpPath, found = p, true
				break
			}
		}
	}
	if !found {
		return nil, eris.Errorf("region: no .shp file in %s", zipPath)
	}
	return LoadShapefile(shpPath, level, fields)
}

func findShapefile(dir string) (string, bool) {
	var found string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return filepath.SkipAll
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".shp") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}
