package region

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/db"
	"github.com/sells-group/mgci/internal/fetcher"
	"github.com/sells-group/mgci/internal/model"
)

// Source formats.
const (
	FormatGeoJSON   = "geojson"
	FormatShapefile = "shapefile"
	FormatZip       = "zip"
	FormatPostGIS   = "postgis"
)

// Fields names the attributes that carry region identity. Empty names fall
// back to id, name, parent and level.
type Fields struct {
	ID     string `yaml:"id" mapstructure:"id"`
	Name   string `yaml:"name" mapstructure:"name"`
	Parent string `yaml:"parent" mapstructure:"parent"`
	Level  string `yaml:"level" mapstructure:"level"`
}

func (f Fields) withDefaults() Fields {
	if f.ID == "" {
		f.ID = "id"
	}
	if f.Name == "" {
		f.Name = "name"
	}
	if f.Parent == "" {
		f.Parent = "parent"
	}
	if f.Level == "" {
		f.Level = "level"
	}
	return f
}

// Source is one boundary catalog. Level applies to every record that has no
// level attribute.
type Source struct {
	Format string `yaml:"format" mapstructure:"format"`
	Path   string `yaml:"path" mapstructure:"path"`
	Level  int    `yaml:"level" mapstructure:"level"`
	Fields Fields `yaml:"fields" mapstructure:"fields"`
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Format, s.Path)
}

// Loader builds catalogs from sources. Fetcher is needed for zip sources and
// Pool for postgis sources.
type Loader struct {
	Fetcher  fetcher.Fetcher
	Pool     db.Pool
	CacheDir string
}

// Load reads every source into one Catalog.
func (l *Loader) Load(ctx context.Context, sources []Source) (*Catalog, error) {
	var all []model.Region
	for _, src := range sources {
		rs, err := l.LoadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		zap.L().Info("region: loaded catalog", zap.String("source", src.String()), zap.Int("regions", len(rs)))
		all = append(all, rs...)
	}
	return NewCatalog(all)
}

// LoadSource reads a single source.
func (l *Loader) LoadSource(ctx context.Context, src Source) ([]model.Region, error) {
	switch strings.ToLower(src.Format) {
	case FormatGeoJSON:
		return LoadGeoJSONFile(src.Path, src.Level, src.Fields)
	case FormatShapefile:
		return LoadShapefile(src.Path, src.Level, src.Fields)
	case FormatZip:
		if l.Fetcher == nil {
			return nil, eris.Errorf("region: %s needs a fetcher", src)
		}
		dir := l.CacheDir
		if dir == "" {
			dir = filepath.Join(".", "data", "boundaries")
		}
		return LoadZippedShapefile(ctx, l.Fetcher, src.Path, dir, src.Level, src.Fields)
	case FormatPostGIS:
		if l.Pool == nil {
			return nil, eris.Errorf("region: %s needs a database pool", src)
		}
		return LoadPostGIS(ctx, l.Pool)
	}
	return nil, eris.Errorf("region: unknown source format %q", src.Format)
}

// attrs abstracts over shapefile attribute rows and GeoJSON properties.
type attrs func(name string) (string, bool)

// build turns one record into a Region. Records with no ID are skipped with
// ok false.
func build(get attrs, f Fields, defaultLevel int, g *geom.MultiPolygon) (model.Region, bool, error) {
	id, _ := get(f.ID)
	if id == "" {
		return model.Region{}, false, nil
	}
	name, _ := get(f.Name)
	r, err := model.NewRegion(id, name, g)
	if err != nil {
		return model.Region{}, false, err
	}
	r.Level = defaultLevel
	if lv, ok := get(f.Level); ok && lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil {
			return model.Region{}, false, eris.Wrapf(err, "region: %s: level %q", id, lv)
		}
		r.Level = n
	}
	r.Parent, _ = get(f.Parent)
	return r, true, nil
}
