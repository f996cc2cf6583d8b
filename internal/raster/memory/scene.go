// Package memory is a deterministic in-process raster engine. It evaluates
// expression graphs over a Scene of piecewise-constant layers, which makes
// every pipeline stage testable without a remote connection.
package memory

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mgci/internal/model"
)

// Zone assigns a constant value to every pixel whose center lies inside BBox.
type Zone struct {
	BBox  model.BBox `yaml:"bbox"`
	Value float64    `yaml:"value"`
}

// Layer is a piecewise-constant field. Later zones win over earlier ones.
// Pixels outside every zone take Default, or are masked when Default is nil.
type Layer struct {
	Default *float64 `yaml:"default,omitempty"`
	Zones   []Zone   `yaml:"zones,omitempty"`
}

// At samples the layer at a point.
func (l Layer) At(lon, lat float64) (float64, bool) {
	for i := len(l.Zones) - 1; i >= 0; i-- {
		if l.Zones[i].BBox.Contains(lon, lat) {
			return l.Zones[i].Value, true
		}
	}
	if l.Default != nil {
		return *l.Default, true
	}
	return 0, false
}

// Footprint returns the extent covered by the layer; ok is false when the
// layer has a default and therefore covers the whole globe.
func (l Layer) Footprint() (model.BBox, bool) {
	if l.Default != nil || len(l.Zones) == 0 {
		return model.BBox{}, false
	}
	fp := l.Zones[0].BBox
	for _, z := range l.Zones[1:] {
		fp.MinLon = min(fp.MinLon, z.BBox.MinLon)
		fp.MinLat = min(fp.MinLat, z.BBox.MinLat)
		fp.MaxLon = max(fp.MaxLon, z.BBox.MaxLon)
		fp.MaxLat = max(fp.MaxLat, z.BBox.MaxLat)
	}
	return fp, true
}

// Raster is a fixed single-band dataset such as a DEM.
type Raster struct {
	Dataset string `yaml:"dataset"`
	Layer   `yaml:",inline"`
}

// Observation is one dated image of a series.
type Observation struct {
	Date  time.Time `yaml:"date"`
	Layer `yaml:",inline"`
}

// ImageSeries is a dated stack of observations of one band.
type ImageSeries struct {
	Dataset      string        `yaml:"dataset"`
	Band         string        `yaml:"band"`
	Observations []Observation `yaml:"observations"`
}

// Scene is the complete world the engine evaluates against.
type Scene struct {
	Rasters []Raster      `yaml:"rasters"`
	Series  []ImageSeries `yaml:"series"`
}

// LoadScene reads a YAML scene file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "memory: read scene %s", path)
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a YAML scene.
func ParseScene(data []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "memory: parse scene")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that dataset identifiers are present and unique.
func (s *Scene) Validate() error {
	seen := make(map[string]bool)
	for i, r := range s.Rasters {
		if r.Dataset == "" {
			return eris.Errorf("memory: raster %d has no dataset", i)
		}
		if seen[r.Dataset] {
			return eris.Errorf("memory: duplicate raster dataset %q", r.Dataset)
		}
		seen[r.Dataset] = true
	}
	seenSeries := make(map[string]bool)
	for i, ser := range s.Series {
		if ser.Dataset == "" {
			return eris.Errorf("memory: series %d has no dataset", i)
		}
		key := ser.Dataset + "/" + ser.Band
		if seenSeries[key] {
			return eris.Errorf("memory: duplicate series %q", key)
		}
		seenSeries[key] = true
	}
	return nil
}

func (s *Scene) raster(dataset string) (*Raster, bool) {
	for i := range s.Rasters {
		if s.Rasters[i].Dataset == dataset {
			return &s.Rasters[i], true
		}
	}
	return nil, false
}

func (s *Scene) series(dataset, band string) (*ImageSeries, bool) {
	for i := range s.Series {
		ser := &s.Series[i]
		if ser.Dataset == dataset && (band == "" || ser.Band == "" || ser.Band == band) {
			return ser, true
		}
	}
	return nil, false
}
