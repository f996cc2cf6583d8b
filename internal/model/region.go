package model

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// BBox is a lon/lat bounding box in EPSG:4326.
type BBox struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// Valid reports whether the box has positive extent and sane coordinates.
func (b BBox) Valid() bool {
	return b.MinLon < b.MaxLon && b.MinLat < b.MaxLat &&
		b.MinLon >= -180 && b.MaxLon <= 180 &&
		b.MinLat >= -90 && b.MaxLat <= 90
}

// Intersects reports whether two boxes overlap.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLon < o.MaxLon && o.MinLon < b.MaxLon &&
		b.MinLat < o.MaxLat && o.MinLat < b.MaxLat
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, eris.Errorf("model: bbox %q: expected 4 comma-separated numbers", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, eris.Wrapf(err, "model: bbox %q: parse coordinate %d", s, i)
		}
		v[i] = f
	}
	b := BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
	if !b.Valid() {
		return BBox{}, eris.Errorf("model: bbox %q: empty or out of range", s)
	}
	return b, nil
}

// Polygon returns the box as a single-polygon MultiPolygon (SRID 4326).
func (b BBox) Polygon() *geom.MultiPolygon {
	ring := []geom.Coord{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
		{b.MinLon, b.MinLat},
	}
	return geom.NewMultiPolygon(geom.XY).
		MustSetCoords([][][]geom.Coord{{ring}}).
		SetSRID(4326)
}

// Region is a resolved administrative boundary or bounding box. Regions are
// immutable once resolved and are passed by value through every operation.
type Region struct {
	ID       string
	Name     string
	Level    int
	Parent   string
	Geometry *geom.MultiPolygon
}

// RegionRef is the plain-data identity of a region carried in results.
type RegionRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// NewRegion validates the geometry and returns a Region.
func NewRegion(id, name string, g *geom.MultiPolygon) (Region, error) {
	if id == "" {
		return Region{}, eris.New("model: region id is required")
	}
	if g == nil || g.NumPolygons() == 0 {
		return Region{}, eris.Errorf("model: region %s has no polygons", id)
	}
	if name == "" {
		name = id
	}
	return Region{ID: id, Name: name, Geometry: g}, nil
}

// BBoxRegion builds a rectangular region from a bounding box.
func BBoxRegion(b BBox) Region {
	id := "bbox:" + b.String()
	return Region{ID: id, Name: id, Geometry: b.Polygon()}
}

// Ref returns the plain-data identity of the region.
func (r Region) Ref() RegionRef {
	return RegionRef{ID: r.ID, Name: r.Name}
}

// BBox returns the bounding box of the region geometry.
func (r Region) BBox() BBox {
	if r.Geometry == nil || r.Geometry.Empty() {
		return BBox{}
	}
	b := r.Geometry.Bounds()
	return BBox{MinLon: b.Min(0), MinLat: b.Min(1), MaxLon: b.Max(0), MaxLat: b.Max(1)}
}

// Key returns a stable hash of the region identity and geometry, used as a
// component of cache keys. Two regions with the same ID but different
// geometry never share a key.
func (r Region) Key() string {
	h := sha256.New()
	h.Write([]byte(r.ID))
	h.Write([]byte{0})
	if r.Geometry != nil {
		if data, err := ewkb.Marshal(r.Geometry, ewkb.NDR); err == nil {
			h.Write(data)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (r Region) String() string {
	if r.Name != "" && r.Name != r.ID {
		return fmt.Sprintf("%s (%s)", r.Name, r.ID)
	}
	return r.ID
}
