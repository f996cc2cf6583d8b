package memory

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/mgci/internal/model"
)

// metersPerDegree is the length of one degree of latitude (and of longitude
// at the equator) on the sphere used for the sampling grid.
const metersPerDegree = 111320.0

// grid lays square pixels of resM meters over a bbox. Row height is constant
// in degrees; column width is widened by 1/cos(lat) per row so every pixel
// covers resM*resM square meters.
type grid struct {
	bbox model.BBox
	resM float64
	dLat float64
	rows int
}

func newGrid(b model.BBox, resM float64) grid {
	dLat := resM / metersPerDegree
	rows := int(math.Ceil((b.MaxLat - b.MinLat) / dLat))
	return grid{bbox: b, resM: resM, dLat: dLat, rows: rows}
}

func (g grid) rowLat(i int) float64 {
	return g.bbox.MinLat + (float64(i)+0.5)*g.dLat
}

func (g grid) rowDLon(lat float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	if c < 1e-9 {
		c = 1e-9
	}
	return g.resM / (metersPerDegree * c)
}

func (g grid) cols(lat float64) int {
	return int(math.Ceil((g.bbox.MaxLon - g.bbox.MinLon) / g.rowDLon(lat)))
}

// pixelCount is the number of pixels the grid would visit.
func (g grid) pixelCount() int64 {
	var n int64
	for i := 0; i < g.rows; i++ {
		n += int64(g.cols(g.rowLat(i)))
	}
	return n
}

func (g grid) pixelArea() float64 {
	return g.resM * g.resM
}

// polygon holds the flat coordinates of one polygon: the outer ring first,
// then holes.
type polygon struct {
	rings [][]float64
	bbox  model.BBox
}

type shape []polygon

func newShape(mp *geom.MultiPolygon) shape {
	out := make(shape, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			continue
		}
		poly := polygon{}
		for j := 0; j < p.NumLinearRings(); j++ {
			r := p.LinearRing(j)
			flat := r.FlatCoords()
			stride := r.Stride()
			xy := make([]float64, 0, len(flat)/stride*2)
			for k := 0; k+1 < len(flat); k += stride {
				xy = append(xy, flat[k], flat[k+1])
			}
			poly.rings = append(poly.rings, xy)
		}
		b := p.Bounds()
		poly.bbox = model.BBox{MinLon: b.Min(0), MinLat: b.Min(1), MaxLon: b.Max(0), MaxLat: b.Max(1)}
		out = append(out, poly)
	}
	return out
}

// contains reports whether the point lies inside the shape: inside some
// outer ring and outside that polygon's holes.
func (s shape) contains(lon, lat float64) bool {
	for _, p := range s {
		if !p.bbox.Contains(lon, lat) {
			continue
		}
		if !ringContains(p.rings[0], lon, lat) {
			continue
		}
		inHole := false
		for _, hole := range p.rings[1:] {
			if ringContains(hole, lon, lat) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// ringContains is the even-odd ray casting test.
func ringContains(xy []float64, x, y float64) bool {
	n := len(xy) / 2
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := xy[2*i], xy[2*i+1]
		xj, yj := xy[2*j], xy[2*j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
