package region

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// toMultiPolygon normalises a decoded geometry to a 2D MultiPolygon in
// EPSG:4326. Extra ordinates are dropped.
func toMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	var polys [][][]geom.Coord
	switch t := g.(type) {
	case *geom.Polygon:
		polys = [][][]geom.Coord{t.Coords()}
	case *geom.MultiPolygon:
		polys = t.Coords()
	case nil:
		return nil, eris.New("region: missing geometry")
	default:
		return nil, eris.Errorf("region: unsupported geometry %T", g)
	}
	for _, p := range polys {
		for _, ring := range p {
			for k, c := range ring {
				ring[k] = geom.Coord{c[0], c[1]}
			}
		}
	}
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	if err != nil {
		return nil, eris.Wrap(err, "region: build multipolygon")
	}
	return mp.SetSRID(4326), nil
}

// signedArea is the shoelace sum of a closed ring; negative for clockwise
// rings.
func signedArea(ring []geom.Coord) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return a / 2
}
