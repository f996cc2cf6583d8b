// Package classify builds the mountain and green-cover masks that feed the
// area aggregation.
package classify

import (
	"math"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// Band is one elevation/slope criterion of the UNEP-WCMC mountain definition.
// Elevation bounds are [MinElevationM, MaxElevationM); slope is inclusive.
type Band struct {
	MinElevationM float64
	MaxElevationM float64
	MinSlopeDeg   float64
}

// Matches reports whether a pixel with this elevation and slope is in the band.
func (b Band) Matches(elevationM, slopeDeg float64) bool {
	return elevationM >= b.MinElevationM && elevationM < b.MaxElevationM && slopeDeg >= b.MinSlopeDeg
}

// MountainBands are the six Kapos classes. A pixel is mountainous if any band
// matches. The bounds are authoritative at band edges.
var MountainBands = [6]Band{
	{MinElevationM: 4500, MaxElevationM: math.Inf(1)},
	{MinElevationM: 3500, MaxElevationM: 4500},
	{MinElevationM: 2500, MaxElevationM: 3500},
	{MinElevationM: 1500, MaxElevationM: 2500, MinSlopeDeg: 2},
	{MinElevationM: 1000, MaxElevationM: 1500, MinSlopeDeg: 2},
	{MinElevationM: 300, MaxElevationM: 1000, MinSlopeDeg: 5},
}

// IsMountain evaluates the band disjunction for a single pixel.
func IsMountain(elevationM, slopeDeg float64) bool {
	return MountainBands[0].Matches(elevationM, slopeDeg) ||
		MountainBands[1].Matches(elevationM, slopeDeg) ||
		MountainBands[2].Matches(elevationM, slopeDeg) ||
		MountainBands[3].Matches(elevationM, slopeDeg) ||
		MountainBands[4].Matches(elevationM, slopeDeg) ||
		MountainBands[5].Matches(elevationM, slopeDeg)
}

// bandImage is the 0/1 raster of one band.
func bandImage(b Band, elevation, slope raster.Image) raster.Image {
	terms := []raster.Image{raster.GreaterEq(elevation, b.MinElevationM)}
	if !math.IsInf(b.MaxElevationM, 1) {
		terms = append(terms, raster.Less(elevation, b.MaxElevationM))
	}
	if b.MinSlopeDeg > 0 {
		terms = append(terms, raster.GreaterEq(slope, b.MinSlopeDeg))
	}
	return raster.And(terms...)
}

// MountainRule is the OR-chain of all six bands as a 0/1 raster.
func MountainRule(elevation, slope raster.Image) raster.Image {
	bands := make([]raster.Image, len(MountainBands))
	for i, b := range MountainBands {
		bands[i] = bandImage(b, elevation, slope)
	}
	return raster.Or(bands...)
}

// MountainMask is the mountain rule bound to the region it is clipped to.
type MountainMask struct {
	Image  raster.Image
	Region model.Region
}

// Classify derives the mountain mask from elevation and slope rasters.
func Classify(elevation, slope raster.Image, region model.Region) MountainMask {
	return MountainMask{Image: MountainRule(elevation, slope), Region: region}
}
