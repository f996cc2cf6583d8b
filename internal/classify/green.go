package classify

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// LandCoverClass is a Dynamic World label.
type LandCoverClass int

const (
	Water LandCoverClass = iota
	Trees
	Grass
	FloodedVegetation
	Crops
	ShrubAndScrub
	Built
	Bare
	SnowAndIce
)

var classNames = [...]string{
	"water", "trees", "grass", "flooded_vegetation", "crops",
	"shrub_and_scrub", "built", "bare", "snow_and_ice",
}

func (c LandCoverClass) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

// GreenLabels is the single table of land-cover classes counted as green.
// Every green computation goes through it.
var GreenLabels = [...]LandCoverClass{Trees, Grass, Crops, ShrubAndScrub}

// GreenThreshold is the minimum green fraction for the persistent-green mask.
const GreenThreshold = 0.5

// IsGreen reports whether a raw label is in GreenLabels.
func IsGreen(label int) bool {
	for _, c := range GreenLabels {
		if int(c) == label {
			return true
		}
	}
	return false
}

func greenRemap() ([]int, []float64) {
	from := make([]int, len(GreenLabels))
	to := make([]float64, len(GreenLabels))
	for i, c := range GreenLabels {
		from[i] = int(c)
		to[i] = 1
	}
	return from, to
}

// GreenFraction is the per-pixel share of green observations in [0,1].
type GreenFraction struct {
	Image     raster.Image
	Region    model.Region
	DateRange model.DateRange
}

// GreenMask is 1 where the pixel was green in at least half of the observations.
type GreenMask struct {
	Image     raster.Image
	Region    model.Region
	DateRange model.DateRange
}

// Mask thresholds the fraction into the persistent-green mask.
func (g GreenFraction) Mask() GreenMask {
	return GreenMask{
		Image:     raster.Threshold(g.Image, GreenThreshold),
		Region:    g.Region,
		DateRange: g.DateRange,
	}
}

// GreenFractionOf remaps a label series through GreenLabels and averages it
// over time.
func GreenFractionOf(labels raster.Series, dr model.DateRange, region model.Region) (GreenFraction, error) {
	from, to := greenRemap()
	green, err := raster.RemapLabels(labels, from, to, 0)
	if err != nil {
		return GreenFraction{}, eris.Wrap(err, "classify: remap green labels")
	}
	return GreenFraction{
		Image:     raster.TemporalReduce(green, raster.ReducerMean),
		Region:    region,
		DateRange: dr,
	}, nil
}
