package classify

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// Datasets names the source rasters.
type Datasets struct {
	Elevation     string
	Slope         string
	LandCover     string
	LandCoverBand string
}

// Validate checks that every dataset is named.
func (d Datasets) Validate() error {
	switch {
	case d.Elevation == "":
		return eris.New("classify: elevation dataset is required")
	case d.Slope == "":
		return eris.New("classify: slope dataset is required")
	case d.LandCover == "":
		return eris.New("classify: land cover dataset is required")
	}
	return nil
}

// Classifier builds masks from the configured datasets. It holds no
// per-region state.
type Classifier struct {
	ds Datasets
}

// New returns a Classifier.
func New(ds Datasets) (*Classifier, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{ds: ds}, nil
}

// Elevation returns the DEM raster.
func (c *Classifier) Elevation() raster.Image {
	return raster.LoadRaster(c.ds.Elevation)
}

// Mountain returns the mountain mask for region.
func (c *Classifier) Mountain(region model.Region) MountainMask {
	return Classify(c.Elevation(), raster.LoadRaster(c.ds.Slope), region)
}

// GreenFraction returns the mean green fraction over dr for region.
func (c *Classifier) GreenFraction(dr model.DateRange, region model.Region) (GreenFraction, error) {
	labels := raster.LoadImageSeries(c.ds.LandCover, c.ds.LandCoverBand, dr, region.BBox())
	return GreenFractionOf(labels, dr, region)
}

// GreenMask returns the persistent-green mask over dr for region.
func (c *Classifier) GreenMask(dr model.DateRange, region model.Region) (GreenMask, error) {
	f, err := c.GreenFraction(dr, region)
	if err != nil {
		return GreenMask{}, err
	}
	return f.Mask(), nil
}
