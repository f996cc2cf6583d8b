package raster

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
)

// DefaultPixelCeiling matches the maxPixels bound used for every reduction
// unless configuration overrides it.
const DefaultPixelCeiling int64 = 1e13

// Engine evaluates expression graphs. Implementations own their execution
// and storage; ReduceRegion is the single point where a value leaves the
// lazy graph and may block for seconds to minutes.
type Engine interface {
	ReduceRegion(ctx context.Context, req ReduceRequest) (Reduction, error)
}

// ReduceRequest describes one spatial reduction.
type ReduceRequest struct {
	Image        Image
	Region       model.Region
	Reducer      Reducer
	ResolutionM  float64
	PixelCeiling int64

	// Label tags logs and metrics (e.g. the resolution plan). It is not part
	// of the request identity.
	Label string
}

// Validate checks the request before it is sent anywhere.
func (r ReduceRequest) Validate() error {
	if r.Image.IsZero() {
		return eris.New("raster: reduce: image is required")
	}
	if r.Region.Geometry == nil {
		return eris.Errorf("raster: reduce: region %s has no geometry", r.Region.ID)
	}
	if r.ResolutionM <= 0 {
		return eris.Errorf("raster: reduce: resolution must be positive, got %g", r.ResolutionM)
	}
	switch r.Reducer {
	case ReducerSum, ReducerMean:
	default:
		return eris.Errorf("raster: reduce: unsupported spatial reducer %q", r.Reducer)
	}
	return nil
}

// Ceiling returns the pixel ceiling, applying the default when unset.
func (r ReduceRequest) Ceiling() int64 {
	if r.PixelCeiling <= 0 {
		return DefaultPixelCeiling
	}
	return r.PixelCeiling
}

// Key returns a stable identity for the request: the same graph, region,
// reducer, resolution and ceiling always produce the same key.
func (r ReduceRequest) Key() (string, error) {
	payload := struct {
		Expr         *Expr   `json:"expr"`
		Region       string  `json:"region"`
		Reducer      Reducer `json:"reducer"`
		ResolutionM  float64 `json:"resolution_m"`
		PixelCeiling int64   `json:"pixel_ceiling"`
	}{
		Expr:         r.Image.Expr(),
		Region:       r.Region.Key(),
		Reducer:      r.Reducer,
		ResolutionM:  r.ResolutionM,
		PixelCeiling: r.Ceiling(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "raster: marshal request key")
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// Reduction is the scalar result of a reduction. Valid is false when no
// pixel contributed (empty intersection); that is data, not an error.
type Reduction struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// OrZero returns the value, or 0 for an empty reduction.
func (r Reduction) OrZero() float64 {
	if !r.Valid {
		return 0
	}
	return r.Value
}
