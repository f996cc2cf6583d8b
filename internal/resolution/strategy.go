// Package resolution maps a user intent to the sampling parameters of a
// reduction. The MGCI algorithm is the same at every resolution; only the
// grid changes.
package resolution

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/raster"
)

// Intent is what the caller wants from a computation.
type Intent string

const (
	Preview  Intent = "preview"
	Standard Intent = "standard"
	Final    Intent = "final"
)

// Bounds of the preview tier in meters.
const (
	MinPreviewM = 1000
	MaxPreviewM = 2000
)

// Plan is the parameterization of one tier.
type Plan struct {
	Intent       Intent  `json:"intent"`
	ResolutionM  float64 `json:"resolution_m"`
	CacheKey     string  `json:"cache_key"`
	PixelCeiling int64   `json:"pixel_ceiling"`
}

// Config holds the resolution of each tier.
type Config struct {
	PreviewM     float64 `yaml:"preview_m" mapstructure:"preview_m"`
	StandardM    float64 `yaml:"standard_m" mapstructure:"standard_m"`
	FinalM       float64 `yaml:"final_m" mapstructure:"final_m"`
	PixelCeiling int64   `yaml:"pixel_ceiling" mapstructure:"pixel_ceiling"`
}

// DefaultConfig returns preview 2000 m, standard 1000 m, final 30 m.
func DefaultConfig() Config {
	return Config{
		PreviewM:     MaxPreviewM,
		StandardM:    1000,
		FinalM:       30,
		PixelCeiling: raster.DefaultPixelCeiling,
	}
}

// Validate checks the tier ordering and the preview range.
func (c Config) Validate() error {
	if c.PreviewM < MinPreviewM || c.PreviewM > MaxPreviewM {
		return eris.Errorf("resolution: preview must be within %d-%d m, got %g", MinPreviewM, MaxPreviewM, c.PreviewM)
	}
	if c.StandardM <= 0 || c.FinalM <= 0 {
		return eris.New("resolution: standard and final resolutions must be positive")
	}
	if c.FinalM > c.StandardM || c.StandardM > c.PreviewM {
		return eris.Errorf("resolution: expected final <= standard <= preview, got %g/%g/%g",
			c.FinalM, c.StandardM, c.PreviewM)
	}
	return nil
}

// Strategy is a pure lookup from intent to plan.
type Strategy struct {
	plans map[Intent]Plan
}

// NewStrategy validates cfg and builds the plan table.
func NewStrategy(cfg Config) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ceiling := cfg.PixelCeiling
	if ceiling <= 0 {
		ceiling = raster.DefaultPixelCeiling
	}
	s := &Strategy{plans: make(map[Intent]Plan, 3)}
	for intent, res := range map[Intent]float64{Preview: cfg.PreviewM, Standard: cfg.StandardM, Final: cfg.FinalM} {
		s.plans[intent] = Plan{
			Intent:       intent,
			ResolutionM:  res,
			CacheKey:     fmt.Sprintf("%s@%gm", intent, res),
			PixelCeiling: ceiling,
		}
	}
	return s, nil
}

// PlanFor returns the plan of an intent.
func (s *Strategy) PlanFor(intent Intent) (Plan, error) {
	p, ok := s.plans[intent]
	if !ok {
		return Plan{}, eris.Errorf("resolution: unknown intent %q", intent)
	}
	return p, nil
}

// ParseIntent accepts the intent names case-insensitively.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case Preview:
		return Preview, nil
	case Standard:
		return Standard, nil
	case Final:
		return Final, nil
	}
	return "", eris.Errorf("resolution: unknown intent %q (want preview, standard or final)", s)
}

// Custom is the intent of an explicit resolution.
const Custom Intent = "custom"

// At returns a plan for an explicit resolution, used when the caller passes
// meters instead of an intent.
func At(resolutionM float64, pixelCeiling int64) Plan {
	if pixelCeiling <= 0 {
		pixelCeiling = raster.DefaultPixelCeiling
	}
	return Plan{
		Intent:       Custom,
		ResolutionM:  resolutionM,
		CacheKey:     fmt.Sprintf("%s@%gm", Custom, resolutionM),
		PixelCeiling: pixelCeiling,
	}
}
