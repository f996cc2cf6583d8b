package model

// AreaResult holds the two aggregated areas of one MGCI computation.
// Both are >= 0. GreenAreaM2 <= MountainAreaM2 is expected but not enforced;
// classification noise can violate it.
type AreaResult struct {
	GreenAreaM2    float64 `json:"green_area_m2" yaml:"green_area_m2"`
	MountainAreaM2 float64 `json:"mountain_area_m2" yaml:"mountain_area_m2"`
}

// Consistent reports whether the green area fits inside the mountain area.
func (a AreaResult) Consistent() bool {
	return a.GreenAreaM2 <= a.MountainAreaM2
}

// MgciResult is the index for one region and period at one resolution.
// Pct is nil when the mountain area is zero.
type MgciResult struct {
	Region      RegionRef `json:"region" yaml:"region"`
	Period      Period    `json:"period" yaml:"period"`
	ResolutionM float64   `json:"resolution_m" yaml:"resolution_m"`
	AreaResult  `yaml:",inline"`
	Pct         *float64 `json:"pct" yaml:"pct"`
}

// NewMgciResult forms the ratio from the aggregated areas.
func NewMgciResult(region Region, period Period, resolutionM float64, areas AreaResult) MgciResult {
	r := MgciResult{
		Region:      region.Ref(),
		Period:      period,
		ResolutionM: resolutionM,
		AreaResult:  areas,
	}
	if areas.MountainAreaM2 > 0 {
		pct := areas.GreenAreaM2 / areas.MountainAreaM2 * 100
		r.Pct = &pct
	}
	return r
}

// Computable reports whether the ratio is defined.
func (r MgciResult) Computable() bool {
	return r.Pct != nil
}

// Ratio returns the percentage or ErrUndefinedRatio.
func (r MgciResult) Ratio() (float64, error) {
	if r.Pct == nil {
		return 0, ErrUndefinedRatio
	}
	return *r.Pct, nil
}

// GreenAreaKM2 returns the green area in square kilometers.
func (r MgciResult) GreenAreaKM2() float64 { return r.GreenAreaM2 / 1e6 }

// MountainAreaKM2 returns the mountain area in square kilometers.
func (r MgciResult) MountainAreaKM2() float64 { return r.MountainAreaM2 / 1e6 }

// SeriesEntry is one period of a time series. Result is nil when the period
// failed; Error then carries the failure.
type SeriesEntry struct {
	Period Period      `json:"period" yaml:"period"`
	Result *MgciResult `json:"result" yaml:"result"`
	Error  string      `json:"error,omitempty" yaml:"error,omitempty"`
	Kind   string      `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Missing reports whether the entry holds no value.
func (e SeriesEntry) Missing() bool {
	return e.Result == nil
}

// TimeSeries is ordered by period and always has one entry per requested period.
type TimeSeries struct {
	Region      RegionRef     `json:"region" yaml:"region"`
	ResolutionM float64       `json:"resolution_m" yaml:"resolution_m"`
	Entries     []SeriesEntry `json:"entries" yaml:"entries"`
}

// MissingCount returns the number of failed periods.
func (s TimeSeries) MissingCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.Missing() {
			n++
		}
	}
	return n
}

// ClusterAssignment places one subregion in a greenness group.
type ClusterAssignment struct {
	SubregionID      string   `json:"subregion_id" yaml:"subregion_id"`
	Name             string   `json:"name" yaml:"name"`
	GreenFraction    float64  `json:"green_fraction" yaml:"green_fraction"`
	ElevationSummary *float64 `json:"elevation_summary,omitempty" yaml:"elevation_summary,omitempty"`
	Cluster          int      `json:"cluster" yaml:"cluster"`
}

// SubregionFailure records a subregion excluded from clustering.
type SubregionFailure struct {
	SubregionID string `json:"subregion_id" yaml:"subregion_id"`
	Error       string `json:"error" yaml:"error"`
}

// ClusterReport is the outcome of one clustering pass.
type ClusterReport struct {
	Parent      RegionRef           `json:"parent" yaml:"parent"`
	DateRange   DateRange           `json:"date_range" yaml:"date_range"`
	Features    string              `json:"features" yaml:"features"`
	K           int                 `json:"k" yaml:"k"`
	Assignments []ClusterAssignment `json:"assignments" yaml:"assignments"`
	Excluded    []SubregionFailure  `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}
