package mgci

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/resolution"
)

// Resolution picks the plan of a request: an explicit size in meters wins
// over the intent; an empty intent means preview.
type Resolution struct {
	Intent      string  `json:"intent,omitempty" yaml:"intent,omitempty"`
	ResolutionM float64 `json:"resolution_m,omitempty" yaml:"resolution_m,omitempty"`
}

// ComputeRequest asks for the MGCI of one region over one date range.
type ComputeRequest struct {
	Region string `json:"region" yaml:"region"`
	Start  string `json:"start" yaml:"start"`
	End    string `json:"end" yaml:"end"`
	Resolution
}

// SeriesRequest asks for one MGCI per calendar year in [FromYear, ToYear].
type SeriesRequest struct {
	Region   string `json:"region" yaml:"region"`
	FromYear int    `json:"from_year" yaml:"from_year"`
	ToYear   int    `json:"to_year" yaml:"to_year"`
	Resolution
}

// ClusterRequest asks for the greenness groups of a region's subregions.
type ClusterRequest struct {
	Region   string `json:"region" yaml:"region"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Features string `json:"features,omitempty" yaml:"features,omitempty"`
	Resolution
}

// ComputeResponse carries one result with the plan it was computed at.
type ComputeResponse struct {
	RunID     string           `json:"run_id,omitempty"`
	Plan      resolution.Plan  `json:"plan"`
	Result    model.MgciResult `json:"result"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

// SeriesResponse carries a time series.
type SeriesResponse struct {
	RunID     string           `json:"run_id,omitempty"`
	Plan      resolution.Plan  `json:"plan"`
	Series    model.TimeSeries `json:"series"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

// ClusterResponse carries a cluster report.
type ClusterResponse struct {
	RunID     string              `json:"run_id,omitempty"`
	Plan      resolution.Plan     `json:"plan"`
	Report    model.ClusterReport `json:"report"`
	ElapsedMS int64               `json:"elapsed_ms"`
}

// InvalidRequestError marks a request rejected before any work started.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string { return e.Err.Error() }

func (e *InvalidRequestError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &InvalidRequestError{Err: err}
}

func invalidf(format string, args ...any) error {
	return invalid(eris.Errorf(format, args...))
}
