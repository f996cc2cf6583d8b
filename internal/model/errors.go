package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Error taxonomy shared by every stage of the pipeline.
var (
	// ErrRegionNotFound means the identifier matched no boundary record.
	ErrRegionNotFound = eris.New("region not found")
	// ErrAggregationTooLarge means the region/resolution combination exceeds
	// the pixel ceiling. Use a coarser resolution or a smaller region.
	ErrAggregationTooLarge = eris.New("aggregation too large")
	// ErrRemoteUnavailable means the raster engine could not be reached or
	// rejected the credentials. Fatal for the request, not the process.
	ErrRemoteUnavailable = eris.New("raster engine unavailable")
	// ErrUndefinedRatio means the mountain area is zero, so MGCI is not computable.
	ErrUndefinedRatio = eris.New("mgci undefined: mountain area is zero")
)

// OpError records where a failure happened. The same operation can succeed
// at one resolution and fail at another, so the resolution is always part of
// the message.
type OpError struct {
	Op          string
	Region      string
	Period      string
	ResolutionM float64
	Err         error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Region != "" {
		fmt.Fprintf(&b, " region=%s", e.Region)
	}
	if e.Period != "" {
		fmt.Fprintf(&b, " period=%s", e.Period)
	}
	if e.ResolutionM > 0 {
		fmt.Fprintf(&b, " resolution=%gm", e.ResolutionM)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy name of err, or "error" when it is not one of
// the sentinels above.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrRegionNotFound):
		return "region_not_found"
	case eris.Is(err, ErrAggregationTooLarge):
		return "aggregation_too_large"
	case eris.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	case eris.Is(err, ErrUndefinedRatio):
		return "undefined_ratio"
	case eris.Is(err, ErrRunNotFound):
		return "run_not_found"
	default:
		return "error"
	}
}
