package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ErrRunNotFound means no run exists with the requested ID.
var ErrRunNotFound = eris.New("run not found")

// RunKind names the operation a run recorded.
type RunKind string

const (
	RunKindMGCI    RunKind = "mgci"
	RunKindSeries  RunKind = "series"
	RunKindCluster RunKind = "cluster"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one computation. Request and Result hold
// the JSON encodings of the request and of the MgciResult, TimeSeries or
// ClusterReport produced.
type Run struct {
	ID        string          `json:"id"`
	Kind      RunKind         `json:"kind"`
	Status    RunStatus       `json:"status"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Elapsed returns the time between creation and the last update.
func (r Run) Elapsed() time.Duration {
	return r.UpdatedAt.Sub(r.CreatedAt)
}

// CachedReduction is a persisted engine reduction.
type CachedReduction struct {
	Key       string
	Value     float64
	Valid     bool
	CachedAt  time.Time
	ExpiresAt time.Time
}
