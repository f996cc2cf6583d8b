// Package store persists run history and the reduction cache.
package store

import (
	"context"
	"time"

	"github.com/sells-group/mgci/internal/model"
)

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind, request any) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result any) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Reduction cache. A miss returns nil, nil.
	GetCachedReduction(ctx context.Context, key string) (*model.CachedReduction, error)
	SetCachedReduction(ctx context.Context, key string, value float64, valid bool, ttl time.Duration) error
	DeleteExpiredReductions(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
