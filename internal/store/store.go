// Package store defines persistence for completed batch run summaries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kbrapp1/sourcebatch/internal/batch"
)

// ErrNotFound is returned when a run ID has no stored record.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps history pages when the caller does not ask for a size.
const DefaultListLimit = 20

// MaxListLimit is the hard ceiling for one history page.
const MaxListLimit = 100

// RunRecord is the durable row written once per completed batch run.
type RunRecord struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Summary   batch.Summary `json:"summary"`
}

// ListQuery selects a newest-first page of run history. A zero Before means
// "from the newest record"; Limit of zero falls back to DefaultListLimit.
type ListQuery struct {
	Limit  int
	Before time.Time
}

// Store persists and retrieves run records.
type Store interface {
	SaveRun(ctx context.Context, record RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, query ListQuery) ([]RunRecord, error)
	Close()
}

// ClampLimit normalizes a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
