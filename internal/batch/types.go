// Package batch defines the core types and orchestration logic for
// bounded-concurrency batch runs over independent, failure-prone items.
package batch

import (
	"context"
	"time"
)

// OutcomeStatus is the terminal state of one item within a run.
type OutcomeStatus string

// Outcome status values recorded per item.
const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailure OutcomeStatus = "failure"
	StatusSkipped OutcomeStatus = "skipped"
)

// DefaultMaxConcurrency is applied by the layers that build Options when the
// caller does not specify a bound. Options itself rejects a zero value.
const DefaultMaxConcurrency = 3

// Item is a caller-owned, read-only descriptor of one unit of work.
// Payload is opaque to the orchestrator; only the Processor interprets it.
type Item struct {
	ID      string `json:"id"`
	Active  bool   `json:"active"`
	Payload any    `json:"payload,omitempty"`
}

// Options controls one batch run. MaxConcurrency must be at least 1;
// ItemTimeout of zero disables the per-item deadline.
type Options struct {
	ForceRefresh   bool
	MaxConcurrency int
	ItemTimeout    time.Duration
}

// TaskOutcome is the immutable per-item record produced exactly once per
// item during a run.
type TaskOutcome struct {
	ItemID       string        `json:"item_id"`
	Status       OutcomeStatus `json:"status"`
	ResultCount  int           `json:"result_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
}

// ItemError pairs a failed item with its recorded message.
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// Summary is the single durable artifact of a run, built once after every
// item has an outcome.
type Summary struct {
	TotalItems       int         `json:"total_items"`
	SuccessfulItems  int         `json:"successful_items"`
	FailedItems      int         `json:"failed_items"`
	SkippedItems     int         `json:"skipped_items"`
	TotalResultCount int         `json:"total_result_count"`
	Errors           []ItemError `json:"errors,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	OverallSuccess   bool        `json:"overall_success"`
}

// ProcessorResult is the explicit result contract for one processed item.
// A Success=false result is a recorded failure even when Process returns a
// nil error.
type ProcessorResult struct {
	Success       bool
	ProducedCount int
	ErrorMessage  string
}

// Processor executes the remote operation for one item. Implementations are
// expected to be slow, latency-variable, and failure-prone; the orchestrator
// isolates every failure to its own item.
type Processor interface {
	Process(ctx context.Context, item Item) (ProcessorResult, error)
}

// Clock abstracts wall-clock reads so run durations are testable.
type Clock interface {
	Now() time.Time
}
