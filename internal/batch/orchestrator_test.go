package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// countingProcessor tracks concurrent invocations and the high-water mark.
type countingProcessor struct {
	delay     time.Duration
	inFlight  atomic.Int64
	highWater atomic.Int64
	calls     atomic.Int64
	fail      func(item Item) error
	result    func(item Item) ProcessorResult
}

func (p *countingProcessor) Process(_ context.Context, item Item) (ProcessorResult, error) {
	p.calls.Add(1)
	current := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.highWater.Load()
		if current <= peak || p.highWater.CompareAndSwap(peak, current) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.fail != nil {
		if err := p.fail(item); err != nil {
			return ProcessorResult{}, err
		}
	}
	if p.result != nil {
		return p.result(item), nil
	}
	return ProcessorResult{Success: true, ProducedCount: 1}, nil
}

func makeItems(n int) []Item {
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, Item{ID: fmt.Sprintf("item-%d", i), Active: true})
	}
	return items
}

func TestRunEmptyItemsShortCircuits(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), nil, Options{MaxConcurrency: 2}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.TotalItems != 0 || !summary.OverallSuccess {
		t.Fatalf("expected empty successful summary, got %+v", summary)
	}
	if proc.calls.Load() != 0 {
		t.Fatalf("processor called %d times for empty input", proc.calls.Load())
	}
}

func TestRunInvalidOptionsIsAdmissionError(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{}
	orch := NewOrchestrator(nil, nil, nil)

	_, err := orch.Run(context.Background(), makeItems(3), Options{MaxConcurrency: 0}, proc)
	var admission *AdmissionError
	if !errors.As(err, &admission) {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	if proc.calls.Load() != 0 {
		t.Fatalf("processor called %d times before admission failed", proc.calls.Load())
	}
}

func TestRunRejectsMalformedItems(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(nil, nil, nil)
	cases := []struct {
		name  string
		items []Item
	}{
		{"empty id", []Item{{ID: "", Active: true}}},
		{"duplicate id", []Item{{ID: "a", Active: true}, {ID: "a", Active: true}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := orch.Run(context.Background(), tc.items, Options{MaxConcurrency: 1}, &countingProcessor{})
			var admission *AdmissionError
			if !errors.As(err, &admission) {
				t.Fatalf("expected AdmissionError, got %v", err)
			}
		})
	}
}

func TestRunCountsAlwaysSum(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ID: "a", Active: true},
		{ID: "b", Active: false},
		{ID: "c", Active: true},
		{ID: "d", Active: false},
		{ID: "e", Active: true},
	}
	proc := &countingProcessor{
		fail: func(item Item) error {
			if item.ID == "c" {
				return errors.New("remote unavailable")
			}
			return nil
		},
	}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), items, Options{MaxConcurrency: 2}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := summary.SuccessfulItems + summary.FailedItems + summary.SkippedItems; got != summary.TotalItems {
		t.Fatalf("counts %d do not sum to total %d", got, summary.TotalItems)
	}
	if summary.TotalItems != len(items) {
		t.Fatalf("expected %d outcomes, got %d", len(items), summary.TotalItems)
	}
}

func TestRunNeverExceedsMaxConcurrency(t *testing.T) {
	t.Parallel()

	const bound = 2
	proc := &countingProcessor{delay: 20 * time.Millisecond}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), makeItems(9), Options{MaxConcurrency: bound}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SuccessfulItems != 9 {
		t.Fatalf("expected all items to succeed, got %+v", summary)
	}
	if got := proc.highWater.Load(); got > bound {
		t.Fatalf("concurrent calls reached %d, bound is %d", got, bound)
	}
}

func TestRunConcurrencyBoundTiming(t *testing.T) {
	t.Parallel()

	// 5 items at 100ms under a bound of 2 need three waves: roughly 300ms.
	// Far below 300ms would mean the bound leaked; near 500ms would mean the
	// run was serialized.
	proc := &countingProcessor{delay: 100 * time.Millisecond}
	orch := NewOrchestrator(nil, nil, nil)

	start := time.Now()
	summary, err := orch.Run(context.Background(), makeItems(5), Options{MaxConcurrency: 2}, proc)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SuccessfulItems != 5 {
		t.Fatalf("expected 5 successes, got %+v", summary)
	}
	if elapsed < 280*time.Millisecond {
		t.Fatalf("run finished in %v, faster than the bound allows", elapsed)
	}
	if elapsed > 470*time.Millisecond {
		t.Fatalf("run took %v, close to a serialized schedule", elapsed)
	}
}

func TestRunSkipsInactiveItems(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "stale", Active: false}}
	proc := &countingProcessor{}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), items, Options{MaxConcurrency: 1}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SkippedItems != 1 || summary.SuccessfulItems != 0 {
		t.Fatalf("expected one skipped item, got %+v", summary)
	}
	if proc.calls.Load() != 0 {
		t.Fatalf("processor called for a skipped item")
	}
}

func TestRunForceRefreshOverridesSkip(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "stale", Active: false}}
	proc := &countingProcessor{}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), items, Options{MaxConcurrency: 1, ForceRefresh: true}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SuccessfulItems != 1 || summary.SkippedItems != 0 {
		t.Fatalf("expected forced item to be processed, got %+v", summary)
	}
	if proc.calls.Load() != 1 {
		t.Fatalf("expected exactly one processor call, got %d", proc.calls.Load())
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{
		fail: func(item Item) error {
			if item.ID == "item-2" {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), makeItems(5), Options{MaxConcurrency: 3}, proc)
	if err != nil {
		t.Fatalf("expected no run-level error, got %v", err)
	}
	if summary.FailedItems != 1 || summary.SuccessfulItems != 4 {
		t.Fatalf("expected 1 failure and 4 successes, got %+v", summary)
	}
	if summary.OverallSuccess {
		t.Fatal("expected OverallSuccess=false on partial failure")
	}
	if len(summary.Errors) != 1 || summary.Errors[0].ItemID != "item-2" {
		t.Fatalf("expected recorded error for item-2, got %+v", summary.Errors)
	}
}

func TestRunRecordsRejectedResults(t *testing.T) {
	t.Parallel()

	proc := &countingProcessor{
		result: func(item Item) ProcessorResult {
			if item.ID == "item-0" {
				return ProcessorResult{Success: false, ErrorMessage: "source returned no data"}
			}
			return ProcessorResult{Success: true, ProducedCount: 2}
		},
	}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), makeItems(3), Options{MaxConcurrency: 2}, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.FailedItems != 1 || summary.SuccessfulItems != 2 {
		t.Fatalf("expected rejected result to count as failure, got %+v", summary)
	}
	if summary.TotalResultCount != 4 {
		t.Fatalf("expected result count 4, got %d", summary.TotalResultCount)
	}
	if summary.Errors[0].Message != "source returned no data" {
		t.Fatalf("expected rejection message, got %+v", summary.Errors)
	}
}

func TestRunRecoversProcessorPanic(t *testing.T) {
	t.Parallel()

	proc := &panicProcessor{panicOn: "item-1"}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(context.Background(), makeItems(3), Options{MaxConcurrency: 2}, proc)
	if err != nil {
		t.Fatalf("expected panic to stay item-local, got %v", err)
	}
	if summary.FailedItems != 1 || summary.SuccessfulItems != 2 {
		t.Fatalf("expected panicking item to fail alone, got %+v", summary)
	}
}

func TestRunItemTimeoutResolvesToFailure(t *testing.T) {
	t.Parallel()

	proc := &hangingProcessor{hangOn: "item-1", release: make(chan struct{})}
	defer close(proc.release)
	orch := NewOrchestrator(nil, nil, nil)

	opts := Options{MaxConcurrency: 2, ItemTimeout: 50 * time.Millisecond}
	summary, err := orch.Run(context.Background(), makeItems(3), opts, proc)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.FailedItems != 1 || summary.SuccessfulItems != 2 {
		t.Fatalf("expected timed-out item to fail, got %+v", summary)
	}
}

func TestRunIdempotentCounts(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ID: "a", Active: true},
		{ID: "b", Active: false},
		{ID: "c", Active: true},
	}
	opts := Options{MaxConcurrency: 2}
	orch := NewOrchestrator(nil, nil, nil)

	var first Summary
	for run := 0; run < 3; run++ {
		proc := &countingProcessor{
			fail: func(item Item) error {
				if item.ID == "c" {
					return errors.New("deterministic failure")
				}
				return nil
			},
		}
		summary, err := orch.Run(context.Background(), items, opts, proc)
		if err != nil {
			t.Fatalf("run %d error = %v", run, err)
		}
		summary.ProcessingTimeMs = 0
		if run == 0 {
			first = summary
			continue
		}
		if summary.SuccessfulItems != first.SuccessfulItems ||
			summary.FailedItems != first.FailedItems ||
			summary.SkippedItems != first.SkippedItems ||
			summary.TotalResultCount != first.TotalResultCount {
			t.Fatalf("run %d counts diverged: %+v vs %+v", run, summary, first)
		}
	}
}

func TestRunCanceledContextFailsQueuedItems(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &countingProcessor{}
	orch := NewOrchestrator(nil, nil, nil)

	summary, err := orch.Run(ctx, makeItems(4), Options{MaxConcurrency: 2}, proc)
	if err != nil {
		t.Fatalf("cancellation must not be a run-level error, got %v", err)
	}
	if summary.FailedItems != 4 {
		t.Fatalf("expected every item to record a failure, got %+v", summary)
	}
	if proc.calls.Load() != 0 {
		t.Fatalf("processor invoked %d times after cancellation", proc.calls.Load())
	}
}

type panicProcessor struct {
	panicOn string
}

func (p *panicProcessor) Process(_ context.Context, item Item) (ProcessorResult, error) {
	if item.ID == p.panicOn {
		panic("processor exploded")
	}
	return ProcessorResult{Success: true, ProducedCount: 1}, nil
}

type hangingProcessor struct {
	hangOn  string
	release chan struct{}
}

func (p *hangingProcessor) Process(ctx context.Context, item Item) (ProcessorResult, error) {
	if item.ID != p.hangOn {
		return ProcessorResult{Success: true, ProducedCount: 1}, nil
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return ProcessorResult{}, fmt.Errorf("fetch aborted: %w", ctx.Err())
	}
	return ProcessorResult{Success: true, ProducedCount: 1}, nil
}
