package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kbrapp1/sourcebatch/internal/limiter"
)

// Orchestrator runs batches: it applies the skip policy, gates the remaining
// items through a per-run concurrency limiter, isolates each item's failure,
// and folds every outcome into one Summary.
type Orchestrator struct {
	policy SkipPolicy
	clock  Clock
	logger *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. A nil policy falls back to
// ActivePolicy, a nil clock to the system clock, a nil logger to a no-op.
func NewOrchestrator(policy SkipPolicy, clock Clock, logger *zap.Logger) *Orchestrator {
	if policy == nil {
		policy = NewActivePolicy()
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// Run executes one batch over items and returns its Summary. The only error
// it can return is an *AdmissionError raised before any item is scheduled;
// per-item failures are recorded in the Summary and never abort siblings.
// At no instant are more than opts.MaxConcurrency Processor calls in flight.
func (o *Orchestrator) Run(
	ctx context.Context,
	items []Item,
	opts Options,
	processor Processor,
) (Summary, error) {
	if err := validateAdmission(items, opts, processor); err != nil {
		return Summary{}, err
	}

	start := o.clock.Now()
	if len(items) == 0 {
		return Aggregate(nil, 0), nil
	}

	lim, err := limiter.New(opts.MaxConcurrency)
	if err != nil {
		// Unreachable after admission validation; surface as admission anyway.
		return Summary{}, admissionErrorf("max concurrency: %v", err)
	}

	// One slot per item keeps the 1:1 item/outcome invariant structural:
	// skipped items are recorded inline, the rest by their own goroutine.
	outcomes := make([]TaskOutcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		if o.policy.ShouldSkip(item, opts) {
			outcomes[i] = TaskOutcome{ItemID: item.ID, Status: StatusSkipped}
			continue
		}
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			outcomes[i] = o.processOne(ctx, lim, item, opts, processor)
		}(i, item)
	}
	wg.Wait()

	elapsed := o.clock.Now().Sub(start)
	summary := Aggregate(outcomes, elapsed)
	o.logger.Info("batch run finished",
		zap.Int("total_items", summary.TotalItems),
		zap.Int("succeeded", summary.SuccessfulItems),
		zap.Int("failed", summary.FailedItems),
		zap.Int("skipped", summary.SkippedItems),
		zap.Int64("processing_time_ms", summary.ProcessingTimeMs),
	)
	return summary, nil
}

func validateAdmission(items []Item, opts Options, processor Processor) error {
	if opts.MaxConcurrency < 1 {
		return admissionErrorf("max concurrency must be >= 1, got %d", opts.MaxConcurrency)
	}
	if opts.ItemTimeout < 0 {
		return admissionErrorf("item timeout must not be negative, got %s", opts.ItemTimeout)
	}
	if processor == nil {
		return admissionErrorf("processor is required")
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return admissionErrorf("item %d has an empty id", i)
		}
		if _, dup := seen[item.ID]; dup {
			return admissionErrorf("duplicate item id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

func (o *Orchestrator) processOne(
	ctx context.Context,
	lim *limiter.Limiter,
	item Item,
	opts Options,
	processor Processor,
) TaskOutcome {
	outcome := TaskOutcome{ItemID: item.ID}
	err := lim.Do(ctx, func() error {
		start := o.clock.Now()
		result, procErr := o.invoke(ctx, item, opts, processor)
		outcome.DurationMs = o.clock.Now().Sub(start).Milliseconds()
		switch {
		case procErr != nil:
			outcome.Status = StatusFailure
			outcome.ErrorMessage = procErr.Error()
			o.logger.Warn("item processing failed",
				zap.String("item_id", item.ID),
				zap.Error(procErr),
			)
		case !result.Success:
			outcome.Status = StatusFailure
			outcome.ErrorMessage = result.ErrorMessage
			if outcome.ErrorMessage == "" {
				outcome.ErrorMessage = "processor reported failure"
			}
			o.logger.Warn("item processing rejected",
				zap.String("item_id", item.ID),
				zap.String("error", outcome.ErrorMessage),
			)
		default:
			outcome.Status = StatusSuccess
			outcome.ResultCount = result.ProducedCount
		}
		return nil
	})
	if err != nil {
		// The permit was never granted: the run context ended while queued.
		outcome.Status = StatusFailure
		outcome.ErrorMessage = err.Error()
	}
	return outcome
}

type procReturn struct {
	result ProcessorResult
	err    error
}

// invoke calls the Processor with the cooperative cancellation pre-check and
// the optional per-item deadline. The call runs in its own goroutine so a
// hung Processor resolves to a Failure at the deadline instead of pinning a
// permit; a panic inside the Processor is recovered into an ordinary item
// failure.
func (o *Orchestrator) invoke(
	ctx context.Context,
	item Item,
	opts Options,
	processor Processor,
) (ProcessorResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ProcessorResult{}, fmt.Errorf("canceled before processing: %w", ctxErr)
	}

	callCtx := ctx
	if opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.ItemTimeout)
		defer cancel()
	}

	done := make(chan procReturn, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- procReturn{err: fmt.Errorf("processor panic: %v", rec)}
			}
		}()
		result, err := processor.Process(callCtx, item)
		done <- procReturn{result: result, err: err}
	}()

	select {
	case ret := <-done:
		return ret.result, ret.err
	case <-callCtx.Done():
		return ProcessorResult{}, fmt.Errorf("processing aborted: %w", callCtx.Err())
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
