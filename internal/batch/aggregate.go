package batch

import "time"

// Aggregate folds a complete outcome list into a Summary in one pass. It is
// order-independent: outcomes may arrive in submission or completion order.
// elapsed is the run's wall-clock time, not a sum of per-item durations,
// since those overlap under concurrency.
func Aggregate(outcomes []TaskOutcome, elapsed time.Duration) Summary {
	summary := Summary{
		TotalItems:       len(outcomes),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case StatusSuccess:
			summary.SuccessfulItems++
			summary.TotalResultCount += outcome.ResultCount
		case StatusFailure:
			summary.FailedItems++
			summary.Errors = append(summary.Errors, ItemError{
				ItemID:  outcome.ItemID,
				Message: outcome.ErrorMessage,
			})
		case StatusSkipped:
			summary.SkippedItems++
		}
	}
	summary.OverallSuccess = summary.FailedItems == 0
	return summary
}
