// Package limiter implements a FIFO counting semaphore for bounding
// concurrent in-flight operations.
package limiter

import (
	"context"
	"fmt"
)

// Limiter bounds concurrency to a fixed number of permits. Goroutines that
// block in Acquire are resumed in arrival order as permits free up, so a
// waiter can never starve behind later arrivals. The limiter knows nothing
// about the operations it gates.
type Limiter struct {
	permits int
	slots   chan struct{}
}

// New creates a Limiter with the given number of permits.
func New(permits int) (*Limiter, error) {
	if permits < 1 {
		return nil, fmt.Errorf("limiter permits must be >= 1, got %d", permits)
	}
	return &Limiter{
		permits: permits,
		slots:   make(chan struct{}, permits),
	}, nil
}

// Permits returns the configured permit count.
func (l *Limiter) Permits() int {
	return l.permits
}

// Acquire blocks until a permit is free or the context ends. On success the
// caller owns one permit and must call Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("acquire permit: %w", ctx.Err())
	case l.slots <- struct{}{}:
		return nil
	}
}

// Release returns a permit. Releasing more permits than were acquired is a
// programming error and panics.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		panic("limiter: release without acquire")
	}
}

// Do runs op while holding a permit and propagates its error unchanged. The
// permit is released exactly once, even when op panics.
func (l *Limiter) Do(ctx context.Context, op func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return op()
}
