// Package executor runs a lazily produced set of independent operations with a bound on how many
// are in flight, routing every outcome to a single collector.
package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one operation.
type Result[T, R any] struct {
	Item     T
	Value    R
	Err      error
	Duration time.Duration
}

// Executor runs operations over items of type T producing values of type R.
type Executor[T, R any] struct {
	config Config
	before func(T)
	stats  *Stats
}

// New creates an Executor. before, if not nil, runs for every item right before its operation is
// dispatched; it is always called from the producing goroutine, never concurrently.
func New[T, R any](config Config, before func(T)) *Executor[T, R] {
	return &Executor[T, R]{
		config: config.withDefaults(),
		before: before,
		stats:  NewStats(),
	}
}

// Stats returns the call statistics collected across runs.
func (e *Executor[T, R]) Stats() *Stats {
	return e.stats
}

// Run pulls items from next until it reports no more items, calls call for each with at most
// Concurrency calls in flight, and hands every result to handle.
//
// handle is invoked from the goroutine that called Run, one result at a time, so it may mutate
// state without further locking. A failed call never stops the remaining items; Run returns only
// after every dispatched call has finished.
//
// The returned error is the error of next, or the context error if ctx was done before all items
// were dispatched. Cancelling ctx doesn't reach calls already dispatched. Failed calls are
// reported through handle only.
func (e *Executor[T, R]) Run(
	ctx context.Context,
	next func() (T, bool, error),
	call func(context.Context, T) (R, error),
	handle func(Result[T, R]),
) error {
	results := make(chan Result[T, R])
	// Cancelling ctx stops dispatching; calls already dispatched run to their own end.
	callCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(e.config.Concurrency))

	var g errgroup.Group
	var produceErr error

	go func() {
		defer func() {
			_ = g.Wait()
			close(results)
		}()

		for {
			// Acquire may succeed on a done context when a slot is free.
			if err := ctx.Err(); err != nil {
				produceErr = err
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				produceErr = err
				return
			}

			item, ok, err := next()
			if err != nil || !ok {
				sem.Release(1)
				produceErr = err
				return
			}

			if e.before != nil {
				e.before(item)
			}

			g.Go(func() error {
				// The slot is held until the collector has taken the result, bounding buffered parts too.
				defer sem.Release(1)

				start := time.Now()
				value, err := call(callCtx, item)
				took := time.Since(start)

				if err != nil {
					e.stats.Failed()
				} else {
					e.stats.Update(took)
				}

				results <- Result[T, R]{
					Item:     item,
					Value:    value,
					Err:      err,
					Duration: took,
				}
				return nil
			})
		}
	}()

	for result := range results {
		handle(result)
	}

	return produceErr
}
