// Package worker provides a bounded-concurrency executor for I/O-bound
// acquisition tasks. Results always come back in submission order, so
// downstream citation-id assignment is deterministic regardless of
// completion timing.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/researchlab/deepresearch/internal/metrics"
)

// DefaultMaxWorkers bounds concurrency when the caller does not say.
const DefaultMaxWorkers = 5

// Result is one per-item outcome. A failed item carries its error here
// instead of aborting the batch; the calling stage decides pass/fail
// policy over the whole result set.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Pool executes batches with at most maxWorkers tasks in flight.
type Pool struct {
	maxWorkers int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithRateLimit throttles task starts to r per second with the given
// burst. Useful for polite source acquisition.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(p *Pool) {
		p.limiter = rate.NewLimiter(r, burst)
	}
}

// NewPool creates a pool. maxWorkers <= 0 falls back to the default.
func NewPool(maxWorkers int, logger *zap.Logger, opts ...Option) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{maxWorkers: maxWorkers, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxWorkers returns the configured concurrency bound.
func (p *Pool) MaxWorkers() int { return p.maxWorkers }

// Submit runs fn over items and returns one Result per item, ordered by
// submission index. At most the pool's worker bound is in flight at any
// moment. Cancellation is best-effort: once ctx is done, unstarted items
// are marked with ctx.Err() and in-flight items are not further awaited
// beyond their own return.
func Submit[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	for i, item := range items {
		results[i].Index = i

		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				results[i].Err = err
				continue
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		metrics.PoolTasksSubmitted.Inc()
		metrics.PoolTasksInFlight.Inc()

		go func(idx int, it T) {
			defer func() {
				metrics.PoolTasksInFlight.Dec()
				<-sem
				wg.Done()
			}()
			value, err := fn(ctx, it)
			results[idx].Value = value
			results[idx].Err = err
			if err != nil {
				metrics.PoolTaskFailures.Inc()
				p.logger.Warn("Pool task failed",
					zap.Int("index", idx),
					zap.Error(err),
				)
			}
		}(i, item)
	}

	// The pool join is the synchronization boundary: results are only
	// read by the caller after every worker has returned.
	wg.Wait()
	return results
}

// Successes filters a result set down to the succeeded values, in
// submission order.
func Successes[R any](results []Result[R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// Failures returns the failed results, in submission order.
func Failures[R any](results []Result[R]) []Result[R] {
	var out []Result[R]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
