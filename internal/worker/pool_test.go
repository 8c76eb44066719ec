package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestSubmitPreservesSubmissionOrder(t *testing.T) {
	p := NewPool(5, zap.NewNop())
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	results := Submit(context.Background(), p, items, func(_ context.Context, n int) (string, error) {
		// Later items finish earlier; order must still follow submission.
		time.Sleep(time.Duration(9-n) * time.Millisecond)
		return fmt.Sprintf("item-%d", n), nil
	})

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("item-%d", i), r.Value)
	}
}

func TestSubmitSingleFailureDoesNotAbortBatch(t *testing.T) {
	p := NewPool(5, zap.NewNop())
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	boom := errors.New("fetch failed")
	results := Submit(context.Background(), p, items, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, boom
		}
		return n * 2, nil
	})

	require.Len(t, results, 10)
	failures := Failures(results)
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Index)
	assert.ErrorIs(t, failures[0].Err, boom)

	successes := Successes(results)
	assert.Len(t, successes, 9)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	p := NewPool(maxWorkers, zap.NewNop())

	var inFlight, peak int64
	var mu sync.Mutex

	items := make([]int, 20)
	Submit(context.Background(), p, items, func(_ context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > peak {
			peak = cur
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(maxWorkers))
	assert.Greater(t, peak, int64(0))
}

func TestSubmitCancellationMarksUnstartedItems(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	items := make([]int, 8)
	results := Submit(ctx, p, items, func(ctx context.Context, _ int) (struct{}, error) {
		cancel()
		return struct{}{}, nil
	})

	require.Len(t, results, 8)
	var cancelled int
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "items after cancellation must carry ctx.Err()")
}

func TestSubmitRateLimitThrottlesStarts(t *testing.T) {
	// Burst 1, then one start per 20ms: 5 items need at least 4 waits.
	p := NewPool(5, zap.NewNop(), WithRateLimit(rate.Every(20*time.Millisecond), 1))

	items := make([]int, 5)
	start := time.Now()
	results := Submit(context.Background(), p, items, func(_ context.Context, _ int) (struct{}, error) {
		return struct{}{}, nil
	})
	elapsed := time.Since(start)

	require.Len(t, results, 5)
	assert.Empty(t, Failures(results))
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond,
		"throttled batch finished too fast: %v", elapsed)
}

func TestSubmitRateLimitHonorsCancellation(t *testing.T) {
	p := NewPool(5, zap.NewNop(), WithRateLimit(rate.Every(time.Hour), 1))
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	items := make([]int, 3)
	results := Submit(ctx, p, items, func(_ context.Context, _ int) (struct{}, error) {
		return struct{}{}, nil
	})

	require.Len(t, results, 3)
	// The first item consumes the burst; the rest fail waiting.
	assert.NoError(t, results[0].Err)
	for _, r := range results[1:] {
		assert.Error(t, r.Err)
	}
}

func TestSubmitEmptyBatch(t *testing.T) {
	p := NewPool(5, zap.NewNop())
	results := Submit(context.Background(), p, nil, func(_ context.Context, _ int) (int, error) {
		return 0, nil
	})
	assert.Empty(t, results)
}

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(0, nil)
	assert.Equal(t, DefaultMaxWorkers, p.MaxWorkers())
}
