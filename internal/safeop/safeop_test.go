package safeop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shpitdev/leadsync/internal/cache"
	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaErr struct{}

func (quotaErr) Error() string     { return "429 RESOURCE_EXHAUSTED" }
func (quotaErr) RateLimited() bool { return true }

func newExecutor(t *testing.T) (*safeop.Executor, *clock.Fake, *cache.Cache) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := cache.New(cache.Options{Clock: clk})
	ex := safeop.New(safeop.Options{
		MaxAttempts:    5,
		BaseBackoff:    time.Second,
		FlatBackoff:    3 * time.Second,
		PostWriteDelay: 500 * time.Millisecond,
		Cache:          c,
		Clock:          clk,
	})
	return ex, clk, c
}

func TestRateLimitBackoffIsExponential(t *testing.T) {
	t.Parallel()

	ex, clk, _ := newExecutor(t)
	calls := 0
	_, err := safeop.Read(context.Background(), ex, "readLeads", "", func(context.Context) ([]string, error) {
		calls++
		return nil, quotaErr{}
	})

	var exhausted *safeop.OperationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "readLeads", exhausted.Op)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.True(t, safeop.IsRateLimited(err))
	assert.Equal(t, 5, calls)
	// No sleep after the final attempt.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, clk.Sleeps())
}

func TestOtherErrorsUseFlatBackoff(t *testing.T) {
	t.Parallel()

	ex, clk, _ := newExecutor(t)
	calls := 0
	got, err := safeop.Read(context.Background(), ex, "readResults", "", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, clk.Sleeps())
}

func TestReadUsesCache(t *testing.T) {
	t.Parallel()

	ex, _, c := newExecutor(t)
	calls := 0
	op := func(context.Context) ([]string, error) {
		calls++
		return []string{"Cafe X", "Diner Y"}, nil
	}

	first, err := safeop.Read(context.Background(), ex, "pending", "pending_leads", op)
	require.NoError(t, err)
	second, err := safeop.Read(context.Background(), ex, "pending", "pending_leads", op)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestReadWithoutKeyAlwaysFresh(t *testing.T) {
	t.Parallel()

	ex, _, c := newExecutor(t)
	calls := 0
	for i := 0; i < 3; i++ {
		_, err := safeop.Read(context.Background(), ex, "scan", "", func(context.Context) (int, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Zero(t, c.Len())
}

func TestWriteInvalidatesCacheAndPaces(t *testing.T) {
	t.Parallel()

	ex, clk, c := newExecutor(t)
	require.NoError(t, c.Set("pending_leads", []int{1}))

	err := ex.Do(context.Background(), "appendResult", func(context.Context) error { return nil })
	require.NoError(t, err)

	_, ok := c.Get("pending_leads")
	assert.False(t, ok)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Sleeps())
}

func TestFailedWriteKeepsCache(t *testing.T) {
	t.Parallel()

	ex, _, c := newExecutor(t)
	require.NoError(t, c.Set("pending_leads", []int{1}))

	_, err := safeop.Write(context.Background(), ex, "setStatus", func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := c.Get("pending_leads")
	assert.True(t, ok)
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ex, _, _ := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := ex.Do(ctx, "deleteRows", func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	ex := safeop.New(safeop.Options{BaseBackoff: 2 * time.Second, FlatBackoff: 7 * time.Second})
	assert.Equal(t, 2*time.Second, ex.Backoff(quotaErr{}, 0))
	assert.Equal(t, 16*time.Second, ex.Backoff(quotaErr{}, 3))
	assert.Equal(t, 7*time.Second, ex.Backoff(errors.New("x"), 3))
}

func TestRequestCeilingUsesWallClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	// 1200 per minute is one attempt every 50ms with a burst of one.
	ex := safeop.New(safeop.Options{RequestsPerMinute: 1200, Clock: clk})

	start := time.Now()
	for range 4 {
		_, err := safeop.Read(context.Background(), ex, "read", "", func(context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
	assert.Empty(t, clk.Sleeps(), "the fake clock is not used for the ceiling")
}

func TestWriteOnceDoesNotRetry(t *testing.T) {
	t.Parallel()

	ex, clk, _ := newExecutor(t)
	calls := 0
	_, err := safeop.WriteOnce(context.Background(), ex, "importLeads", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("timeout after send")
	})
	var exhausted *safeop.OperationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Sleeps())

	n, err := safeop.WriteOnce(context.Background(), ex, "importLeads", func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clk.Sleeps())
}
