package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvancesAndRecords(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 3*time.Minute))

	assert.True(t, start.Add(3*time.Minute+2*time.Second).Equal(c.Now()))
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Minute}, c.Sleeps())
}

func TestFakeSleepHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Sleeps())
}

func TestRealSleepReturnsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := clock.Real{}.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
