package quota_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityAndCompletion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_quota.json")
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	tr := quota.New(quota.Options{Path: path, DailyLimit: 2, Clock: clk})

	ok, err := tr.HasCapacityToday()
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := tr.RecordCompletion()
	require.NoError(t, err)
	assert.Equal(t, quota.State{Date: "2026-03-01", ProcessedCount: 1}, st)
	_, err = tr.RecordCompletion()
	require.NoError(t, err)

	ok, err = tr.HasCapacityToday()
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2026-03-01","processedCount":2}`, string(b))
}

func TestDayRolloverResetsCount(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_quota.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date":"2026-02-28","processedCount":200}`), 0o644))

	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC))
	tr := quota.New(quota.Options{Path: path, DailyLimit: 200, Clock: clk})

	ok, err := tr.HasCapacityToday()
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := tr.Load()
	require.NoError(t, err)
	assert.Equal(t, quota.State{Date: "2026-03-01"}, st)
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_quota.json")
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	_, err := quota.New(quota.Options{Path: path, DailyLimit: 5, Clock: clk}).RecordCompletion()
	require.NoError(t, err)

	st, err := quota.New(quota.Options{Path: path, DailyLimit: 5, Clock: clk}).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.ProcessedCount)
}

func TestUntilNextDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("IST", 5*3600+1800)
	clk := clock.NewFake(time.Date(2026, 3, 1, 23, 30, 0, 0, loc))
	tr := quota.New(quota.Options{Clock: clk})

	assert.Equal(t, 31*time.Minute, tr.UntilNextDay())

	require.NoError(t, tr.SleepUntilNextDay(context.Background()))
	assert.Equal(t, []time.Duration{31 * time.Minute}, clk.Sleeps())
	assert.True(t, time.Date(2026, 3, 2, 0, 1, 0, 0, loc).Equal(clk.Now()))
}

func TestInMemoryTracker(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tr := quota.New(quota.Options{DailyLimit: 1, Clock: clk})
	_, err := tr.RecordCompletion()
	require.NoError(t, err)
	ok, err := tr.HasCapacityToday()
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(24 * time.Hour)
	ok, err = tr.HasCapacityToday()
	require.NoError(t, err)
	assert.True(t, ok)
}
