// Package quota tracks how many leads were processed today and decides when the
// scheduler must wait for the next local day.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/statefile"
)

const (
	DefaultDailyLimit = 200
	dateLayout        = "2006-01-02"

	// resumeAfterMidnight keeps the wake-up clear of the day boundary.
	resumeAfterMidnight = time.Minute
)

// State is the persisted quota document.
type State struct {
	Date           string `json:"date"`
	ProcessedCount int    `json:"processedCount"`
}

// Options configures a Tracker. An empty Path keeps state in memory.
type Options struct {
	Path       string
	DailyLimit int
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Tracker enforces the daily processing limit.
type Tracker struct {
	path   string
	limit  int
	clock  clock.Clock
	logger *zap.Logger

	mu  sync.Mutex
	mem State
}

func New(opts Options) *Tracker {
	t := &Tracker{
		path:   opts.Path,
		limit:  opts.DailyLimit,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if t.limit <= 0 {
		t.limit = DefaultDailyLimit
	}
	if t.clock == nil {
		t.clock = clock.Real{}
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// Limit returns the configured daily limit.
func (t *Tracker) Limit() int { return t.limit }

// Load reads the persisted state, resetting the counter when the stored date is not today.
func (t *Tracker) Load() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked()
}

func (t *Tracker) loadLocked() (State, error) {
	today := t.clock.Now().Format(dateLayout)
	st := t.mem
	if t.path != "" {
		st = State{}
		if _, err := statefile.Load(t.path, &st); err != nil {
			t.logger.Warn("quota file unreadable, starting today's count at zero", zap.String("path", t.path), zap.Error(err))
			st = State{}
		}
	}
	if st.Date != today {
		if st.Date != "" {
			t.logger.Info("new day, resetting quota", zap.String("previous", st.Date), zap.Int("previousCount", st.ProcessedCount))
		}
		st = State{Date: today}
	}
	return st, nil
}

// HasCapacityToday reports whether another item may be processed today.
func (t *Tracker) HasCapacityToday() (bool, error) {
	st, err := t.Load()
	if err != nil {
		return false, err
	}
	return st.ProcessedCount < t.limit, nil
}

// RecordCompletion increments today's count and persists it.
func (t *Tracker) RecordCompletion() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.loadLocked()
	if err != nil {
		return State{}, err
	}
	st.ProcessedCount++
	if t.path == "" {
		t.mem = st
		return st, nil
	}
	if err := statefile.Save(t.path, st); err != nil {
		return st, fmt.Errorf("quota: %w", err)
	}
	return st, nil
}

// UntilNextDay returns the wait until one minute past the next local midnight.
func (t *Tracker) UntilNextDay() time.Duration {
	now := t.clock.Now()
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Add(resumeAfterMidnight)
	return next.Sub(now)
}

// SleepUntilNextDay blocks until UntilNextDay elapses or ctx is done.
func (t *Tracker) SleepUntilNextDay(ctx context.Context) error {
	wait := t.UntilNextDay()
	t.logger.Info("daily quota reached, sleeping until next day",
		zap.Int("limit", t.limit),
		zap.Duration("wait", wait.Round(time.Second)),
	)
	return t.clock.Sleep(ctx, wait)
}
