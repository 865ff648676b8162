package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/pkg/redact"
)

// ErrQuotaExhausted is returned by RunOnce when today's limit is reached.
var ErrQuotaExhausted = errors.New("daily quota exhausted")

const defaultIdlePoll = time.Minute

// State is a scheduler state.
type State int

const (
	WaitingForCapacity State = iota
	Selecting
	Processing
	Resting
	Idle
)

func (s State) String() string {
	switch s {
	case WaitingForCapacity:
		return "waiting-for-capacity"
	case Selecting:
		return "selecting"
	case Processing:
		return "processing"
	case Resting:
		return "resting"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// scheduler holds the loop's owned state between transitions.
type scheduler struct {
	state     State
	item      store.WorkItem
	last      Outcome
	sinceRest int
}

// Run processes leads until ctx is cancelled. Cancellation is honored between
// steps; an item already being processed runs to completion. Run returns nil on
// cancellation.
func (e *Engine) Run(ctx context.Context) error {
	s := &scheduler{state: WaitingForCapacity}
	e.logger.Info("scheduler started",
		zap.Int("dailyLimit", e.quota.Limit()),
		zap.Duration("paceMin", e.paceMin),
		zap.Duration("paceMax", e.paceMax),
		zap.Int("batchSize", e.batchSize),
	)
	for {
		if ctx.Err() != nil {
			e.logger.Info("scheduler stopped",
				zap.Int("processed", e.stats.Processed),
				zap.Int("skipped", e.stats.Skipped),
				zap.Int("failed", e.stats.Failed),
			)
			return nil
		}
		next := e.step(ctx, s)
		if next != s.state {
			e.logger.Debug("scheduler transition", zap.Stringer("from", s.state), zap.Stringer("to", next))
		}
		s.state = next
	}
}

func (e *Engine) step(ctx context.Context, s *scheduler) State {
	// Store and analyzer calls must not be torn down halfway by an interrupt.
	work := context.WithoutCancel(ctx)

	switch s.state {
	case WaitingForCapacity:
		ok, err := e.quota.HasCapacityToday()
		if err != nil {
			e.iterationError(ctx, "quota check", err)
			return WaitingForCapacity
		}
		if !ok {
			_ = e.quota.SleepUntilNextDay(ctx)
			return WaitingForCapacity
		}
		return Selecting

	case Selecting:
		item, ok, err := e.selectNext(work)
		if err != nil {
			e.iterationError(ctx, "select", err)
			return WaitingForCapacity
		}
		if !ok {
			return Idle
		}
		s.item = item
		return Processing

	case Processing:
		s.last = e.safeProcess(work, s.item)
		return Resting

	case Resting:
		e.rest(ctx, s)
		return WaitingForCapacity

	case Idle:
		poll := e.idlePoll
		if poll <= 0 {
			poll = defaultIdlePoll
		}
		e.logger.Info("no pending leads", zap.Duration("nextCheck", poll))
		_ = e.clock.Sleep(ctx, poll)
		return WaitingForCapacity
	}
	return WaitingForCapacity
}

// rest applies the post-item delays: pacing and batch rest after processed
// items, the retry delay after failures, nothing after skips.
func (e *Engine) rest(ctx context.Context, s *scheduler) {
	switch s.last.Kind {
	case Processed:
		st, err := e.quota.RecordCompletion()
		if err != nil {
			e.logger.Error("quota update failed", zap.Error(err))
		} else {
			e.logger.Info("quota", zap.Int("processedToday", st.ProcessedCount), zap.Int("limit", e.quota.Limit()))
		}
		pace := e.paceDelay()
		e.logger.Debug("pacing", zap.Duration("wait", pace))
		if err := e.clock.Sleep(ctx, pace); err != nil {
			return
		}
		s.sinceRest++
		if e.batchSize > 0 && s.sinceRest >= e.batchSize {
			s.sinceRest = 0
			e.logger.Info("batch complete, resting", zap.Int("batchSize", e.batchSize), zap.Duration("pause", e.restPause))
			_ = e.clock.Sleep(ctx, e.restPause)
		}
	case Failed:
		if e.retryDelay > 0 {
			_ = e.clock.Sleep(ctx, e.retryDelay)
		}
	}
}

func (e *Engine) paceDelay() time.Duration {
	span := e.paceMax - e.paceMin
	if span <= 0 {
		return e.paceMin
	}
	return e.paceMin + time.Duration(e.rnd.Int64N(int64(span)+1))
}

func (e *Engine) iterationError(ctx context.Context, stage string, err error) {
	e.logger.Error("iteration failed, retrying after delay",
		zap.String("stage", stage),
		zap.Duration("retryDelay", e.retryDelay),
		zap.String("err", redact.Secrets(err.Error())),
	)
	if e.retryDelay > 0 {
		_ = e.clock.Sleep(ctx, e.retryDelay)
	}
}

// safeProcess turns a panic inside one item into a Failed outcome so the loop survives it.
func (e *Engine) safeProcess(ctx context.Context, item store.WorkItem) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.Failed++
			e.logger.Error("panic while processing lead", zap.Int("row", item.Row), zap.Any("panic", r))
			out = Outcome{Kind: Failed, Item: item, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.process(ctx, item)
}

// RunOnce processes at most one item if today's quota allows, recording the
// completion. ok is false when nothing was pending.
func (e *Engine) RunOnce(ctx context.Context) (Outcome, bool, error) {
	has, err := e.quota.HasCapacityToday()
	if err != nil {
		return Outcome{}, false, err
	}
	if !has {
		return Outcome{}, false, ErrQuotaExhausted
	}
	out, ok, err := e.ProcessNext(ctx)
	if err != nil || !ok {
		return out, ok, err
	}
	if out.Kind == Processed {
		if _, err := e.quota.RecordCompletion(); err != nil {
			return out, true, fmt.Errorf("record quota: %w", err)
		}
	}
	return out, true, nil
}
