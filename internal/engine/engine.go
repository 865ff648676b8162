// Package engine drives leads from the inbound store to the result store, one
// item at a time, under the duplicate guardian and the daily quota.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/enrich"
	"github.com/shpitdev/leadsync/internal/fingerprint"
	"github.com/shpitdev/leadsync/internal/guardian"
	"github.com/shpitdev/leadsync/internal/quota"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/pkg/redact"
)

const (
	// pendingLeadsKey caches the pending-lead list between iterations.
	pendingLeadsKey = "pending_leads"

	maxStatusChars = 250

	invalidURLStatus = "no usable website URL"
)

// Placeholder values scrapers write when a lead has no site.
var urlSentinels = map[string]bool{
	"none found":       true,
	"no website found": true,
	"not found":        true,
}

// Analyzer produces the result text for a lead.
type Analyzer interface {
	Analyze(ctx context.Context, lead enrich.Lead) (enrich.Result, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, lead enrich.Lead) (enrich.Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, lead enrich.Lead) (enrich.Result, error) {
	return f(ctx, lead)
}

type Options struct {
	Store    store.Store
	Executor *safeop.Executor
	Guardian *guardian.Guardian
	Analyzer Analyzer
	Quota    *quota.Tracker

	PaceMin    time.Duration
	PaceMax    time.Duration
	BatchSize  int
	RestPause  time.Duration
	RetryDelay time.Duration
	IdlePoll   time.Duration

	// Rand draws pacing delays. Defaults to a time-seeded source.
	Rand   *rand.Rand
	Clock  clock.Clock
	Logger *zap.Logger
}

// Stats counts outcomes in this session.
type Stats struct {
	Processed int
	Skipped   int
	Failed    int
}

type Engine struct {
	store    store.Store
	exec     *safeop.Executor
	guardian *guardian.Guardian
	analyzer Analyzer
	quota    *quota.Tracker

	paceMin    time.Duration
	paceMax    time.Duration
	batchSize  int
	restPause  time.Duration
	retryDelay time.Duration
	idlePoll   time.Duration

	rnd    *rand.Rand
	clock  clock.Clock
	logger *zap.Logger

	stats Stats
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("engine: analyzer is required")
	}
	if opts.PaceMin > opts.PaceMax {
		return nil, fmt.Errorf("engine: pace min %s exceeds max %s", opts.PaceMin, opts.PaceMax)
	}
	e := &Engine{
		store:      opts.Store,
		exec:       opts.Executor,
		guardian:   opts.Guardian,
		analyzer:   opts.Analyzer,
		quota:      opts.Quota,
		paceMin:    opts.PaceMin,
		paceMax:    opts.PaceMax,
		batchSize:  opts.BatchSize,
		restPause:  opts.RestPause,
		retryDelay: opts.RetryDelay,
		idlePoll:   opts.IdlePoll,
		rnd:        opts.Rand,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		e.rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if e.exec == nil {
		e.exec = safeop.New(safeop.Options{Clock: e.clock, Logger: e.logger})
	}
	if e.guardian == nil {
		e.guardian = guardian.New(guardian.Options{Store: e.store, Executor: e.exec, Clock: e.clock, Logger: e.logger})
	}
	if e.quota == nil {
		e.quota = quota.New(quota.Options{Clock: e.clock, Logger: e.logger})
	}
	return e, nil
}

// Stats returns the outcome counters for this session.
func (e *Engine) Stats() Stats { return e.stats }

// ProcessNext handles the first pending item in row order. ok is false when no
// item is pending. err is reserved for failures before an item was selected;
// item-level failures are reported as a Failed outcome.
func (e *Engine) ProcessNext(ctx context.Context) (Outcome, bool, error) {
	item, ok, err := e.selectNext(ctx)
	if err != nil || !ok {
		return Outcome{}, ok, err
	}
	return e.process(ctx, item), true, nil
}

// PendingItems reads the pending items through the cache.
func (e *Engine) PendingItems(ctx context.Context) ([]store.WorkItem, error) {
	return safeop.Read(ctx, e.exec, "readPendingLeads", pendingLeadsKey, func(ctx context.Context) ([]store.WorkItem, error) {
		items, err := e.store.ReadLeads(ctx)
		if err != nil {
			return nil, err
		}
		return store.Pending(items), nil
	})
}

func (e *Engine) selectNext(ctx context.Context) (store.WorkItem, bool, error) {
	items, err := e.PendingItems(ctx)
	if err != nil {
		return store.WorkItem{}, false, fmt.Errorf("read pending leads: %w", err)
	}
	item, ok := store.FirstPending(items)
	return item, ok, nil
}

func (e *Engine) process(ctx context.Context, item store.WorkItem) Outcome {
	log := e.logger.With(zap.Int("row", item.Row), zap.String("lead", item.Name))
	log.Info("processing lead")

	check, err := e.guardian.PreCheck(ctx, item)
	if err != nil {
		return e.fail(ctx, log, item, check.Key, fmt.Errorf("duplicate pre-check: %w", err))
	}
	key := check.Key
	if check.Duplicate {
		log.Info("duplicate lead, marking complete", zap.String("key", key.String()), zap.String("source", string(check.Source)))
		return e.skip(ctx, log, item, key, SkipDuplicatePreCheck, store.StatusComplete)
	}

	if !UsableURL(item.URL) {
		log.Warn("lead has no usable website URL", zap.String("url", item.URL))
		return e.skip(ctx, log, item, key, SkipInvalidURL, store.ErrorStatus(invalidURLStatus))
	}

	if err := e.setStatus(ctx, item.Row, store.StatusProcessing); err != nil {
		return e.fail(ctx, log, item, key, fmt.Errorf("mark processing: %w", err))
	}

	res, err := e.analyzer.Analyze(ctx, enrich.Lead{Name: item.Name, URL: item.URL})
	if err != nil {
		return e.fail(ctx, log, item, key, err)
	}

	if !key.IsZero() {
		dup, err := e.guardian.Recheck(ctx, key)
		if err != nil {
			return e.fail(ctx, log, item, key, fmt.Errorf("duplicate re-check: %w", err))
		}
		if dup {
			log.Warn("lead was written by another writer during analysis, discarding result", zap.String("key", key.String()))
			return e.skip(ctx, log, item, key, SkipDuplicateRecheck, store.StatusComplete)
		}
	}

	rec := store.ResultRecord{
		Name:              item.Name,
		AnalysisText:      res.Analysis,
		FollowupText:      res.Followup,
		OutreachStatus:    store.StatusPending,
		PreviewURL:        res.PreviewURL,
		NormalizedContact: key.Phone(),
	}
	if err := e.exec.Do(ctx, "appendResult", func(ctx context.Context) error {
		return e.store.AppendResult(ctx, rec)
	}); err != nil {
		return e.fail(ctx, log, item, key, fmt.Errorf("append result: %w", err))
	}

	var verification guardian.Verification
	if !key.IsZero() {
		verification, err = e.guardian.Verify(ctx, item, key)
		var missing *guardian.VerificationError
		if errors.As(err, &missing) {
			e.stats.Failed++
			return Outcome{Kind: Failed, Item: item, Key: key, Err: err, Verification: verification}
		}
		if err != nil {
			return e.fail(ctx, log, item, key, fmt.Errorf("verify result: %w", err))
		}
	}

	if err := e.setStatus(ctx, item.Row, store.StatusComplete); err != nil {
		// The result row exists; leaving the lead in processing keeps it from being redone.
		log.Error("result written but lead status update failed", zap.String("err", redact.Secrets(err.Error())))
		e.stats.Failed++
		return Outcome{Kind: Failed, Item: item, Key: key, Err: fmt.Errorf("mark complete: %w", err), Verification: verification}
	}
	log.Info("lead complete", zap.String("key", key.String()), zap.Stringer("verification", verification.Status))
	e.stats.Processed++
	return Outcome{Kind: Processed, Item: item, Key: key, Verification: verification}
}

func (e *Engine) skip(ctx context.Context, log *zap.Logger, item store.WorkItem, key fingerprint.Key, reason SkipReason, status string) Outcome {
	if err := e.setStatus(ctx, item.Row, status); err != nil {
		return e.fail(ctx, log, item, key, fmt.Errorf("mark %s: %w", reason, err))
	}
	e.stats.Skipped++
	return Outcome{Kind: Skipped, Item: item, Key: key, Reason: reason}
}

// fail records err in the lead's status column. The item is not retried
// automatically because its status is no longer pending.
func (e *Engine) fail(ctx context.Context, log *zap.Logger, item store.WorkItem, key fingerprint.Key, err error) Outcome {
	e.stats.Failed++
	msg := redact.Truncate(err.Error(), maxStatusChars)
	log.Error("lead failed", zap.String("err", msg))
	if serr := e.setStatus(ctx, item.Row, store.ErrorStatus(msg)); serr != nil {
		log.Error("could not record lead error status", zap.String("err", redact.Secrets(serr.Error())))
		err = errors.Join(err, serr)
	}
	return Outcome{Kind: Failed, Item: item, Key: key, Err: err}
}

func (e *Engine) setStatus(ctx context.Context, row int, status string) error {
	return e.exec.Do(ctx, "setLeadStatus", func(ctx context.Context) error {
		return e.store.SetLeadStatus(ctx, row, status)
	})
}

// UsableURL reports whether raw is an absolute http(s) URL rather than empty or a
// scraper placeholder.
func UsableURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || urlSentinels[strings.ToLower(raw)] {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
