// Package guardian keeps the result store free of duplicate leads.
//
// Checks happen three times per item because the store can be edited by other
// writers between any two calls:
//
//   - PreCheck runs before any expensive work. The local registry is consulted
//     first, then a fresh scan of the result rows.
//   - Recheck repeats the fresh scan right before the result row is appended.
//   - Verify waits for the store to settle, then counts matching rows. Extra
//     matches are deleted (the earliest row survives); a missing row is reported
//     and left for an operator.
package guardian

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/fingerprint"
	"github.com/shpitdev/leadsync/internal/registry"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/shpitdev/leadsync/internal/store"
)

// DefaultSettleDelay is the pause between appending a result and verifying it.
const DefaultSettleDelay = 3 * time.Second

// Source says where a duplicate was found.
type Source string

const (
	SourceNone     Source = ""
	SourceRegistry Source = "registry"
	SourceStore    Source = "store"
)

// Check is the outcome of PreCheck.
type Check struct {
	Key       fingerprint.Key
	Duplicate bool
	Source    Source
}

// Status classifies a Verify result.
type Status int

const (
	// VerifyConfirmed means exactly one result row carries the fingerprint.
	VerifyConfirmed Status = iota
	// VerifySelfHealed means extra rows were found and deleted.
	VerifySelfHealed
	// VerifyMissing means no row carries the fingerprint after the append.
	VerifyMissing
)

func (s Status) String() string {
	switch s {
	case VerifyConfirmed:
		return "confirmed"
	case VerifySelfHealed:
		return "self-healed"
	case VerifyMissing:
		return "missing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Verification reports what Verify saw and did.
type Verification struct {
	Status  Status
	Matches int
	KeptRow int
	Deleted []int
}

// VerificationError is returned when an appended row cannot be found. The write
// may or may not have landed, so nothing is retried automatically.
type VerificationError struct {
	Key  fingerprint.Key
	Name string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("result row for %q (%s) missing after append", e.Name, e.Key)
}

// Options configures a Guardian.
type Options struct {
	Store       store.Store
	Executor    *safeop.Executor
	Registry    *registry.Registry
	Clock       clock.Clock
	SettleDelay time.Duration
	Logger      *zap.Logger
}

// Guardian runs the duplicate checks.
type Guardian struct {
	store    store.Store
	exec     *safeop.Executor
	registry *registry.Registry
	clock    clock.Clock
	settle   time.Duration
	logger   *zap.Logger
}

func New(opts Options) *Guardian {
	g := &Guardian{
		store:    opts.Store,
		exec:     opts.Executor,
		registry: opts.Registry,
		clock:    opts.Clock,
		settle:   opts.SettleDelay,
		logger:   opts.Logger,
	}
	if g.clock == nil {
		g.clock = clock.Real{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.registry == nil {
		g.registry = registry.Open("", g.clock, g.logger)
	}
	if g.exec == nil {
		g.exec = safeop.New(safeop.Options{Clock: g.clock, Logger: g.logger})
	}
	if g.settle < 0 {
		g.settle = 0
	}
	return g
}

// PreCheck fingerprints item and looks for an existing result. Items without a
// fingerprint are never duplicates.
func (g *Guardian) PreCheck(ctx context.Context, item store.WorkItem) (Check, error) {
	key := fingerprint.Compute(item.Name, item.Contact)
	if key.IsZero() {
		g.logger.Warn("lead has no fingerprint, dedup disabled for it",
			zap.Int("row", item.Row),
			zap.String("name", item.Name),
		)
		return Check{}, nil
	}

	if g.registry.Contains(key) {
		return Check{Key: key, Duplicate: true, Source: SourceRegistry}, nil
	}

	matches, err := g.scan(ctx, "precheckScan", key)
	if err != nil {
		return Check{Key: key}, err
	}
	if len(matches) == 0 {
		return Check{Key: key}, nil
	}
	if err := g.registry.Add(key, matches[0].Name, matches[0].NormalizedContact); err != nil {
		g.logger.Warn("registry update failed", zap.String("key", key.String()), zap.Error(err))
	}
	return Check{Key: key, Duplicate: true, Source: SourceStore}, nil
}

// Recheck scans the result store again for key.
func (g *Guardian) Recheck(ctx context.Context, key fingerprint.Key) (bool, error) {
	if key.IsZero() {
		return false, nil
	}
	matches, err := g.scan(ctx, "recheckScan", key)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// Verify waits for the store to settle and reconciles the rows carrying key.
// A *VerificationError is returned when no row is found.
func (g *Guardian) Verify(ctx context.Context, item store.WorkItem, key fingerprint.Key) (Verification, error) {
	if key.IsZero() {
		return Verification{Status: VerifyConfirmed}, nil
	}
	if g.settle > 0 {
		if err := g.clock.Sleep(ctx, g.settle); err != nil {
			return Verification{}, err
		}
	}

	matches, err := g.scan(ctx, "verifyScan", key)
	if err != nil {
		return Verification{}, err
	}

	switch len(matches) {
	case 0:
		g.logger.Error("CATASTROPHIC: appended result row not found; leaving lead for manual review",
			zap.Int("row", item.Row),
			zap.String("name", item.Name),
			zap.String("key", key.String()),
		)
		return Verification{Status: VerifyMissing}, &VerificationError{Key: key, Name: item.Name}
	case 1:
		g.remember(key, item)
		return Verification{Status: VerifyConfirmed, Matches: 1, KeptRow: matches[0].Row}, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Row < matches[j].Row })
	kept := matches[0].Row
	extra := make([]int, 0, len(matches)-1)
	for _, m := range matches[1:] {
		extra = append(extra, m.Row)
	}
	g.logger.Warn("duplicate result rows detected after append, self-healing",
		zap.String("key", key.String()),
		zap.Int("matches", len(matches)),
		zap.Int("keptRow", kept),
		zap.Ints("deleteRows", extra),
	)
	if err := g.exec.Do(ctx, "deleteDuplicateRows", func(ctx context.Context) error {
		return g.store.DeleteResultRows(ctx, extra)
	}); err != nil {
		return Verification{Matches: len(matches), KeptRow: kept}, fmt.Errorf("self-heal %s: %w", key, err)
	}
	g.remember(key, item)
	g.logger.Info("self-heal complete", zap.String("key", key.String()), zap.Int("deleted", len(extra)))
	return Verification{Status: VerifySelfHealed, Matches: len(matches), KeptRow: kept, Deleted: extra}, nil
}

func (g *Guardian) remember(key fingerprint.Key, item store.WorkItem) {
	if err := g.registry.Add(key, item.Name, key.Phone()); err != nil {
		g.logger.Warn("registry update failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// scan reads the result rows fresh (never from cache) and returns those matching key.
func (g *Guardian) scan(ctx context.Context, label string, key fingerprint.Key) ([]store.ResultRecord, error) {
	rows, err := safeop.Read(ctx, g.exec, label, "", g.store.ReadResults)
	if err != nil {
		return nil, err
	}
	var out []store.ResultRecord
	for _, r := range rows {
		if fingerprint.Matches(key, r.Name, r.NormalizedContact) {
			out = append(out, r)
		}
	}
	return out, nil
}
