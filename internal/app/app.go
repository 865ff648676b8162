// Package app wires configuration into a ready store, duplicate guardian and
// engine. cmd/leadsync stays a thin flag layer over it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/cache"
	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/config"
	"github.com/shpitdev/leadsync/internal/engine"
	"github.com/shpitdev/leadsync/internal/enrich"
	"github.com/shpitdev/leadsync/internal/enrich/fetch"
	"github.com/shpitdev/leadsync/internal/enrich/gemini"
	"github.com/shpitdev/leadsync/internal/guardian"
	"github.com/shpitdev/leadsync/internal/quota"
	"github.com/shpitdev/leadsync/internal/registry"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/csvio"
	"github.com/shpitdev/leadsync/internal/store/memstore"
	"github.com/shpitdev/leadsync/internal/store/pgstore"
	"github.com/shpitdev/leadsync/internal/store/sheetstore"
	"github.com/shpitdev/leadsync/internal/store/sqlitestore"
	"github.com/shpitdev/leadsync/pkg/sheets"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   config.Config
	Store    store.Store
	Executor *safeop.Executor
	Cache    *cache.Cache
	Registry *registry.Registry
	Quota    *quota.Tracker
	Guardian *guardian.Guardian

	clock  clock.Clock
	logger *zap.Logger
}

// Options injects collaborators; zero values use the real implementations.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
	// Store replaces the configured backend (tests, dry runs).
	Store store.Store
}

// Open builds the store and local state and checks the store layout. Any error
// here is a startup failure.
func Open(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	quotaPath, cachePath, registryPath := cfg.Paths()
	for _, p := range []string{quotaPath, cachePath, registryPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir for %s: %w", p, err)
		}
	}

	st := opts.Store
	if st == nil {
		var err error
		st, err = OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Store: st, clock: clk, logger: logger}
	a.Cache = cache.New(cache.Options{Path: cachePath, TTL: cfg.Schedule.CacheTTL, Clock: clk, Logger: logger})
	a.Executor = safeop.New(safeop.Options{
		MaxAttempts:       cfg.SafeOp.MaxAttempts,
		BaseBackoff:       cfg.SafeOp.BaseBackoff,
		FlatBackoff:       cfg.SafeOp.FlatBackoff,
		PostWriteDelay:    cfg.SafeOp.PostWriteDelay,
		RequestsPerMinute: float64(cfg.SafeOp.RequestsPerMinute),
		Cache:             a.Cache,
		Clock:             clk,
		Logger:            logger,
	})
	a.Registry = registry.Open(registryPath, clk, logger)
	a.Quota = quota.New(quota.Options{Path: quotaPath, DailyLimit: cfg.Schedule.DailyLimit, Clock: clk, Logger: logger})
	a.Guardian = guardian.New(guardian.Options{
		Store:       st,
		Executor:    a.Executor,
		Registry:    a.Registry,
		Clock:       clk,
		SettleDelay: cfg.Schedule.SettleDelay,
		Logger:      logger,
	})

	if err := a.Executor.Do(ctx, "prepareStore", st.Prepare); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("prepare %s store: %w", cfg.Store.Backend, err)
	}
	logger.Info("store ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("registryKeys", a.Registry.Len()),
	)
	return a, nil
}

// OpenStore constructs the configured backend without preparing it.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSheets:
		tokens, err := tokenSource(cfg.Sheets)
		if err != nil {
			return nil, err
		}
		client, err := sheets.NewClient(cfg.Sheets.BaseURL, cfg.Sheets.SpreadsheetID, tokens, cfg.Sheets.CAPath)
		if err != nil {
			return nil, err
		}
		return sheetstore.New(client, sheetstore.Config{
			LeadsSheet:   cfg.Sheets.LeadsSheet,
			ResultsSheet: cfg.Sheets.ResultsSheet,
			Layout:       cfg.Layout,
		}, logger)
	case config.BackendSQLite:
		return sqlitestore.Open(cfg.Store.SQLitePath, logger)
	case config.BackendPostgres:
		return pgstore.Open(ctx, cfg.Store.PostgresDSN, cfg.Store.PostgresSchema, logger)
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func tokenSource(cfg config.SheetsConfig) (sheets.TokenSource, error) {
	if cfg.TokenFile != "" {
		return sheets.TokenFile(cfg.TokenFile), nil
	}
	return sheets.NewGoogleTokenSource(cfg.CredentialsFile)
}

// EngineDeps overrides the analysis collaborators.
type EngineDeps struct {
	Generator enrich.Generator
	Fetcher   enrich.Fetcher
	Rand      *rand.Rand
}

// NewEngine builds the analyzer and engine. Without an injected generator the
// Gemini API key must be configured.
func (a *App) NewEngine(ctx context.Context, deps EngineDeps) (*engine.Engine, error) {
	cfg := a.Config
	gen := deps.Generator
	if gen == nil {
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			BaseURL:     cfg.Gemini.BaseURL,
			Temperature: cfg.Gemini.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		gen = g
	}
	if cfg.Gemini.Trace {
		gen = enrich.NewTracedGenerator(gen, a.logger.Named("generator"))
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Config{Timeout: cfg.Fetch.Timeout, MaxBytes: cfg.Fetch.MaxBytes})
	}

	analyzer, err := enrich.NewAnalyzer(enrich.AnalyzerOptions{
		Fetcher:            fetcher,
		Generator:          gen,
		MaxTokens:          cfg.Gemini.MaxTokens,
		MaxDocumentChars:   cfg.Fetch.MaxChars,
		PreviewURLTemplate: cfg.PreviewURLTemplate,
		Clock:              a.clock,
		Logger:             a.logger.Named("analyzer"),
	})
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Options{
		Store:      a.Store,
		Executor:   a.Executor,
		Guardian:   a.Guardian,
		Analyzer:   analyzer,
		Quota:      a.Quota,
		PaceMin:    cfg.Schedule.PaceMin,
		PaceMax:    cfg.Schedule.PaceMax,
		BatchSize:  cfg.Schedule.BatchSize,
		RestPause:  cfg.Schedule.RestPause,
		RetryDelay: cfg.Schedule.RetryDelay,
		IdlePoll:   cfg.Schedule.IdlePoll,
		Rand:       deps.Rand,
		Clock:      a.clock,
		Logger:     a.logger.Named("engine"),
	})
}

// Close releases backend connections.
func (a *App) Close() error {
	if c, ok := a.Store.(store.Closer); ok {
		return c.Close()
	}
	return nil
}

// Status summarizes local state and the inbound store.
type Status struct {
	Backend        string `json:"backend"`
	Date           string `json:"date"`
	ProcessedToday int    `json:"processedToday"`
	DailyLimit     int    `json:"dailyLimit"`
	RegistryKeys   int    `json:"registryKeys"`
	RegistryUpdate string `json:"registryLastUpdated,omitempty"`
	Leads          int    `json:"leads"`
	Pending        int    `json:"pending"`
	Results        int    `json:"results"`
}

func (a *App) Status(ctx context.Context) (Status, error) {
	st, err := a.Quota.Load()
	if err != nil {
		return Status{}, err
	}
	leads, err := safeop.Read(ctx, a.Executor, "readLeads", "", a.Store.ReadLeads)
	if err != nil {
		return Status{}, fmt.Errorf("read leads: %w", err)
	}
	results, err := safeop.Read(ctx, a.Executor, "readResults", "", a.Store.ReadResults)
	if err != nil {
		return Status{}, fmt.Errorf("read results: %w", err)
	}
	return Status{
		Backend:        a.Config.Store.Backend,
		Date:           st.Date,
		ProcessedToday: st.ProcessedCount,
		DailyLimit:     a.Quota.Limit(),
		RegistryKeys:   a.Registry.Len(),
		RegistryUpdate: a.Registry.LastUpdated(),
		Leads:          len(leads),
		Pending:        len(store.Pending(leads)),
		Results:        len(results),
	}, nil
}

// ExportResults writes the result table as CSV.
func (a *App) ExportResults(ctx context.Context, w io.Writer) (int, error) {
	results, err := safeop.Read(ctx, a.Executor, "readResults", "", a.Store.ReadResults)
	if err != nil {
		return 0, err
	}
	return len(results), csvio.WriteResultsCSV(w, a.Config.Layout.ResultHeader, results)
}

// ExportLeads writes the inbound table with statuses as CSV.
func (a *App) ExportLeads(ctx context.Context, w io.Writer) (int, error) {
	leads, err := safeop.Read(ctx, a.Executor, "readLeads", "", a.Store.ReadLeads)
	if err != nil {
		return 0, err
	}
	return len(leads), csvio.WriteLeadsCSV(w, leads)
}

// ImportLeads appends the leads in a CSV to the inbound table. The append is
// attempted once: a retry after a lost response could add every lead twice.
func (a *App) ImportLeads(ctx context.Context, r io.Reader) (int, error) {
	imp, ok := a.Store.(store.Importer)
	if !ok {
		return 0, errors.New("store backend does not support import")
	}
	items, err := csvio.ReadLeadsCSV(r)
	if err != nil {
		return 0, err
	}
	return safeop.WriteOnce(ctx, a.Executor, "importLeads", func(ctx context.Context) (int, error) {
		return imp.ImportLeads(ctx, items)
	})
}
