// Package config assembles leadsync settings: built-in defaults, then an optional
// YAML file, then environment variables. Command-line flags are applied last by
// cmd/leadsync.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/leadsync/internal/cache"
	"github.com/shpitdev/leadsync/internal/enrich"
	"github.com/shpitdev/leadsync/internal/enrich/fetch"
	"github.com/shpitdev/leadsync/internal/enrich/gemini"
	"github.com/shpitdev/leadsync/internal/guardian"
	"github.com/shpitdev/leadsync/internal/quota"
	"github.com/shpitdev/leadsync/internal/safeop"
	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/pgstore"
	"github.com/shpitdev/leadsync/internal/store/sheetstore"
)

// Store backends.
const (
	BackendSheets   = "sheets"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	// StateDir holds the quota, cache and registry files unless their paths are
	// set explicitly.
	StateDir     string `yaml:"state_dir"`
	QuotaFile    string `yaml:"quota_file"`
	CacheFile    string `yaml:"cache_file"`
	RegistryFile string `yaml:"registry_file"`

	Store    StoreConfig    `yaml:"store"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Schedule ScheduleConfig `yaml:"schedule"`
	SafeOp   SafeOpConfig   `yaml:"safeop"`
	Layout   store.Layout   `yaml:"layout"`

	// PreviewURLTemplate may contain "{slug}".
	PreviewURLTemplate string `yaml:"preview_url_template"`
}

type StoreConfig struct {
	Backend        string `yaml:"backend"`
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	PostgresSchema string `yaml:"postgres_schema"`
}

type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	BaseURL       string `yaml:"base_url"`
	LeadsSheet    string `yaml:"leads_sheet"`
	ResultsSheet  string `yaml:"results_sheet"`
	// TokenFile holds a bearer token re-read on every request. When empty,
	// Google application-default credentials (or CredentialsFile) are used.
	TokenFile       string `yaml:"token_file"`
	CredentialsFile string `yaml:"credentials_file"`
	CAPath          string `yaml:"ca_path"`
}

type GeminiConfig struct {
	// APIKey comes from the environment only.
	APIKey      string   `yaml:"-"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Trace       bool     `yaml:"trace"`
}

type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
	MaxChars int           `yaml:"max_chars"`
}

type ScheduleConfig struct {
	DailyLimit  int           `yaml:"daily_limit"`
	PaceMin     time.Duration `yaml:"pace_min"`
	PaceMax     time.Duration `yaml:"pace_max"`
	BatchSize   int           `yaml:"batch_size"`
	RestPause   time.Duration `yaml:"rest_pause"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	IdlePoll    time.Duration `yaml:"idle_poll"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type SafeOpConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	FlatBackoff       time.Duration `yaml:"flat_backoff"`
	PostWriteDelay    time.Duration `yaml:"post_write_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDir: ".leadsync",
		Store: StoreConfig{
			Backend:        BackendSheets,
			SQLitePath:     "leadsync.db",
			PostgresSchema: pgstore.DefaultSchema,
		},
		Sheets: SheetsConfig{
			LeadsSheet:   sheetstore.DefaultLeadsSheet,
			ResultsSheet: sheetstore.DefaultResultsSheet,
		},
		Gemini: GeminiConfig{
			Model:     gemini.DefaultModel,
			MaxTokens: enrich.DefaultMaxTokens,
		},
		Fetch: FetchConfig{
			Timeout:  fetch.DefaultTimeout,
			MaxBytes: fetch.DefaultMaxBytes,
			MaxChars: enrich.DefaultMaxDocumentChars,
		},
		Schedule: ScheduleConfig{
			DailyLimit:  quota.DefaultDailyLimit,
			PaceMin:     30 * time.Second,
			PaceMax:     90 * time.Second,
			BatchSize:   10,
			RestPause:   15 * time.Minute,
			RetryDelay:  60 * time.Second,
			IdlePoll:    5 * time.Minute,
			SettleDelay: guardian.DefaultSettleDelay,
			CacheTTL:    cache.DefaultTTL,
		},
		SafeOp: SafeOpConfig{
			MaxAttempts:       safeop.DefaultMaxAttempts,
			BaseBackoff:       safeop.DefaultBaseBackoff,
			FlatBackoff:       safeop.DefaultFlatBackoff,
			PostWriteDelay:    safeop.DefaultPostWriteDelay,
			RequestsPerMinute: 60,
		},
		Layout: store.DefaultLayout(),
	}
}

// Load builds a Config from defaults, the YAML file at path (optional), and the
// environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		err = decodeYAML(f, &cfg)
		_ = f.Close()
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Paths resolves the persisted state files against StateDir.
func (c Config) Paths() (quotaPath, cachePath, registryPath string) {
	resolve := func(p, fallback string) string {
		if strings.TrimSpace(p) == "" {
			p = fallback
		}
		if filepath.IsAbs(p) || strings.TrimSpace(c.StateDir) == "" {
			return p
		}
		return filepath.Join(c.StateDir, p)
	}
	return resolve(c.QuotaFile, "quota_state.json"),
		resolve(c.CacheFile, "sheets_cache.json"),
		resolve(c.RegistryFile, "duplicate_registry.json")
}

// Validate rejects inconsistent settings. Credentials are checked by the
// commands that need them.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Backend {
	case BackendSheets:
		if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
			add("sheets.spreadsheet_id is required for the sheets backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			add("store.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			add("store.postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		add("unknown store.backend %q", c.Store.Backend)
	}

	s := c.Schedule
	if s.DailyLimit <= 0 {
		add("schedule.daily_limit must be > 0 (got %d)", s.DailyLimit)
	}
	if s.PaceMin < 0 || s.PaceMax < 0 {
		add("schedule pacing must be non-negative")
	}
	if s.PaceMin > s.PaceMax {
		add("schedule.pace_min (%s) exceeds schedule.pace_max (%s)", s.PaceMin, s.PaceMax)
	}
	if s.BatchSize < 0 {
		add("schedule.batch_size must be >= 0 (got %d)", s.BatchSize)
	}
	if s.RestPause < 0 || s.RetryDelay < 0 || s.IdlePoll < 0 || s.SettleDelay < 0 {
		add("schedule delays must be non-negative")
	}
	if s.CacheTTL <= 0 {
		add("schedule.cache_ttl must be > 0")
	}

	o := c.SafeOp
	if o.MaxAttempts < 1 {
		add("safeop.max_attempts must be >= 1 (got %d)", o.MaxAttempts)
	}
	if o.BaseBackoff < 0 || o.FlatBackoff < 0 || o.PostWriteDelay < 0 {
		add("safeop delays must be non-negative")
	}
	if o.RequestsPerMinute < 0 {
		add("safeop.requests_per_minute must be >= 0 (got %d)", o.RequestsPerMinute)
	}

	if c.Gemini.MaxTokens <= 0 {
		add("gemini.max_tokens must be > 0")
	}
	if t := c.Gemini.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("gemini.temperature must be within [0, 2]")
	}

	if err := c.Layout.Validate(); err != nil {
		var le *store.LayoutError
		if errors.As(err, &le) {
			problems = append(problems, le.Problems...)
		} else {
			add("%v", err)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
