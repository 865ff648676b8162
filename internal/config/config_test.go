package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/leadsync/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "leadsync.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultNeedsSpreadsheetID(t *testing.T) {
	cfg := config.Default()
	require.ErrorContains(t, cfg.Validate(), "spreadsheet_id")

	cfg.Sheets.SpreadsheetID = "abc"
	require.NoError(t, cfg.Validate())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	path := writeFile(t, `
state_dir: /var/lib/leadsync
store:
  backend: sqlite
  sqlite_path: /tmp/leads.db
schedule:
  pace_min: 5s
  pace_max: 20s
  batch_size: 3
layout:
  leads:
    status: 7
`)
	t.Setenv("LEADSYNC_PACE_MAX", "45s")
	t.Setenv("LEADSYNC_DAILY_LIMIT", "25")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("GEMINI_TEMPERATURE", "0.4")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Schedule.PaceMin)
	assert.Equal(t, 45*time.Second, cfg.Schedule.PaceMax)
	assert.Equal(t, 3, cfg.Schedule.BatchSize)
	assert.Equal(t, 25, cfg.Schedule.DailyLimit)
	assert.Equal(t, "secret", cfg.Gemini.APIKey)
	require.NotNil(t, cfg.Gemini.Temperature)
	assert.InDelta(t, 0.4, float64(*cfg.Gemini.Temperature), 1e-6)

	// Unset layout fields keep their defaults.
	assert.Equal(t, 7, cfg.Layout.Leads.Status)
	assert.Equal(t, 1, cfg.Layout.Leads.Name)

	q, c, r := cfg.Paths()
	assert.Equal(t, "/var/lib/leadsync/quota_state.json", q)
	assert.Equal(t, "/var/lib/leadsync/sheets_cache.json", c)
	assert.Equal(t, "/var/lib/leadsync/duplicate_registry.json", r)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "schedule:\n  pace_minimum: 5s\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("LEADSYNC_BATCH_SIZE", "ten")
	_, err := config.Load("")
	require.ErrorContains(t, err, "LEADSYNC_BATCH_SIZE")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Schedule.PaceMin = time.Minute
	cfg.Schedule.PaceMax = time.Second
	cfg.SafeOp.MaxAttempts = 0
	cfg.Layout.Leads.URL = cfg.Layout.Leads.Name

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pace_min")
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "share position")
}

func TestPathsKeepsAbsoluteOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.QuotaFile = "/etc/quota.json"
	q, c, _ := cfg.Paths()
	assert.Equal(t, "/etc/quota.json", q)
	assert.Equal(t, filepath.Join(".leadsync", "sheets_cache.json"), c)
}
