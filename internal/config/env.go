package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func applyEnv(cfg *Config) error {
	envString("LEADSYNC_STATE_DIR", &cfg.StateDir)
	envString("LEADSYNC_STORE", &cfg.Store.Backend)
	envString("LEADSYNC_SQLITE_PATH", &cfg.Store.SQLitePath)
	envString("LEADSYNC_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	envString("LEADSYNC_POSTGRES_SCHEMA", &cfg.Store.PostgresSchema)

	envString("LEADSYNC_SPREADSHEET_ID", &cfg.Sheets.SpreadsheetID)
	envString("SHEETS_BASE_URL", &cfg.Sheets.BaseURL)
	envString("SHEETS_TOKEN_FILE", &cfg.Sheets.TokenFile)
	envString("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Sheets.CredentialsFile)
	envString("SHEETS_CA_PATH", &cfg.Sheets.CAPath)

	envString("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envString("GEMINI_MODEL", &cfg.Gemini.Model)
	envString("GEMINI_BASE_URL", &cfg.Gemini.BaseURL)
	envString("LEADSYNC_PREVIEW_URL_TEMPLATE", &cfg.PreviewURLTemplate)

	var err error
	if cfg.Gemini.Trace, err = envBool("GEMINI_TRACE", cfg.Gemini.Trace); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", "GEMINI_TEMPERATURE", v, err)
		}
		t := float32(f)
		cfg.Gemini.Temperature = &t
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"LEADSYNC_DAILY_LIMIT", &cfg.Schedule.DailyLimit},
		{"LEADSYNC_BATCH_SIZE", &cfg.Schedule.BatchSize},
		{"LEADSYNC_MAX_ATTEMPTS", &cfg.SafeOp.MaxAttempts},
		{"LEADSYNC_REQUESTS_PER_MINUTE", &cfg.SafeOp.RequestsPerMinute},
	}
	for _, e := range ints {
		if *e.dst, err = envInt(e.name, *e.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"LEADSYNC_PACE_MIN", &cfg.Schedule.PaceMin},
		{"LEADSYNC_PACE_MAX", &cfg.Schedule.PaceMax},
		{"LEADSYNC_REST_PAUSE", &cfg.Schedule.RestPause},
		{"LEADSYNC_RETRY_DELAY", &cfg.Schedule.RetryDelay},
		{"LEADSYNC_IDLE_POLL", &cfg.Schedule.IdlePoll},
		{"LEADSYNC_SETTLE_DELAY", &cfg.Schedule.SettleDelay},
		{"LEADSYNC_CACHE_TTL", &cfg.Schedule.CacheTTL},
		{"LEADSYNC_FETCH_TIMEOUT", &cfg.Fetch.Timeout},
		{"LEADSYNC_BASE_BACKOFF", &cfg.SafeOp.BaseBackoff},
		{"LEADSYNC_FLAT_BACKOFF", &cfg.SafeOp.FlatBackoff},
		{"LEADSYNC_POST_WRITE_DELAY", &cfg.SafeOp.PostWriteDelay},
	}
	for _, e := range durations {
		if *e.dst, err = envDuration(e.name, *e.dst); err != nil {
			return err
		}
	}
	return nil
}

func envString(varName string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		*dst = v
	}
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
