package app_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shpitdev/leadsync/internal/app"
	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/config"
	"github.com/shpitdev/leadsync/internal/engine"
	"github.com/shpitdev/leadsync/internal/enrich"
	"github.com/shpitdev/leadsync/internal/store/memstore"
	"github.com/shpitdev/leadsync/pkg/mocksheets"
)

const (
	spreadsheetID = "sheet-123"
	token         = "dummy-token"
)

var leadHeader = []string{"Restaurant Name", "Rating", "Website", "Phone Number", "", "Status"}

type harness struct {
	mock *mocksheets.Server
	cfg  config.Config
	clk  *clock.Fake
	site string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Cafe X</title></head><body><p>Open daily. Call to order.</p></body></html>"))
	}))
	t.Cleanup(site.Close)

	mock := mocksheets.New()
	mock.RequireBearerToken(token)
	mock.AddSheet(spreadsheetID, "LEADS", [][]string{leadHeader})
	mock.AddSheet(spreadsheetID, "RESULTS", nil)
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte(token+"\n"), 0o600))

	cfg := config.Default()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Sheets.SpreadsheetID = spreadsheetID
	cfg.Sheets.BaseURL = ts.URL
	cfg.Sheets.TokenFile = tokenPath
	cfg.Schedule.SettleDelay = 0
	cfg.SafeOp.RequestsPerMinute = 0
	cfg.PreviewURLTemplate = "https://preview.test/{slug}"

	return &harness{
		mock: mock,
		cfg:  cfg,
		clk:  clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		site: site.URL,
	}
}

func (h *harness) open(t *testing.T) *app.App {
	t.Helper()
	a, err := app.Open(context.Background(), h.cfg, app.Options{Clock: h.clk, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func stubGenerator() enrich.Generator {
	return enrich.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "Open daily") {
			return "No online ordering.", nil
		}
		return "Build a menu page with ordering.", nil
	})
}

func TestOnceAgainstMockSheets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mock.AppendRows(spreadsheetID, "LEADS", []string{"Cafe X", "4.5", h.site, "09876543210", "", ""})

	a := h.open(t)
	assert.Equal(t, []string{
		"Restaurant Name", "Flaw Analysis", "Builder Prompt", "Outreach Status", "Preview URL", "Phone", "Email Sent", "Reply",
	}, h.mock.Rows(spreadsheetID, "RESULTS")[0])

	eng, err := a.NewEngine(context.Background(), app.EngineDeps{Generator: stubGenerator()})
	require.NoError(t, err)

	out, ok, err := eng.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, engine.Processed, out.Kind)

	results := h.mock.Rows(spreadsheetID, "RESULTS")
	require.Len(t, results, 2)
	assert.Equal(t, "Cafe X", results[1][0])
	assert.Equal(t, "pending", results[1][3])
	assert.Equal(t, "https://preview.test/cafe-x", results[1][4])
	assert.Equal(t, "9876543210", results[1][5])

	leads := h.mock.Rows(spreadsheetID, "LEADS")
	assert.Equal(t, "complete", leads[1][5])

	st, err := a.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.ProcessedToday)
	assert.Equal(t, 1, st.Leads)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 1, st.Results)
	assert.Equal(t, 1, st.RegistryKeys)
	assert.Equal(t, "2024-01-01", st.Date)
}

func TestOpenRejectsForeignLeadHeader(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mock.AddSheet(spreadsheetID, "LEADS", [][]string{{"Email", "Company"}})

	_, err := app.Open(context.Background(), h.cfg, app.Options{Clock: h.clk, Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare sheets store")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Sheets.SpreadsheetID = ""
	_, err := app.Open(context.Background(), cfg, app.Options{})
	require.ErrorContains(t, err, "sheets.spreadsheet_id is required")
}

func TestImportAndExportMemoryBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Store.Backend = config.BackendMemory

	a, err := app.Open(context.Background(), cfg, app.Options{
		Clock:  clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	in := "Restaurant Name,Rating,Website,Phone Number\nCafe X,4.5,https://cafe.test,9876543210\nDiner Y,,,\n"
	n, err := a.ImportLeads(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	n, err = a.ExportLeads(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t,
		"row,name,rating,website,phone,status\n2,Cafe X,4.5,https://cafe.test,9876543210,\n3,Diner Y,,,,\n",
		buf.String())

	buf.Reset()
	n, err = a.ExportResults(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, strings.HasPrefix(buf.String(), "row,Restaurant Name,"))
}

func TestImportIsAttemptedOnce(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Store.Backend = config.BackendMemory
	mem := memstore.New()
	a, err := app.Open(context.Background(), cfg, app.Options{
		Clock:  clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		Logger: zaptest.NewLogger(t),
		Store:  mem,
	})
	require.NoError(t, err)

	mem.FailNext("ImportLeads", errors.New("connection reset after send"))
	_, err = a.ImportLeads(context.Background(), strings.NewReader("name,phone\nCafe X,9876543210\n"))
	require.ErrorContains(t, err, "connection reset after send")
	assert.Equal(t, 1, mem.Calls("ImportLeads"))
}

func TestNewEngineRequiresGeminiKey(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Store.Backend = config.BackendMemory
	a, err := app.Open(context.Background(), cfg, app.Options{
		Clock:  clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	_, err = a.NewEngine(context.Background(), app.EngineDeps{})
	require.ErrorContains(t, err, "GEMINI_API_KEY is required")
}
