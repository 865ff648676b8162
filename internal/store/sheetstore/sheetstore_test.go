package sheetstore_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/sheetstore"
	"github.com/shpitdev/leadsync/pkg/mocksheets"
	"github.com/shpitdev/leadsync/pkg/sheets"
)

const spreadsheetID = "lead-gen-engine"

var leadHeader = []string{"Restaurant Name", "Rating", "Website", "Phone Number", "Email", "Status"}

func newStore(t *testing.T, srv *mocksheets.Server) *sheetstore.Store {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := sheets.NewClient(ts.URL, spreadsheetID, sheets.StaticToken("tok"), "")
	require.NoError(t, err)
	s, err := sheetstore.New(client, sheetstore.Config{Layout: store.DefaultLayout()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestPrepareWritesResultsHeaderWhenEmpty(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{leadHeader})
	srv.AddSheet(spreadsheetID, "RESULTS", nil)
	s := newStore(t, srv)

	require.NoError(t, s.Prepare(context.Background()))
	rows := srv.Rows(spreadsheetID, "RESULTS")
	require.Len(t, rows, 1)
	assert.Equal(t, store.DefaultLayout().ResultHeaderRow(), rows[0])

	// A second Prepare validates instead of rewriting.
	require.NoError(t, s.Prepare(context.Background()))
	assert.Len(t, srv.Rows(spreadsheetID, "RESULTS"), 1)
}

func TestPrepareRejectsMismatchedLeadHeader(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{{"Name", "Stars"}})
	srv.AddSheet(spreadsheetID, "RESULTS", nil)
	s := newStore(t, srv)

	err := s.Prepare(context.Background())
	var le *store.LayoutError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "leads", le.Table)
}

func TestPrepareRequiresBothTabs(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{leadHeader})
	s := newStore(t, srv)

	require.ErrorContains(t, s.Prepare(context.Background()), `"RESULTS" not found`)
}

func TestLeadsRoundTrip(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{
		leadHeader,
		{"Cafe X", "4.5", "http://cafex.test", "09876543210", "", "complete"},
		{},
		{"Diner Y", "4.1", "http://dinery.test", "+91 98765 43211"},
	})
	srv.AddSheet(spreadsheetID, "RESULTS", nil)
	s := newStore(t, srv)
	ctx := context.Background()
	require.NoError(t, s.Prepare(ctx))

	leads, err := s.ReadLeads(ctx)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, 2, leads[0].Row)
	assert.Equal(t, 4, leads[1].Row)

	next, ok := store.FirstPending(leads)
	require.True(t, ok)
	assert.Equal(t, "Diner Y", next.Name)

	require.NoError(t, s.SetLeadStatus(ctx, next.Row, store.StatusProcessing))
	assert.Equal(t, store.StatusProcessing, srv.Rows(spreadsheetID, "LEADS")[3][5])
}

func TestResultsAppendAndDelete(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{leadHeader})
	srv.AddSheet(spreadsheetID, "RESULTS", nil)
	s := newStore(t, srv)
	ctx := context.Background()
	require.NoError(t, s.Prepare(ctx))

	for range 3 {
		require.NoError(t, s.AppendResult(ctx, store.ResultRecord{
			Name:              "Cafe X",
			AnalysisText:      "slow",
			OutreachStatus:    "pending",
			NormalizedContact: "9876543210",
		}))
	}
	results, err := s.ReadResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{results[0].Row, results[1].Row, results[2].Row})
	assert.Equal(t, "9876543210", results[0].NormalizedContact)

	require.NoError(t, s.DeleteResultRows(ctx, []int{3, 4}))
	results, err = s.ReadResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Row)

	require.Error(t, s.DeleteResultRows(ctx, []int{1}))
}

func TestDeleteBeforePrepare(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	s := newStore(t, srv)
	require.Error(t, s.DeleteResultRows(context.Background(), []int{2}))
}

func TestImportLeads(t *testing.T) {
	t.Parallel()

	srv := mocksheets.New()
	srv.AddSheet(spreadsheetID, "LEADS", [][]string{leadHeader})
	srv.AddSheet(spreadsheetID, "RESULTS", nil)
	s := newStore(t, srv)

	n, err := s.ImportLeads(context.Background(), []store.WorkItem{
		{Name: "Cafe X", URL: "http://cafex.test", Contact: "09876543210", Status: store.StatusPending},
		{Name: "Diner Y", URL: "http://dinery.test"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := srv.Rows(spreadsheetID, "LEADS")
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Cafe X", "", "http://cafex.test", "09876543210", "", "pending"}, rows[1])
}
