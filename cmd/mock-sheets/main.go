package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/csvio"
	"github.com/shpitdev/leadsync/pkg/mocksheets"
)

func main() {
	addr := defaultString("MOCK_SHEETS_ADDR", ":8080")
	spreadsheetID := defaultString("MOCK_SHEETS_SPREADSHEET_ID", "local")
	token := defaultString("MOCK_SHEETS_TOKEN", "")
	seedCSV := defaultString("MOCK_SHEETS_SEED_CSV", "")

	fs := flag.NewFlagSet("mock-sheets", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&spreadsheetID, "spreadsheet-id", spreadsheetID, "Spreadsheet ID to serve")
	fs.StringVar(&token, "token", token, "Require this bearer token when set")
	fs.StringVar(&seedCSV, "seed-csv", seedCSV, "Optional leads CSV appended to the LEADS tab")
	_ = fs.Parse(os.Args[1:])

	layout := store.DefaultLayout()
	leads := [][]string{layout.LeadHeader}
	if seedCSV != "" {
		f, err := os.Open(seedCSV)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "open seed csv: %v\n", err)
			os.Exit(2)
		}
		items, err := csvio.ReadLeadsCSV(f)
		_ = f.Close()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "read seed csv: %v\n", err)
			os.Exit(2)
		}
		for _, it := range items {
			leads = append(leads, layout.LeadCells(it))
		}
	}

	srv := mocksheets.New()
	if token != "" {
		srv.RequireBearerToken(token)
	}
	srv.AddSheet(spreadsheetID, "LEADS", leads)
	srv.AddSheet(spreadsheetID, "RESULTS", nil)

	_, _ = fmt.Fprintf(os.Stdout, "mock-sheets listening on %s (spreadsheet=%s tabs=%s leads=%d)\n",
		addr, spreadsheetID, strings.Join(srv.SortedTitles(spreadsheetID), ","), len(leads)-1)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
