package csvio_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/internal/store/csvio"
)

func TestReadLeadsCSV(t *testing.T) {
	t.Run("maps sheet-style headers", func(t *testing.T) {
		in := "Restaurant Name,Rating,Website,Phone Number,Email,Status\n" +
			"Cafe X,4.5,http://cafex.test,09876543210,,\n" +
			",,,,,\n" +
			"Diner Y,4.1,No Website Found,+91 98765 43211,,complete\n"
		got, err := csvio.ReadLeadsCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d items, want 2: %#v", len(got), got)
		}
		if got[0].Name != "Cafe X" || got[0].URL != "http://cafex.test" || got[0].Contact != "09876543210" {
			t.Fatalf("unexpected first item: %#v", got[0])
		}
		if got[1].Status != "complete" || got[1].URL != "No Website Found" {
			t.Fatalf("unexpected second item: %#v", got[1])
		}
	})

	t.Run("short rows and alternate names", func(t *testing.T) {
		in := "name,url\nCafe X\n"
		got, err := csvio.ReadLeadsCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Name != "Cafe X" || got[0].URL != "" {
			t.Fatalf("unexpected items: %#v", got)
		}
	})

	t.Run("missing name column errors", func(t *testing.T) {
		_, err := csvio.ReadLeadsCSV(strings.NewReader("website\nhttp://x.test\n"))
		if err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestWriteResultsCSV(t *testing.T) {
	var buf bytes.Buffer
	header := store.DefaultLayout().ResultHeader
	err := csvio.WriteResultsCSV(&buf, header, []store.ResultRecord{{
		Row:               2,
		Name:              "Cafe X",
		AnalysisText:      "line one\nline \"two\"",
		OutreachStatus:    "pending",
		NormalizedContact: "9876543210",
	}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "row,Restaurant Name,Flaw Analysis,Builder Prompt,Outreach Status,Preview URL,Phone\n" +
		"2,Cafe X,\"line one\nline \"\"two\"\"\",,pending,,9876543210\n"
	if buf.String() != want {
		t.Fatalf("csv mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestWriteLeadsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := csvio.WriteLeadsCSV(&buf, []store.WorkItem{{Row: 3, Name: "Cafe X", Status: "error: timeout"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "row,name,rating,website,phone,status\n3,Cafe X,,,,error: timeout\n"
	if buf.String() != want {
		t.Fatalf("csv mismatch:\n got %q\nwant %q", buf.String(), want)
	}
}
