// Package csvio moves leads and results between a store and CSV files.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shpitdev/leadsync/internal/store"
)

// Header aliases accepted on import, matched case-insensitively.
var leadAliases = map[string][]string{
	"name":    {"restaurant name", "name", "business name"},
	"rating":  {"rating"},
	"url":     {"website", "url", "website url"},
	"contact": {"phone number", "phone", "contact"},
	"status":  {"status"},
}

// ReadLeadsCSV reads work items from a CSV with a header row. A name column is
// required; the others default to empty.
func ReadLeadsCSV(r io.Reader) ([]store.WorkItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(leadAliases))
	for field, aliases := range leadAliases {
		idx[field] = -1
		for i, col := range header {
			if matchesAny(col, aliases) {
				idx[field] = i
				break
			}
		}
	}
	if idx["name"] < 0 {
		return nil, fmt.Errorf("missing required column %q", "name")
	}

	var items []store.WorkItem
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		item := store.WorkItem{
			Name:    field(rec, idx["name"]),
			Rating:  field(rec, idx["rating"]),
			URL:     field(rec, idx["url"]),
			Contact: field(rec, idx["contact"]),
			Status:  field(rec, idx["status"]),
		}
		if item.Name == "" && item.URL == "" && item.Contact == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteResultsCSV writes results under header, which names the outbound columns.
func WriteResultsCSV(w io.Writer, header []string, results []store.ResultRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"row"}, header...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range results {
		row := append([]string{strconv.Itoa(rec.Row)}, store.ResultCells(rec)...)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", rec.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLeadsCSV writes work items with their row numbers and statuses.
func WriteLeadsCSV(w io.Writer, items []store.WorkItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", "name", "rating", "website", "phone", "status"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, it := range items {
		if err := cw.Write([]string{strconv.Itoa(it.Row), it.Name, it.Rating, it.URL, it.Contact, it.Status}); err != nil {
			return fmt.Errorf("write row %d: %w", it.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func matchesAny(col string, aliases []string) bool {
	col = strings.TrimSpace(col)
	for _, a := range aliases {
		if strings.EqualFold(col, a) {
			return true
		}
	}
	return false
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
