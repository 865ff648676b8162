// Package store defines the tabular lead/result store the engine works against and
// the row layout shared by every backend.
package store

import (
	"context"
	"strings"
)

// Status markers written to the inbound status column.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing..."
	StatusComplete   = "complete"
	errorPrefix      = "error: "
)

// ErrorStatus formats an operator-visible error marker for the status column.
func ErrorStatus(desc string) string {
	return errorPrefix + strings.TrimSpace(desc)
}

// WorkItem is one lead row in the inbound store. Row is the 1-based store row
// (the header occupies row 1 for sheet-shaped backends).
type WorkItem struct {
	Row     int    `json:"row"`
	Name    string `json:"name"`
	Rating  string `json:"rating,omitempty"`
	URL     string `json:"url"`
	Contact string `json:"contact"`
	Status  string `json:"status"`
}

// IsPending reports whether the item still needs processing: an empty status or
// "pending" in any case.
func (w WorkItem) IsPending() bool {
	s := strings.TrimSpace(w.Status)
	return s == "" || strings.EqualFold(s, StatusPending)
}

// ResultRecord is one row in the outbound store.
type ResultRecord struct {
	Row               int    `json:"row,omitempty"`
	Name              string `json:"name"`
	AnalysisText      string `json:"analysis"`
	FollowupText      string `json:"followup"`
	OutreachStatus    string `json:"outreachStatus"`
	PreviewURL        string `json:"previewUrl"`
	NormalizedContact string `json:"normalizedContact"`
}

// Store is the engine's view of the external tabular store. Apart from Prepare,
// implementations issue exactly one remote call per method so the caller can wrap
// each in retry.
type Store interface {
	// Prepare checks connectivity and the header layout. The outbound header is
	// written when the result table is empty.
	Prepare(ctx context.Context) error

	// ReadLeads returns every inbound row in natural row order.
	ReadLeads(ctx context.Context) ([]WorkItem, error)
	// SetLeadStatus overwrites the status cell of one inbound row.
	SetLeadStatus(ctx context.Context, row int, status string) error

	// ReadResults returns every outbound row in natural row order.
	ReadResults(ctx context.Context) ([]ResultRecord, error)
	// AppendResult adds rec after the last outbound row.
	AppendResult(ctx context.Context, rec ResultRecord) error
	// DeleteResultRows removes the given outbound rows.
	DeleteResultRows(ctx context.Context, rows []int) error
}

// Importer bulk-loads inbound rows (CLI import, harness seeding). Row numbers on
// the items are ignored; new rows go after the existing ones.
type Importer interface {
	ImportLeads(ctx context.Context, items []WorkItem) (int, error)
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// FirstPending returns the first pending item in row order.
func FirstPending(items []WorkItem) (WorkItem, bool) {
	for _, it := range items {
		if it.IsPending() {
			return it, true
		}
	}
	return WorkItem{}, false
}

// Pending filters items down to pending ones, preserving order.
func Pending(items []WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if it.IsPending() {
			out = append(out, it)
		}
	}
	return out
}
