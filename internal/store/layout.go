package store

import (
	"fmt"
	"strings"
)

// LeadColumns holds the 1-based column positions of the inbound table.
type LeadColumns struct {
	Name    int `yaml:"name"`
	Rating  int `yaml:"rating"`
	URL     int `yaml:"url"`
	Contact int `yaml:"contact"`
	Status  int `yaml:"status"`
}

// Layout describes how rows map onto the inbound and outbound tables.
type Layout struct {
	Leads LeadColumns `yaml:"leads"`

	// LeadHeader lists expected inbound header names by position. Empty entries
	// are not checked.
	LeadHeader []string `yaml:"lead_header"`

	// ResultHeader names the outbound columns this engine writes, in order.
	ResultHeader []string `yaml:"result_header"`
	// ReservedResultHeader names trailing outbound columns owned by downstream
	// automation. They are written once in an empty table's header and never touched again.
	ReservedResultHeader []string `yaml:"reserved_result_header"`
}

// DefaultLayout matches the "LEADS" and "RESULTS" worksheets.
func DefaultLayout() Layout {
	return Layout{
		Leads: LeadColumns{Name: 1, Rating: 2, URL: 3, Contact: 4, Status: 6},
		LeadHeader: []string{
			"Restaurant Name", "Rating", "Website", "Phone Number", "", "Status",
		},
		ResultHeader: []string{
			"Restaurant Name", "Flaw Analysis", "Builder Prompt", "Outreach Status", "Preview URL", "Phone",
		},
		ReservedResultHeader: []string{"Email Sent", "Reply"},
	}
}

// LayoutError reports a header that does not match the configured layout.
type LayoutError struct {
	Table    string
	Problems []string
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "layout error"
	}
	return fmt.Sprintf("%s layout mismatch: %s", e.Table, strings.Join(e.Problems, "; "))
}

const resultColumns = 6

// Validate checks that the column positions are positive and distinct.
func (l Layout) Validate() error {
	cols := map[string]int{
		"name":    l.Leads.Name,
		"rating":  l.Leads.Rating,
		"url":     l.Leads.URL,
		"contact": l.Leads.Contact,
		"status":  l.Leads.Status,
	}
	seen := make(map[int]string, len(cols))
	var problems []string
	for _, name := range []string{"name", "rating", "url", "contact", "status"} {
		idx := cols[name]
		if idx <= 0 {
			problems = append(problems, fmt.Sprintf("column %s must be >= 1 (got %d)", name, idx))
			continue
		}
		if other, dup := seen[idx]; dup {
			problems = append(problems, fmt.Sprintf("columns %s and %s share position %d", other, name, idx))
		}
		seen[idx] = name
	}
	if len(l.ResultHeader) != resultColumns {
		problems = append(problems, fmt.Sprintf("result header must name %d columns (got %d)", resultColumns, len(l.ResultHeader)))
	}
	if len(problems) > 0 {
		return &LayoutError{Table: "config", Problems: problems}
	}
	return nil
}

// LeadWidth is the number of inbound cells the layout reads.
func (l Layout) LeadWidth() int {
	return max(l.Leads.Name, l.Leads.Rating, l.Leads.URL, l.Leads.Contact, l.Leads.Status)
}

// ParseLead maps raw inbound cells onto a WorkItem.
func (l Layout) ParseLead(row int, cells []string) WorkItem {
	return WorkItem{
		Row:     row,
		Name:    cell(cells, l.Leads.Name),
		Rating:  cell(cells, l.Leads.Rating),
		URL:     cell(cells, l.Leads.URL),
		Contact: cell(cells, l.Leads.Contact),
		Status:  cell(cells, l.Leads.Status),
	}
}

// LeadCells renders item as an inbound row, leaving unmapped columns empty.
func (l Layout) LeadCells(item WorkItem) []string {
	out := make([]string, l.LeadWidth())
	out[l.Leads.Name-1] = item.Name
	out[l.Leads.Rating-1] = item.Rating
	out[l.Leads.URL-1] = item.URL
	out[l.Leads.Contact-1] = item.Contact
	out[l.Leads.Status-1] = item.Status
	return out
}

// ResultCells renders rec as the outbound cells this engine owns.
func ResultCells(rec ResultRecord) []string {
	return []string{
		rec.Name,
		rec.AnalysisText,
		rec.FollowupText,
		rec.OutreachStatus,
		rec.PreviewURL,
		rec.NormalizedContact,
	}
}

// ParseResult maps raw outbound cells onto a ResultRecord.
func ParseResult(row int, cells []string) ResultRecord {
	return ResultRecord{
		Row:               row,
		Name:              cell(cells, 1),
		AnalysisText:      cell(cells, 2),
		FollowupText:      cell(cells, 3),
		OutreachStatus:    cell(cells, 4),
		PreviewURL:        cell(cells, 5),
		NormalizedContact: cell(cells, 6),
	}
}

// ResultHeaderRow returns the full outbound header including reserved columns.
func (l Layout) ResultHeaderRow() []string {
	out := make([]string, 0, len(l.ResultHeader)+len(l.ReservedResultHeader))
	out = append(out, l.ResultHeader...)
	return append(out, l.ReservedResultHeader...)
}

// CheckLeadHeader compares an inbound header row with LeadHeader.
func (l Layout) CheckLeadHeader(header []string) error {
	return checkHeader("leads", l.LeadHeader, header)
}

// CheckResultHeader compares an outbound header row with ResultHeader.
func (l Layout) CheckResultHeader(header []string) error {
	return checkHeader("results", l.ResultHeader, header)
}

func checkHeader(table string, want, got []string) error {
	var problems []string
	for i, w := range want {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		g := cell(got, i+1)
		if !strings.EqualFold(g, w) {
			problems = append(problems, fmt.Sprintf("column %d: want %q, got %q", i+1, w, g))
		}
	}
	if len(problems) > 0 {
		return &LayoutError{Table: table, Problems: problems}
	}
	return nil
}

func cell(cells []string, col int) string {
	if col <= 0 || col > len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[col-1])
}
