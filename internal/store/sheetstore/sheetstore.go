// Package sheetstore backs store.Store with two worksheets of one Google
// spreadsheet: an inbound leads tab and an outbound results tab.
package sheetstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/store"
	"github.com/shpitdev/leadsync/pkg/sheets"
)

// Default worksheet titles.
const (
	DefaultLeadsSheet   = "LEADS"
	DefaultResultsSheet = "RESULTS"
)

// API is the subset of *sheets.Client the store uses.
type API interface {
	Sheets(ctx context.Context) ([]sheets.SheetProperties, error)
	GetValues(ctx context.Context, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, rng string, rows [][]string) error
	AppendRow(ctx context.Context, rng string, row []string) error
	AppendRows(ctx context.Context, rng string, rows [][]string) error
	DeleteRows(ctx context.Context, sheetID int64, rows []int) error
}

type Config struct {
	LeadsSheet   string
	ResultsSheet string
	Layout       store.Layout
}

type Store struct {
	api    API
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	resultsID int64
	prepared  bool
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Importer = (*Store)(nil)
)

func New(api API, cfg Config, logger *zap.Logger) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("sheets api is required")
	}
	if strings.TrimSpace(cfg.LeadsSheet) == "" {
		cfg.LeadsSheet = DefaultLeadsSheet
	}
	if strings.TrimSpace(cfg.ResultsSheet) == "" {
		cfg.ResultsSheet = DefaultResultsSheet
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{api: api, cfg: cfg, logger: logger}, nil
}

// Prepare resolves both tabs, checks the inbound header, and writes the outbound
// header when the results tab is empty.
func (s *Store) Prepare(ctx context.Context) error {
	tabs, err := s.api.Sheets(ctx)
	if err != nil {
		return fmt.Errorf("list worksheets: %w", err)
	}
	var haveLeads, haveResults bool
	var resultsID int64
	for _, t := range tabs {
		switch t.Title {
		case s.cfg.LeadsSheet:
			haveLeads = true
		case s.cfg.ResultsSheet:
			haveResults = true
			resultsID = t.SheetID
		}
	}
	if !haveLeads {
		return fmt.Errorf("worksheet %q not found", s.cfg.LeadsSheet)
	}
	if !haveResults {
		return fmt.Errorf("worksheet %q not found", s.cfg.ResultsSheet)
	}

	layout := s.cfg.Layout
	leadHeader, err := s.headerRow(ctx, s.cfg.LeadsSheet, max(layout.LeadWidth(), len(layout.LeadHeader)))
	if err != nil {
		return err
	}
	if err := layout.CheckLeadHeader(leadHeader); err != nil {
		return err
	}

	full := layout.ResultHeaderRow()
	resultHeader, err := s.headerRow(ctx, s.cfg.ResultsSheet, len(full))
	if err != nil {
		return err
	}
	if isBlank(resultHeader) {
		rng := sheets.A1(s.cfg.ResultsSheet, "A1:"+sheets.ColumnLetter(len(full))+"1")
		if err := s.api.UpdateValues(ctx, rng, [][]string{full}); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
		s.logger.Info("wrote results header", zap.String("sheet", s.cfg.ResultsSheet), zap.Strings("columns", full))
	} else if err := layout.CheckResultHeader(resultHeader); err != nil {
		return err
	}

	s.mu.Lock()
	s.resultsID = resultsID
	s.prepared = true
	s.mu.Unlock()
	return nil
}

func (s *Store) headerRow(ctx context.Context, sheet string, width int) ([]string, error) {
	rows, err := s.api.GetValues(ctx, sheets.A1(sheet, "A1:"+sheets.ColumnLetter(width)+"1"))
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) ReadLeads(ctx context.Context) ([]store.WorkItem, error) {
	width := s.cfg.Layout.LeadWidth()
	rows, err := s.api.GetValues(ctx, sheets.A1(s.cfg.LeadsSheet, "A2:"+sheets.ColumnLetter(width)))
	if err != nil {
		return nil, err
	}
	out := make([]store.WorkItem, 0, len(rows))
	for i, cells := range rows {
		// Blank rows keep their number but never become work.
		if isBlank(cells) {
			continue
		}
		out = append(out, s.cfg.Layout.ParseLead(i+2, cells))
	}
	return out, nil
}

func (s *Store) SetLeadStatus(ctx context.Context, row int, status string) error {
	if row < 2 {
		return fmt.Errorf("invalid lead row %d", row)
	}
	cellRef := sheets.ColumnLetter(s.cfg.Layout.Leads.Status) + strconv.Itoa(row)
	return s.api.UpdateValues(ctx, sheets.A1(s.cfg.LeadsSheet, cellRef), [][]string{{status}})
}

func (s *Store) ReadResults(ctx context.Context) ([]store.ResultRecord, error) {
	rows, err := s.api.GetValues(ctx, sheets.A1(s.cfg.ResultsSheet, "A2:"+sheets.ColumnLetter(len(s.cfg.Layout.ResultHeader))))
	if err != nil {
		return nil, err
	}
	out := make([]store.ResultRecord, 0, len(rows))
	for i, cells := range rows {
		if isBlank(cells) {
			continue
		}
		out = append(out, store.ParseResult(i+2, cells))
	}
	return out, nil
}

func (s *Store) AppendResult(ctx context.Context, rec store.ResultRecord) error {
	return s.api.AppendRow(ctx, sheets.A1(s.cfg.ResultsSheet, "A1"), store.ResultCells(rec))
}

func (s *Store) DeleteResultRows(ctx context.Context, rows []int) error {
	s.mu.Lock()
	id, ok := s.resultsID, s.prepared
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sheetstore: Prepare must run before deleting rows")
	}
	for _, r := range rows {
		if r < 2 {
			return fmt.Errorf("refusing to delete results row %d", r)
		}
	}
	return s.api.DeleteRows(ctx, id, rows)
}

func (s *Store) ImportLeads(ctx context.Context, items []store.WorkItem) (int, error) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, s.cfg.Layout.LeadCells(it))
	}
	if err := s.api.AppendRows(ctx, sheets.A1(s.cfg.LeadsSheet, "A1"), rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
