// Package mocksheets implements the slice of the Google Sheets v4 REST API used by
// leadsync, backed by in-memory tabs. It serves local harness runs and tests.
package mocksheets

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

type tab struct {
	id    int64
	title string
	rows  [][]string
}

// Server is safe for concurrent use.
type Server struct {
	mu     sync.Mutex
	calls  []Call
	sheets map[string][]*tab
	nextID int64

	expectedAuthorization string

	failures []int
}

func New() *Server {
	return &Server{sheets: make(map[string][]*tab)}
}

// AddSheet creates (or replaces) a tab and returns its sheetId.
func (s *Server) AddSheet(spreadsheetID, title string, rows [][]string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.sheets[spreadsheetID] {
		if t.title == title {
			t.rows = cloneRows(rows)
			return t.id
		}
	}
	s.nextID++
	s.sheets[spreadsheetID] = append(s.sheets[spreadsheetID], &tab{id: s.nextID, title: title, rows: cloneRows(rows)})
	return s.nextID
}

// Rows returns a snapshot of a tab's cells.
func (s *Server) Rows(spreadsheetID, title string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(spreadsheetID, title)
	if t == nil {
		return nil
	}
	return cloneRows(t.rows)
}

// AppendRows writes rows out of band, as a human editor or a second writer would.
func (s *Server) AppendRows(spreadsheetID, title string, rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findLocked(spreadsheetID, title); t != nil {
		t.rows = append(t.rows, cloneRows(rows)...)
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next len(statuses) requests fail with the given HTTP statuses.
// 429 responses carry a RESOURCE_EXHAUSTED envelope like the real API.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/", s.handleSpreadsheets)
	return mux
}

func (s *Server) handleSpreadsheets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
	expected := s.expectedAuthorization
	var fail int
	if len(s.failures) > 0 {
		fail = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if expected != "" && r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid bearer token")
		return
	}
	if fail != 0 {
		status := "UNAVAILABLE"
		if fail == http.StatusTooManyRequests {
			status = "RESOURCE_EXHAUSTED"
		}
		writeError(w, fail, status, "injected failure")
		return
	}

	// /v4/spreadsheets/{id}
	// /v4/spreadsheets/{id}:batchUpdate
	// /v4/spreadsheets/{id}/values/{range}
	// /v4/spreadsheets/{id}/values/{range}:append
	rest := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	id, tail, _ := strings.Cut(rest, "/")

	switch {
	case tail == "" && strings.HasSuffix(id, ":batchUpdate") && r.Method == http.MethodPost:
		s.handleBatchUpdate(w, r, strings.TrimSuffix(id, ":batchUpdate"))
	case tail == "" && r.Method == http.MethodGet:
		s.handleGetSpreadsheet(w, id)
	case strings.HasPrefix(tail, "values/"):
		rng := strings.TrimPrefix(tail, "values/")
		switch {
		case strings.HasSuffix(rng, ":append") && r.Method == http.MethodPost:
			s.handleAppend(w, r, id, strings.TrimSuffix(rng, ":append"))
		case r.Method == http.MethodGet:
			s.handleGetValues(w, id, rng)
		case r.Method == http.MethodPut:
			s.handleUpdate(w, r, id, rng)
		default:
			writeError(w, http.StatusMethodNotAllowed, "INVALID_ARGUMENT", "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown endpoint")
	}
}

func (s *Server) handleGetSpreadsheet(w http.ResponseWriter, id string) {
	s.mu.Lock()
	tabs, ok := s.sheets[id]
	type props struct {
		SheetID int64  `json:"sheetId"`
		Title   string `json:"title"`
		Index   int    `json:"index"`
	}
	type sheet struct {
		Properties props `json:"properties"`
	}
	out := struct {
		Sheets []sheet `json:"sheets"`
	}{}
	for i, t := range tabs {
		out.Sheets = append(out.Sheets, sheet{Properties: props{SheetID: t.id, Title: t.title, Index: i}})
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "spreadsheet not found")
		return
	}
	writeJSON(w, out)
}

type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

func (s *Server) handleGetValues(w http.ResponseWriter, id, rng string) {
	a, err := parseRange(rng)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	t := s.findLocked(id, a.sheet)
	if t == nil {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Unable to parse range: "+rng)
		return
	}
	var values [][]any
	for i, row := range t.rows {
		rowNum := i + 1
		if rowNum < a.startRow || (a.endRow > 0 && rowNum > a.endRow) {
			continue
		}
		var cells []any
		for j, c := range row {
			col := j + 1
			if col < a.startCol || (a.endCol > 0 && col > a.endCol) {
				continue
			}
			cells = append(cells, c)
		}
		values = append(values, trimCells(cells))
	}
	s.mu.Unlock()

	// The real API drops trailing empty rows.
	for len(values) > 0 && len(values[len(values)-1]) == 0 {
		values = values[:len(values)-1]
	}
	writeJSON(w, valueRange{Range: rng, MajorDimension: "ROWS", Values: values})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request, id, rng string) {
	a, err := parseRange(rng)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	var body valueRange
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(id, a.sheet)
	if t == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Unable to parse range: "+rng)
		return
	}
	last := len(t.rows)
	for last > 0 && isEmptyRow(t.rows[last-1]) {
		last--
	}
	t.rows = t.rows[:last]
	for _, row := range body.Values {
		t.rows = append(t.rows, anyToStrings(row))
	}
	writeJSON(w, map[string]any{"spreadsheetId": id, "tableRange": rng})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id, rng string) {
	a, err := parseRange(rng)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	var body valueRange
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(id, a.sheet)
	if t == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Unable to parse range: "+rng)
		return
	}
	for i, row := range body.Values {
		rowIdx := a.startRow - 1 + i
		for len(t.rows) <= rowIdx {
			t.rows = append(t.rows, nil)
		}
		for j, v := range anyToStrings(row) {
			colIdx := a.startCol - 1 + j
			for len(t.rows[rowIdx]) <= colIdx {
				t.rows[rowIdx] = append(t.rows[rowIdx], "")
			}
			t.rows[rowIdx][colIdx] = v
		}
	}
	writeJSON(w, map[string]any{"spreadsheetId": id, "updatedRange": rng, "updatedRows": len(body.Values)})
}

type batchUpdate struct {
	Requests []struct {
		DeleteDimension *struct {
			Range struct {
				SheetID    int64  `json:"sheetId"`
				Dimension  string `json:"dimension"`
				StartIndex int    `json:"startIndex"`
				EndIndex   int    `json:"endIndex"`
			} `json:"range"`
		} `json:"deleteDimension"`
	} `json:"requests"`
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var body batchUpdate
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tabs, ok := s.sheets[id]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "spreadsheet not found")
		return
	}
	// Requests apply in order, like the real API.
	for _, req := range body.Requests {
		if req.DeleteDimension == nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "only deleteDimension is supported")
			return
		}
		dr := req.DeleteDimension.Range
		var t *tab
		for _, candidate := range tabs {
			if candidate.id == dr.SheetID {
				t = candidate
			}
		}
		if t == nil || dr.Dimension != "ROWS" {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("bad delete range %+v", dr))
			return
		}
		if dr.StartIndex < 0 || dr.EndIndex <= dr.StartIndex || dr.StartIndex >= len(t.rows) {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("row range %d-%d out of bounds", dr.StartIndex, dr.EndIndex))
			return
		}
		end := min(dr.EndIndex, len(t.rows))
		t.rows = append(t.rows[:dr.StartIndex], t.rows[end:]...)
	}
	writeJSON(w, map[string]any{"spreadsheetId": id, "replies": make([]struct{}, len(body.Requests))})
}

func (s *Server) findLocked(spreadsheetID, title string) *tab {
	for _, t := range s.sheets[spreadsheetID] {
		if t.title == title {
			return t
		}
	}
	return nil
}

type a1Range struct {
	sheet    string
	startCol int
	startRow int
	endCol   int // 0 = open
	endRow   int // 0 = open
}

var cellRe = regexp.MustCompile(`^([A-Za-z]*)([0-9]*)$`)

func parseRange(rng string) (a1Range, error) {
	sheet, cells, hasCells := strings.Cut(rng, "!")
	if strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") && len(sheet) >= 2 {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	out := a1Range{sheet: sheet, startCol: 1, startRow: 1}
	if !hasCells || cells == "" {
		return out, nil
	}
	start, end, hasEnd := strings.Cut(cells, ":")
	c, r, err := parseCell(start)
	if err != nil {
		return a1Range{}, err
	}
	if c > 0 {
		out.startCol = c
	}
	if r > 0 {
		out.startRow = r
	}
	if !hasEnd {
		// A single cell.
		out.endCol, out.endRow = out.startCol, out.startRow
		return out, nil
	}
	c, r, err = parseCell(end)
	if err != nil {
		return a1Range{}, err
	}
	out.endCol, out.endRow = c, r
	return out, nil
}

func parseCell(ref string) (col, row int, err error) {
	m := cellRe.FindStringSubmatch(ref)
	if m == nil {
		return 0, 0, fmt.Errorf("bad cell reference %q", ref)
	}
	for _, ch := range strings.ToUpper(m[1]) {
		col = col*26 + int(ch-'A'+1)
	}
	if m[2] != "" {
		row, _ = strconv.Atoi(m[2])
	}
	return col, row, nil
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, status, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg, "status": status},
	})
}

func trimCells(cells []any) []any {
	for len(cells) > 0 {
		if s, _ := cells[len(cells)-1].(string); s != "" {
			break
		}
		cells = cells[:len(cells)-1]
	}
	if cells == nil {
		return []any{}
	}
	return cells
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func anyToStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case nil:
		case string:
			out[i] = x
		default:
			out[i] = fmt.Sprint(x)
		}
	}
	return out
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// SortedTitles lists the tabs of a spreadsheet (diagnostics).
func (s *Server) SortedTitles(spreadsheetID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range s.sheets[spreadsheetID] {
		out = append(out, t.title)
	}
	sort.Strings(out)
	return out
}
