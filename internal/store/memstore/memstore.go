// Package memstore is an in-memory Store used by tests and dry runs. Row numbers
// follow the sheet convention: row 1 is the header, data starts at row 2.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shpitdev/leadsync/internal/store"
)

// Store is safe for concurrent use. Hooks run with the lock released.
type Store struct {
	mu      sync.Mutex
	leads   []store.WorkItem
	results []store.ResultRecord
	calls   map[string]int
	fail    map[string][]error

	// AfterAppend runs after every successful AppendResult. Tests use it to
	// simulate an out-of-band writer racing the engine.
	AfterAppend func(s *Store, rec store.ResultRecord)
	// DropAppends makes AppendResult report success without storing the row.
	DropAppends bool
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Importer = (*Store)(nil)
)

func New() *Store {
	return &Store{
		calls: make(map[string]int),
		fail:  make(map[string][]error),
	}
}

// AddLead appends an inbound row and returns its row number.
func (s *Store) AddLead(item store.WorkItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Row = len(s.leads) + 2
	s.leads = append(s.leads, item)
	return item.Row
}

// AddResult appends an outbound row directly, bypassing hooks.
func (s *Store) AddResult(rec store.ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, rec)
}

// Lead returns the inbound row with the given number.
func (s *Store) Lead(row int) (store.WorkItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := row - 2
	if i < 0 || i >= len(s.leads) {
		return store.WorkItem{}, false
	}
	return s.leads[i], true
}

// Results returns a snapshot of the outbound rows with current row numbers.
func (s *Store) Results() []store.ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsLocked()
}

// Calls returns how many times the named method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// FailNext queues errors returned by the next invocations of method, in order.
func (s *Store) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = append(s.fail[method], errs...)
}

func (s *Store) enter(method string) error {
	s.calls[method]++
	q := s.fail[method]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	s.fail[method] = q[1:]
	return err
}

func (s *Store) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter("Prepare")
}

func (s *Store) ReadLeads(ctx context.Context) ([]store.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReadLeads"); err != nil {
		return nil, err
	}
	out := make([]store.WorkItem, len(s.leads))
	copy(out, s.leads)
	return out, nil
}

func (s *Store) SetLeadStatus(ctx context.Context, row int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetLeadStatus"); err != nil {
		return err
	}
	i := row - 2
	if i < 0 || i >= len(s.leads) {
		return fmt.Errorf("memstore: lead row %d out of range", row)
	}
	s.leads[i].Status = status
	return nil
}

func (s *Store) ReadResults(ctx context.Context) ([]store.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReadResults"); err != nil {
		return nil, err
	}
	return s.resultsLocked(), nil
}

func (s *Store) AppendResult(ctx context.Context, rec store.ResultRecord) error {
	s.mu.Lock()
	if err := s.enter("AppendResult"); err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Row = 0
	if !s.DropAppends {
		s.results = append(s.results, rec)
	}
	hook := s.AfterAppend
	s.mu.Unlock()

	if hook != nil {
		hook(s, rec)
	}
	return nil
}

func (s *Store) DeleteResultRows(ctx context.Context, rows []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteResultRows"); err != nil {
		return err
	}
	drop := make(map[int]bool, len(rows))
	for _, r := range rows {
		i := r - 2
		if i < 0 || i >= len(s.results) {
			return fmt.Errorf("memstore: result row %d out of range", r)
		}
		drop[i] = true
	}
	idx := make([]int, 0, len(drop))
	for i := range drop {
		idx = append(idx, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	for _, i := range idx {
		s.results = append(s.results[:i], s.results[i+1:]...)
	}
	return nil
}

func (s *Store) resultsLocked() []store.ResultRecord {
	out := make([]store.ResultRecord, len(s.results))
	for i, r := range s.results {
		r.Row = i + 2
		out[i] = r
	}
	return out
}

func (s *Store) ImportLeads(ctx context.Context, items []store.WorkItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ImportLeads"); err != nil {
		return 0, err
	}
	for _, it := range items {
		it.Row = len(s.leads) + 2
		s.leads = append(s.leads, it)
	}
	return len(items), nil
}
