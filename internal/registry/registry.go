// Package registry is the local mirror of confirmed unique result rows, keyed by
// fingerprint. It short-circuits duplicate checks before any remote read.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/fingerprint"
	"github.com/shpitdev/leadsync/internal/statefile"
)

// Entry describes the lead that first claimed a fingerprint.
type Entry struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Added string `json:"added"`
}

type document struct {
	Keys        map[string]Entry `json:"keys"`
	LastUpdated string           `json:"lastUpdated"`
}

// Registry is a persisted set of fingerprints.
type Registry struct {
	path   string
	clock  clock.Clock
	logger *zap.Logger

	mu  sync.Mutex
	doc document
}

// Open loads the registry at path. An empty path keeps the registry in memory only.
// An unreadable file is logged and the registry starts empty; the remote store stays
// the source of truth.
func Open(path string, clk clock.Clock, logger *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, clock: clk, logger: logger}
	if path != "" {
		if _, err := statefile.Load(path, &r.doc); err != nil {
			logger.Warn("duplicate registry unreadable, starting empty", zap.String("path", path), zap.Error(err))
			r.doc = document{}
		}
	}
	if r.doc.Keys == nil {
		r.doc.Keys = make(map[string]Entry)
	}
	return r
}

// Contains reports whether key has been recorded.
func (r *Registry) Contains(key fingerprint.Key) bool {
	if key.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.doc.Keys[key.String()]
	return ok
}

// Lookup returns the entry recorded for key.
func (r *Registry) Lookup(key fingerprint.Key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.doc.Keys[key.String()]
	return e, ok
}

// Add records key and persists the registry. Re-adding an existing key keeps the
// original entry.
func (r *Registry) Add(key fingerprint.Key, name, phone string) error {
	if key.IsZero() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().Format(time.RFC3339)
	if _, ok := r.doc.Keys[key.String()]; !ok {
		r.doc.Keys[key.String()] = Entry{Name: name, Phone: phone, Added: now}
	}
	r.doc.LastUpdated = now
	if r.path == "" {
		return nil
	}
	if err := statefile.Save(r.path, r.doc); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}

// Len returns the number of recorded fingerprints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.doc.Keys)
}

// LastUpdated returns the timestamp of the last Add, or "" if never written.
func (r *Registry) LastUpdated() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.LastUpdated
}
