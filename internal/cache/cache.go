// Package cache is a persisted time-to-live cache for expensive store reads.
//
// The on-disk layout is {key: {"data": <any>, "timestamp": <unix seconds>}} so
// entries survive a restart as long as they are still within the TTL.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/clock"
	"github.com/shpitdev/leadsync/internal/statefile"
)

// DefaultTTL is how long a cached read stays valid.
const DefaultTTL = 300 * time.Second

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// Cache maps string keys to JSON-encoded values with a fixed TTL.
type Cache struct {
	path   string
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// Options configures a Cache. Path may be empty for an in-memory cache.
type Options struct {
	Path   string
	TTL    time.Duration
	Clock  clock.Clock
	Logger *zap.Logger
}

// New loads the cache file at opts.Path. A corrupt file is logged and replaced
// with an empty cache on the next write.
func New(opts Options) *Cache {
	c := &Cache{
		path:    opts.Path,
		ttl:     opts.TTL,
		clock:   opts.Clock,
		logger:  opts.Logger,
		entries: make(map[string]entry),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.path != "" {
		if _, err := statefile.Load(c.path, &c.entries); err != nil {
			c.logger.Warn("cache file unreadable, starting empty", zap.String("path", c.path), zap.Error(err))
			c.entries = make(map[string]entry)
		}
		if c.entries == nil {
			c.entries = make(map[string]entry)
		}
	}
	return c
}

// Get returns the raw JSON stored under key if it is younger than the TTL.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	age := c.now() - e.Timestamp
	if age < 0 || age >= c.ttl.Seconds() {
		return nil, false
	}
	return e.Data, true
}

// Set stores value under key with the current timestamp and persists the cache.
func (c *Cache) Set(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{Data: b, Timestamp: c.now()}
	return c.persistLocked()
}

// InvalidateAll drops every entry. Any store write makes every cached read suspect.
func (c *Cache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	c.entries = make(map[string]entry)
	return c.persistLocked()
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) now() float64 {
	return float64(c.clock.Now().UnixNano()) / float64(time.Second)
}

func (c *Cache) persistLocked() error {
	if c.path == "" {
		return nil
	}
	if err := statefile.Save(c.path, c.entries); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}
