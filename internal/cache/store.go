package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Category selects the freshness TTL of an entry
type Category string

const (
	CategoryCurrent    Category = "current"
	CategoryForecast   Category = "forecast"
	CategoryAirQuality Category = "air_quality"
	CategoryGeocoding  Category = "geocoding"
	CategoryTask       Category = "task"
	CategoryActivity   Category = "activity"
)

// DefaultTTLs returns the freshness window of each category
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryCurrent:    10 * time.Minute,
		CategoryForecast:   time.Hour,
		CategoryAirQuality: 30 * time.Minute,
		CategoryGeocoding:  7 * 24 * time.Hour,
		CategoryTask:       5 * time.Minute,
		CategoryActivity:   30 * time.Minute,
	}
}

const (
	// DefaultStaleCeiling is how long past storage an entry remains usable as a fallback
	DefaultStaleCeiling = 2 * time.Hour

	// fallbackTTL applies to categories without a configured TTL
	fallbackTTL = 5 * time.Minute
)

// Entry is a cached value and the bookkeeping needed to age it
type Entry[V any] struct {
	Key          string        `json:"key"`
	Category     Category      `json:"category"`
	Value        V             `json:"value"`
	StoredAt     time.Time     `json:"stored_at"`
	TTL          time.Duration `json:"ttl"`
	StaleCeiling time.Duration `json:"stale_ceiling"`
}

// Age returns how long ago the entry was stored
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// IsFresh reports whether the entry is within its TTL
func (e Entry[V]) IsFresh(now time.Time) bool {
	return e.Age(now) < e.TTL
}

// IsUsable reports whether the entry is within its stale ceiling
func (e Entry[V]) IsUsable(now time.Time) bool {
	return e.Age(now) < e.StaleCeiling
}

// Persister loads and saves the full set of entries of a Store
type Persister[V any] interface {
	Load(ctx context.Context) (map[string]Entry[V], error)
	Save(ctx context.Context, entries map[string]Entry[V]) error
}

// Options configures a Store
type Options struct {
	// TTLs overrides the freshness window per category. Missing categories use DefaultTTLs.
	TTLs map[Category]time.Duration

	// StaleCeiling defaults to DefaultStaleCeiling
	StaleCeiling time.Duration

	// Now defaults to time.Now
	Now func() time.Time

	Logger *slog.Logger
}

// Stats summarizes a Store
type Stats struct {
	Total   int    `json:"total"`
	Fresh   int    `json:"fresh"`
	Stale   int    `json:"stale"`
	Expired int    `json:"expired"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Store is a TTL keyed store safe for concurrent use. Its size is unbounded;
// Purge drops entries past their stale ceiling.
type Store[V any] struct {
	entries      map[string]Entry[V]
	ttls         map[Category]time.Duration
	staleCeiling time.Duration
	now          func() time.Time
	persister    Persister[V]
	logger       *slog.Logger
	hits         uint64
	misses       uint64
	mu           sync.RWMutex
	saveMu       sync.Mutex
}

// New creates a Store. persister may be nil for an in-memory store.
func New[V any](opts Options, persister Persister[V]) *Store[V] {
	ttls := DefaultTTLs()
	for category, ttl := range opts.TTLs {
		if ttl > 0 {
			ttls[category] = ttl
		}
	}
	ceiling := opts.StaleCeiling
	if ceiling <= 0 {
		ceiling = DefaultStaleCeiling
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store[V]{
		entries:      make(map[string]Entry[V]),
		ttls:         ttls,
		staleCeiling: ceiling,
		now:          now,
		persister:    persister,
		logger:       logger.With("component", "cache"),
	}
}

// TTL returns the freshness window of category
func (s *Store[V]) TTL(category Category) time.Duration {
	if ttl, ok := s.ttls[category]; ok {
		return ttl
	}
	return fallbackTTL
}

// ceilingFor keeps the stale window strictly longer than the TTL
func (s *Store[V]) ceilingFor(ttl time.Duration) time.Duration {
	if ttl >= s.staleCeiling {
		return 2 * ttl
	}
	return s.staleCeiling
}

// Set stores value under key, replacing any previous entry. With a persister
// the whole store is rewritten; a save failure is returned but the in-memory
// entry is kept.
func (s *Store[V]) Set(ctx context.Context, key string, category Category, value V) error {
	ttl := s.TTL(category)

	s.mu.Lock()
	s.entries[key] = Entry[V]{
		Key:          key,
		Category:     category,
		Value:        value,
		StoredAt:     s.now(),
		TTL:          ttl,
		StaleCeiling: s.ceilingFor(ttl),
	}
	persister := s.persister
	s.mu.Unlock()

	if persister == nil {
		return nil
	}
	return s.Flush(ctx)
}

// Fresh returns the value under key if it is within its TTL
func (s *Store[V]) Fresh(key string) (V, bool) {
	var zero V
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.IsFresh(now) {
		s.misses++
		return zero, false
	}
	s.hits++
	return entry.Value, true
}

// Stale returns the value under key and its age if it is within its stale
// ceiling, whether or not it is still fresh.
func (s *Store[V]) Stale(key string) (V, time.Duration, bool) {
	var zero V
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || !entry.IsUsable(now) {
		return zero, 0, false
	}
	return entry.Value, entry.Age(now), true
}

// Entry returns the raw entry under key regardless of its age
func (s *Store[V]) Entry(key string) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Delete removes key
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear removes every entry and resets the hit counters
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry[V])
	s.hits = 0
	s.misses = 0
}

// Purge drops entries past their stale ceiling and returns how many were removed
func (s *Store[V]) Purge() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !entry.IsUsable(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("purged expired cache entries", "removed", removed)
	}
	return removed
}

// Stats counts entries by age
func (s *Store[V]) Stats() Stats {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Total: len(s.entries), Hits: s.hits, Misses: s.misses}
	for _, entry := range s.entries {
		switch {
		case entry.IsFresh(now):
			stats.Fresh++
		case entry.IsUsable(now):
			stats.Stale++
		default:
			stats.Expired++
		}
	}
	return stats
}

// Snapshot returns a copy of every entry
func (s *Store[V]) Snapshot() map[string]Entry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]Entry[V], len(s.entries))
	for key, entry := range s.entries {
		entries[key] = entry
	}
	return entries
}

// Load replaces the in-memory entries with the persisted ones. A failing
// persister leaves the store empty and is logged, never returned, so a bad
// cache document cannot block startup.
func (s *Store[V]) Load(ctx context.Context) {
	s.mu.RLock()
	persister := s.persister
	s.mu.RUnlock()
	if persister == nil {
		return
	}

	entries, err := persister.Load(ctx)
	if err != nil {
		s.logger.Warn("could not load persisted cache, starting empty", "error", err)
		entries = nil
	}
	if entries == nil {
		entries = make(map[string]Entry[V])
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info("cache loaded", "entries", len(entries))
}

// Attach sets the persister of a store that was created without one and
// merges the persisted entries into memory, keeping the newer of two entries
// under the same key. Persisted entry failures are logged like in Load.
func (s *Store[V]) Attach(ctx context.Context, persister Persister[V]) error {
	persisted, err := persister.Load(ctx)
	if err != nil {
		s.logger.Warn("could not load persisted cache, keeping memory only", "error", err)
		persisted = nil
	}

	s.mu.Lock()
	s.persister = persister
	for key, entry := range persisted {
		if current, ok := s.entries[key]; ok && current.StoredAt.After(entry.StoredAt) {
			continue
		}
		s.entries[key] = entry
	}
	total := len(s.entries)
	s.mu.Unlock()

	s.logger.Info("cache persister attached", "persisted_entries", len(persisted), "entries", total)
	return s.Flush(ctx)
}

// Flush writes every entry through the persister
func (s *Store[V]) Flush(ctx context.Context) error {
	s.mu.RLock()
	persister := s.persister
	s.mu.RUnlock()
	if persister == nil {
		return nil
	}

	// Serialize saves so an older snapshot never overwrites a newer one
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := persister.Save(ctx, s.Snapshot()); err != nil {
		s.logger.Error("failed to persist cache", "error", err)
		return fmt.Errorf("failed to persist cache: %w", err)
	}
	return nil
}
