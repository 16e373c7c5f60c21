package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/weatherdash/internal/cache"
)

// CacheStore persists the entries of one cache.Store namespace in the
// cache_entries table. Values are stored as JSONB.
type CacheStore[V any] struct {
	db        *sql.DB
	namespace string
	logger    *slog.Logger
}

var _ cache.Persister[json.RawMessage] = (*CacheStore[json.RawMessage])(nil)

// NewCacheStore creates a persister for namespace
func NewCacheStore[V any](db *sql.DB, namespace string, logger *slog.Logger) *CacheStore[V] {
	return &CacheStore[V]{
		db:        db,
		namespace: namespace,
		logger:    logger.With("component", "postgres_cache", "namespace", namespace),
	}
}

// Load reads every entry of the namespace
func (s *CacheStore[V]) Load(ctx context.Context) (map[string]cache.Entry[V], error) {
	return loadEntries[V](ctx, s.db, s.namespace)
}

func loadEntries[V any](ctx context.Context, db DBTX, namespace string) (map[string]cache.Entry[V], error) {
	query := `
		SELECT key, category, value, stored_at, ttl_ms, stale_ceiling_ms
		FROM cache_entries
		WHERE namespace = $1
	`

	rows, err := db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]cache.Entry[V])
	for rows.Next() {
		var (
			entry         cache.Entry[V]
			category      string
			raw           []byte
			ttlMs, ceilMs int64
		)
		if err := rows.Scan(&entry.Key, &category, &raw, &entry.StoredAt, &ttlMs, &ceilMs); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Value); err != nil {
			return nil, fmt.Errorf("failed to decode cache entry %s: %w", entry.Key, err)
		}
		entry.Category = cache.Category(category)
		entry.TTL = time.Duration(ttlMs) * time.Millisecond
		entry.StaleCeiling = time.Duration(ceilMs) * time.Millisecond
		entries[entry.Key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
	}
	return entries, nil
}

// Save replaces the namespace with entries in a single transaction
func (s *CacheStore[V]) Save(ctx context.Context, entries map[string]cache.Entry[V]) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("failed to roll back cache save", "error", rbErr)
			}
		}
	}()

	if err = saveEntries(ctx, tx, s.namespace, entries); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache save: %w", err)
	}

	s.logger.Debug("cache persisted", "entries", len(entries))
	return nil
}

func saveEntries[V any](ctx context.Context, db DBTX, namespace string, entries map[string]cache.Entry[V]) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", MapError(err))
	}

	query := `
		INSERT INTO cache_entries (namespace, key, category, value, stored_at, ttl_ms, stale_ceiling_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for key, entry := range entries {
		raw, err := json.Marshal(entry.Value)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
		}
		_, err = db.ExecContext(ctx, query,
			namespace,
			key,
			string(entry.Category),
			raw,
			entry.StoredAt.UTC(),
			entry.TTL.Milliseconds(),
			entry.StaleCeiling.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert cache entry %s: %w", key, MapError(err))
		}
	}
	return nil
}
