// Package redis provides a Redis backed cache.Persister. Each cache
// namespace is one hash whose fields are cache keys and whose values are the
// JSON encoded entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/weatherdash/internal/cache"
)

const keyPrefix = "weatherdash:cache:"

// ErrNilClient is returned when the persister has no client
var ErrNilClient = errors.New("redis client is nil")

// CacheStore persists one cache namespace in a Redis hash
type CacheStore[V any] struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

var _ cache.Persister[json.RawMessage] = (*CacheStore[json.RawMessage])(nil)

// NewCacheStore creates a persister for namespace
func NewCacheStore[V any](client redis.UniversalClient, namespace string, logger *slog.Logger) *CacheStore[V] {
	return &CacheStore[V]{
		client: client,
		key:    keyPrefix + namespace,
		logger: logger.With("component", "redis_cache", "namespace", namespace),
	}
}

// NewClient connects to addr and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Load reads every entry of the namespace. Fields that fail to decode are
// skipped and logged.
func (s *CacheStore[V]) Load(ctx context.Context) (map[string]cache.Entry[V], error) {
	if s.client == nil {
		return nil, ErrNilClient
	}

	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	entries := make(map[string]cache.Entry[V], len(fields))
	for key, raw := range fields {
		var entry cache.Entry[V]
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("skipping undecodable cache entry", "key", key, "error", err)
			continue
		}
		entries[key] = entry
	}
	return entries, nil
}

// Save replaces the namespace with entries in one MULTI/EXEC transaction
func (s *CacheStore[V]) Save(ctx context.Context, entries map[string]cache.Entry[V]) error {
	if s.client == nil {
		return ErrNilClient
	}

	values := make(map[string]interface{}, len(entries))
	for key, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
		}
		values[key] = raw
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
