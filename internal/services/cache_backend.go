package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/weatherdash/internal/activity"
	"github.com/phrazzld/weatherdash/internal/cache"
	"github.com/phrazzld/weatherdash/internal/config"
	"github.com/phrazzld/weatherdash/internal/platform/postgres"
	"github.com/phrazzld/weatherdash/internal/platform/redis"
	"github.com/phrazzld/weatherdash/internal/resilience"
)

// Cache namespaces used by the postgres and redis backends
const (
	payloadNamespace    = "weather"
	suggestionNamespace = "activity"
)

// cacheBackend holds the persisters of one configured backend and the
// connections they need
type cacheBackend struct {
	payloads    cache.Persister[json.RawMessage]
	suggestions cache.Persister[activity.Suggestions]
	db          *sql.DB
	redis       *goredis.Client
}

// Close releases the backend connections
func (b *cacheBackend) Close() error {
	var err error
	if b.db != nil {
		err = b.db.Close()
	}
	if b.redis != nil {
		if rErr := b.redis.Close(); rErr != nil && err == nil {
			err = rErr
		}
	}
	return err
}

// openCacheBackend connects the persisters for cfg.Cache.Backend. The memory
// backend has no persisters.
func openCacheBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cacheBackend, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return &cacheBackend{}, nil

	case "file":
		return &cacheBackend{
			payloads: cache.NewFilePersister[json.RawMessage](cfg.Cache.File),
		}, nil

	case "postgres":
		if cfg.Database.URL == "" {
			return nil, resilience.ConfigurationError("cache.backend", errors.New("postgres backend requires database.url"))
		}
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, resilience.NetworkError("cache.postgres", err)
		}
		if err := postgres.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &cacheBackend{
			payloads:    postgres.NewCacheStore[json.RawMessage](db, payloadNamespace, logger),
			suggestions: postgres.NewCacheStore[activity.Suggestions](db, suggestionNamespace, logger),
			db:          db,
		}, nil

	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, resilience.ConfigurationError("cache.backend", errors.New("redis backend requires redis.addr"))
		}
		client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, resilience.NetworkError("cache.redis", err)
		}
		return &cacheBackend{
			payloads:    redis.NewCacheStore[json.RawMessage](client, payloadNamespace, logger),
			suggestions: redis.NewCacheStore[activity.Suggestions](client, suggestionNamespace, logger),
			redis:       client,
		}, nil

	default:
		return nil, resilience.ConfigurationError("cache.backend", fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend))
	}
}
