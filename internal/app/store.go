package app

import (
	"context"
	"fmt"

	"github.com/doctordirect/consult-relay/internal/config"
	"github.com/doctordirect/consult-relay/internal/store"
	"github.com/doctordirect/consult-relay/internal/store/postgres"
	"github.com/doctordirect/consult-relay/internal/store/redis"
	"github.com/doctordirect/consult-relay/internal/store/sqlite"
)

// OpenStore opens the persistence driver selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, nil
	case "redis":
		st, err := redis.New(ctx, cfg.RedisURL, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
