package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/deep-research/pkg/config"
)

// Open builds the configured backend. pool is required for the postgres
// backend and ignored otherwise.
func Open(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (Store, error) {
	switch cfg.TaskBackend {
	case config.BackendFile, "":
		return NewFileStore(cfg.TaskDir)
	case config.BackendPostgres:
		if pool == nil {
			return nil, errors.New("postgres task backend requires DATABASE_URL")
		}
		return NewPostgresStore(pool), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown task backend: %s", cfg.TaskBackend)
	}
}
