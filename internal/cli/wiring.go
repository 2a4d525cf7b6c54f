package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quiz-progress-service/internal/app"
	"quiz-progress-service/internal/config"
	"quiz-progress-service/internal/infra/memory"
	pgstore "quiz-progress-service/internal/infra/postgres"
	redisstore "quiz-progress-service/internal/infra/redis"
	"quiz-progress-service/internal/platform/logger"
	"quiz-progress-service/internal/rollup"
)

// runtime bundles the service with the resources that must be released on exit.
type runtime struct {
	service *app.ProgressService
	loc     *time.Location
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime picks the backing stores: Postgres when configured (fronted by an
// in-process cache), otherwise Redis, otherwise memory.
func buildRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (*runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("progress timezone: %w", err)
	}
	rt := &runtime{loc: loc}

	var (
		states   app.StateRepository
		archives app.ArchiveRepository
	)
	switch {
	case cfg.Postgres.URL != "":
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		cacheTTL := config.TTLDuration(cfg.Progress.CacheTTL, 30*time.Second)
		states = memory.NewStateCache(pgstore.NewStateStore(pool), cacheTTL)
		archives = pgstore.NewArchiveStore(pool)
		log.Info("using postgres progress store", "cache_ttl", cacheTTL)
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		archiveTTL := config.TTLDuration(cfg.Redis.ArchiveTTL, 0)
		states = redisstore.NewStateStore(client)
		archives = redisstore.NewArchiveStore(client, archiveTTL)
		log.Info("using redis progress store", "addr", cfg.Redis.Addr)
	default:
		states = memory.NewStateStore()
		archives = memory.NewArchiveStore()
		log.Warn("no store configured, progress is kept in memory only")
	}

	engine := rollup.NewEngine(
		rollup.WithLocation(loc),
		rollup.WithMaxClockSkew(config.TTLDuration(cfg.Progress.MaxClockSkew, rollup.DefaultMaxClockSkew)),
	)
	opts := []app.ServiceOption{
		app.WithLogger(log),
		app.WithRolloverConcurrency(cfg.Progress.RolloverConcurrency),
	}
	if cfg.Progress.MaxRetries > 0 {
		opts = append(opts, app.WithMaxRetries(cfg.Progress.MaxRetries))
	}
	rt.service = app.NewProgressService(states, archives, engine, opts...)
	return rt, nil
}
