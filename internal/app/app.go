// Package app wires configuration into a ready pipeline for the server and tools.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cityguide/listings-ingest/internal/ai"
	"github.com/cityguide/listings-ingest/internal/cache"
	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/cityguide/listings-ingest/internal/db"
	"github.com/cityguide/listings-ingest/internal/ingest"
	"github.com/jackc/pgx/v5/pgxpool"
)

type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Store    *db.Store
	Pipeline *ingest.Pipeline

	redis *cache.Redis
}

// Open connects to Postgres, applies migrations and builds the pipeline.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	a := &App{Config: cfg, Pool: pool, Store: db.NewStore(pool)}

	var shared cache.Store
	if cfg.Redis.Addr != "" {
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.redis = r
		shared = r
		log.Printf("[App] using redis at %s for claims and fingerprints", cfg.Redis.Addr)
	}

	a.Pipeline = NewPipeline(cfg, a.Store, shared)
	return a, nil
}

// NewPipeline builds the pipeline around store. shared, when non-nil, holds
// scheduler claims and seen fingerprints across processes.
func NewPipeline(cfg *config.Config, store interface {
	ingest.JobStore
	ingest.RecordStore
}, shared cache.Store) *ingest.Pipeline {
	completer := ai.NewOllamaClient(cfg.AI.Host, cfg.AI.Model, cfg.AI.Timeout)

	registry := ingest.NewRegistry(&ingest.GenericStrategy{}, ingest.NewAIStrategy(completer, cfg.Pipeline.DefaultCity))
	registry.Register(ingest.IowaCubs())
	registry.Register(ingest.IowaWild())
	registry.Register(ingest.CatchDesMoines())
	registry.Register(ingest.NewOpeningsArticleStrategy())
	registry.Register(&ingest.WordPressEventsStrategy{})

	sf := ingest.NewSourceFetcher(NewFetcher(cfg.Fetch))
	sf.ProbeAPIs = cfg.Fetch.ProbeAPIs

	transformer := ingest.NewTransformer(cfg.Pipeline.DefaultCity, cfg.Pipeline.DefaultState,
		ingest.NewRandomPromotion(cfg.Pipeline.FeaturedRate, time.Now().UnixNano()))
	if cfg.AI.Classify {
		transformer.Classifier = completer
	}

	policy := ingest.DefaultSchedulerPolicy()
	policy.Interactive = cfg.Scheduler.InteractiveCooldown
	policy.Minimum = cfg.Scheduler.MinimumCooldown
	policy.Productive = cfg.Scheduler.ProductiveCooldown

	p := ingest.NewPipeline(store, store, sf, registry,
		ingest.NewDateTimeNormalizer(cfg.Pipeline.DefaultTimezone),
		ingest.NewJobScheduler(policy, shared), transformer)
	if cfg.Pipeline.BatchSize > 0 {
		p.BatchSize = cfg.Pipeline.BatchSize
	}
	if cfg.Pipeline.LookbackDays > 0 {
		p.Lookback = time.Duration(cfg.Pipeline.LookbackDays) * 24 * time.Hour
	}
	p.SeenStore = shared
	return p
}

// NewFetcher returns the colly fetcher when kind is "colly", otherwise the
// rate limited HTTP fetcher.
func NewFetcher(cfg config.FetchConfig) ingest.Fetcher {
	if cfg.Kind == "colly" {
		f := ingest.NewCollyFetcher()
		if cfg.MaxRetries > 0 {
			f.MaxRetries = cfg.MaxRetries
		}
		if cfg.Timeout > 0 {
			f.RequestTimeout = cfg.Timeout
		}
		if cfg.RateLimitRPS > 0 {
			f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
		}
		f.IgnoreRobotsTxt = cfg.IgnoreRobots
		return f
	}
	return ingest.NewRateLimitedFetcher(ingest.FetchConfig{
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RateLimitRPS:   cfg.RateLimitRPS,
		AcceptLanguage: cfg.AcceptLanguage,
	})
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("[App] redis close: %v", err)
		}
	}
	a.Pool.Close()
}
