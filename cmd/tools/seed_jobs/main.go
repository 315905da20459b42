package main

import (
	"context"
	"flag"
	"log"

	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/cityguide/listings-ingest/internal/db"
	"github.com/cityguide/listings-ingest/internal/ingest"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	file := flag.String("file", cfg.Pipeline.JobsFile, "YAML job catalog (default: embedded sources.yaml)")
	flag.Parse()

	jobs, err := ingest.LoadJobs(*file)
	if err != nil {
		log.Fatalf("Failed to load jobs: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	for _, j := range jobs {
		if err := store.UpsertJob(ctx, j); err != nil {
			log.Fatalf("Failed to upsert job %s: %v", j.ID, err)
		}
		log.Printf("[Seed] %s (%s, active=%t)", j.ID, j.Category, j.IsActive)
	}
	log.Printf("[Seed] %d jobs upserted", len(jobs))
}
