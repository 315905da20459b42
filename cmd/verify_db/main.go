package main

import (
	"context"
	"log"
	"os"

	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/cityguide/listings-ingest/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	coverage, err := store.Coverage(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Category", "Total", "With Description", "With Image", "Featured", "From Jobs"})
	for _, c := range coverage {
		t.AppendRow(table.Row{c.Category, c.Total, c.WithDescription, c.WithImage, c.Featured, c.FromJobs})
	}
	t.Render()
}
