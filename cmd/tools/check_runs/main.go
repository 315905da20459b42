package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/cityguide/listings-ingest/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
)

func main() {
	jobID := flag.String("job", "", "Only show runs of this job")
	limit := flag.Int("limit", 10, "Number of runs to show")
	counts := flag.Bool("counts", false, "Also show stored listings per category")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	runs, err := store.RecentRuns(ctx, *jobID, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Job", "Trigger", "Status", "Found", "New", "Dupes", "Inserted", "Errors", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.JobID, r.Trigger, r.Status, r.Found, r.New, r.Duplicates, r.Inserted, r.Errors, duration, r.StartedAt.Local().Format("2006-01-02 15:04:05")})
	}
	t.Render()

	if !*counts {
		return
	}
	perCategory, err := store.CountListings(ctx)
	if err != nil {
		log.Fatal(err)
	}
	c := table.NewWriter()
	c.SetOutputMirror(os.Stdout)
	c.AppendHeader(table.Row{"Category", "Listings"})
	for cat, n := range perCategory {
		c.AppendRow(table.Row{cat, n})
	}
	c.SortBy([]table.SortBy{{Number: 1}})
	c.Render()
}
