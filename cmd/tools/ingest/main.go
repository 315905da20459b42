package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cityguide/listings-ingest/internal/app"
	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/cityguide/listings-ingest/internal/ingest"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
)

func main() {
	jobID := flag.String("job", "", "Run only this job ID (default: every eligible job)")
	origin := flag.String("origin", "scheduled", "Trigger origin: scheduled or interactive")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	trigger := ingest.ParseTriggerOrigin(*origin)
	var runs []ingest.RunSummary
	if *jobID != "" {
		sum, err := a.Pipeline.RunJob(ctx, *jobID, trigger)
		if err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		runs = append(runs, sum)
	} else {
		inv, err := a.Pipeline.RunEligible(ctx, trigger)
		if err != nil {
			log.Fatalf("Ingestion failed: %v", err)
		}
		runs = inv.Jobs
	}

	render(runs)
}

func render(runs []ingest.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Job", "Strategy", "Found", "Invalid", "New", "Dupes", "Inserted", "Errors", "Note"})

	var found, inserted, errs int
	for _, r := range runs {
		note := r.Err
		if r.Skipped {
			note = "skipped: " + r.SkipReason
		}
		t.AppendRow(table.Row{r.JobID, r.Strategy, r.Found, r.Invalid, r.New, r.Duplicates, r.Inserted, r.Errors, note})
		found += r.Found
		inserted += r.Inserted
		errs += r.Errors
	}
	t.AppendFooter(table.Row{"Total", "", found, "", "", "", inserted, errs, fmt.Sprintf("%d jobs", len(runs))})
	t.Render()
}
