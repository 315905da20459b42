package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cityguide/listings-ingest/internal/api"
	"github.com/cityguide/listings-ingest/internal/app"
	"github.com/cityguide/listings-ingest/internal/auth"
	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	adminAuth, err := auth.NewAdminAuth(cfg.Admin)
	if err != nil {
		log.Fatalf("Admin auth configuration error: %v", err)
	}

	srv := api.NewServer(a.Pipeline, a.Store, a.Store, adminAuth)
	go func() {
		log.Printf("Server starting on port %s...", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
}
