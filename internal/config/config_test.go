package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEFAULT_TIMEZONE", "")
	t.Setenv("BATCH_SIZE", "")
	cfg := Load()

	if cfg.Pipeline.DefaultTimezone != "America/Chicago" {
		t.Errorf("expected America/Chicago, got %s", cfg.Pipeline.DefaultTimezone)
	}
	if cfg.Pipeline.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Scheduler.InteractiveCooldown != 5*time.Minute {
		t.Errorf("unexpected interactive cooldown %s", cfg.Scheduler.InteractiveCooldown)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("COOLDOWN_PRODUCTIVE", "2h")
	t.Setenv("FEATURED_RATE", "0")
	t.Setenv("LOOKBACK_DAYS", "not-a-number")
	t.Setenv("AI_CLASSIFY", "true")
	t.Setenv("FETCH_PROBE_APIS", "maybe")
	cfg := Load()

	if !cfg.AI.Classify {
		t.Error("expected AI_CLASSIFY to enable classification")
	}
	if !cfg.Fetch.ProbeAPIs {
		t.Error("unparseable bool must fall back to the default")
	}

	if cfg.Pipeline.BatchSize != 10 {
		t.Errorf("expected 10, got %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Scheduler.ProductiveCooldown != 2*time.Hour {
		t.Errorf("expected 2h, got %s", cfg.Scheduler.ProductiveCooldown)
	}
	if cfg.Pipeline.FeaturedRate != 0 {
		t.Errorf("expected featured rate 0, got %v", cfg.Pipeline.FeaturedRate)
	}
	if cfg.Pipeline.LookbackDays != 60 {
		t.Errorf("expected fallback 60, got %d", cfg.Pipeline.LookbackDays)
	}
}
