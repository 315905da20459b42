package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/auth"
	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	jobID := flag.String("job", "", "Trigger one job (default: every eligible job)")
	origin := flag.String("origin", "interactive", "X-Trigger-Origin for a full invocation")
	async := flag.Bool("async", false, "Start the invocation in the background")
	hash := flag.String("hash", "", "Print the bcrypt hash of this secret for ADMIN_SECRET_HASH and exit")
	flag.Parse()

	if *hash != "" {
		h, err := auth.HashSecret(*hash)
		if err != nil {
			exitErr(err)
		}
		fmt.Println(h)
		return
	}

	_ = godotenv.Load()
	cfg := config.Load()

	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/ingest/run"
	if *jobID != "" {
		endpoint = strings.TrimRight(*baseURL, "/") + "/api/v1/ingest/jobs/" + *jobID
	} else if *async {
		endpoint += "?async=true"
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, nil)
	if err != nil {
		exitErr(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("X-Trigger-Origin", *origin)

	switch {
	case cfg.Admin.JWTSecret != "":
		a, err := auth.NewAdminAuth(cfg.Admin)
		if err != nil {
			exitErr(err)
		}
		token, err := a.IssueToken("trigger-cli", 5*time.Minute)
		if err != nil {
			exitErr(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case cfg.Admin.Secret != "":
		req.Header.Set("X-Admin-Secret", cfg.Admin.Secret)
	default:
		exitErr(fmt.Errorf("missing JWT_SECRET or ADMIN_SECRET environment variable"))
	}

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		exitErr(fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n", resp.Status)

	var pretty any
	if json.Unmarshal(body, &pretty) == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pretty)
	} else if len(body) > 0 {
		fmt.Println(string(body))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
