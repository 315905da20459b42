package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher using Colly. It honours robots.txt and
// applies Colly's per-domain delay.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	IgnoreRobotsTxt   bool
	MaxBodySize       int // bytes, 0 = unlimited
	DetectCharset     bool
	CacheDir          string // empty = no cache
}

// NewCollyFetcher creates a CollyFetcher with sensible defaults.
func NewCollyFetcher() *CollyFetcher {
	return &CollyFetcher{
		UserAgent:         browserUserAgent,
		MaxRetries:        2,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       1 * time.Second,
		RandomDelayFactor: 0.5,
		MaxBodySize:       5 * 1024 * 1024,
		DetectCharset:     true,
	}
}

// buildCollector creates a configured Colly collector.
func (f *CollyFetcher) buildCollector(host string) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.AllowedDomains(host),
	}
	if f.DetectCharset {
		opts = append(opts, colly.DetectCharset())
	}
	if f.CacheDir != "" {
		opts = append(opts, colly.CacheDir(f.CacheDir))
	}

	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = f.IgnoreRobotsTxt
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	})
	c.SetRequestTimeout(f.RequestTimeout)
	return c
}

// Fetch implements the Fetcher interface, returning a FetchedDocument.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", targetURL)
	}

	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[Colly] Retry %d/%d for %s: %v", attempt, f.MaxRetries, targetURL, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		doc, status, err := f.visit(ctx, parsedURL.Hostname(), targetURL)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if status != 0 && !shouldRetry(nil, status) {
			break
		}
	}
	return nil, fmt.Errorf("fetch failed after %d retries: %w", f.MaxRetries, lastErr)
}

type collyResult struct {
	doc    *FetchedDocument
	status int
	err    error
}

func (f *CollyFetcher) visit(ctx context.Context, host, targetURL string) (*FetchedDocument, int, error) {
	c := f.buildCollector(host)

	// Collectors are synchronous, so the callbacks below run before Visit returns.
	var res collyResult
	c.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.doc = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(*r.Headers),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(targetURL) }()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case err := <-done:
		if res.err != nil {
			return nil, res.status, res.err
		}
		if err != nil {
			return nil, res.status, fmt.Errorf("visit failed: %w", err)
		}
		if res.doc == nil {
			return nil, 0, fmt.Errorf("no response received for %s", targetURL)
		}
		return res.doc, res.status, nil
	}
}
