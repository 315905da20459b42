package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// FetchResult is the best page found for a job.
type FetchResult struct {
	URL         string
	Content     string
	ContentType string
	Score       int
	Tried       int
}

// Page returns the result as strategy input.
func (r *FetchResult) Page() Page {
	return Page{URL: r.URL, Content: r.Content, ContentType: r.ContentType}
}

// SourceFetcher tries a job's candidate URLs and keeps the most relevant response.
type SourceFetcher struct {
	Fetcher      Fetcher
	MaxBodyBytes int64
	ProbeAPIs    bool
}

func NewSourceFetcher(f Fetcher) *SourceFetcher {
	return &SourceFetcher{
		Fetcher:      f,
		MaxBodyBytes: 5 << 20,
		ProbeAPIs:    true,
	}
}

var calendarSuffixes = []string{"/events", "/calendar", "/schedule"}

// CandidateURLs lists the URLs worth trying for a job, original first.
// Calendars often live under a sibling path, so dated categories also try
// the common suffixes.
func CandidateURLs(target string, category models.Category) []string {
	target = strings.TrimSpace(target)
	out := []string{target}
	if !category.Dated() {
		return out
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return out
	}

	path := strings.TrimRight(u.Path, "/")
	lower := strings.ToLower(path)
	for _, suffix := range calendarSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return out
		}
	}

	seen := map[string]struct{}{CanonicalizeURL(target): {}}
	for _, suffix := range calendarSuffixes {
		c := *u
		c.Path = path + suffix
		c.RawQuery = ""
		c.Fragment = ""
		s := c.String()
		if _, dup := seen[CanonicalizeURL(s)]; dup {
			continue
		}
		seen[CanonicalizeURL(s)] = struct{}{}
		out = append(out, s)
	}
	return out
}

var quotedURLRegex = regexp.MustCompile(`["']((?:https?://[^/"'\s]+)?/[^"'\s]*)["']`)

const maxProbedEndpoints = 3

// ProbeAPIEndpoints looks through inline scripts for event feed URLs.
func ProbeAPIEndpoints(base, html string) []string {
	doc, err := ParseHTML(html)
	if err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	var out []string
	for _, script := range doc.Scripts() {
		script = strings.ReplaceAll(script, `\/`, "/")
		for _, m := range quotedURLRegex.FindAllStringSubmatch(script, -1) {
			raw := m[1]
			if !looksLikeEventFeed(raw) {
				continue
			}
			abs := resolveURL(base, raw)
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
			if len(out) == maxProbedEndpoints {
				return out
			}
		}
	}
	return out
}

func looksLikeEventFeed(raw string) bool {
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "event") {
		return false
	}
	path, _, _ := strings.Cut(lower, "?")
	return strings.Contains(path, "/api/") || strings.Contains(path, "/wp-json/") || strings.HasSuffix(path, ".json")
}

var categoryNouns = map[models.Category][]string{
	models.CategoryEvents:             {"event", "concert", "festival", "tickets", "performance", "show", "game", "live"},
	models.CategoryRestaurants:        {"restaurant", "menu", "dining", "cuisine", "brunch", "chef", "eatery"},
	models.CategoryRestaurantOpenings: {"opening", "opens", "opened", "new restaurant", "coming soon", "grand opening"},
	models.CategoryPlaygrounds:        {"playground", "splash pad", "swings", "slides", "park", "play area"},
	models.CategoryAttractions:        {"museum", "attraction", "exhibit", "tour", "zoo", "gallery", "garden"},
}

var venueNouns = []string{"venue", "arena", "theater", "theatre", "stadium", "hall", "center", "park", "lake"}

var (
	monthTokenRegex   = regexp.MustCompile(`(?i)\b(?:` + monthAlternation + `)\b`)
	weekdayTokenRegex = regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun)\b`)
)

// ScoreContent counts relevance signals. Job keywords count triple.
func ScoreContent(content string, category models.Category, keywords []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, n := range categoryNouns[category] {
		score += strings.Count(lower, n)
	}
	for _, n := range venueNouns {
		score += strings.Count(lower, n)
	}
	if category.Dated() {
		score += len(monthTokenRegex.FindAllStringIndex(content, -1))
		score += len(weekdayTokenRegex.FindAllStringIndex(content, -1))
		score += len(clock12Regex.FindAllStringIndex(content, -1))
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			score += 3 * strings.Count(lower, k)
		}
	}
	return score
}

// FetchBest fetches every candidate URL and returns the highest scoring
// response. Ties keep the earlier URL. ErrNoContent means nothing usable came back.
func (s *SourceFetcher) FetchBest(ctx context.Context, job models.SourceJob) (*FetchResult, error) {
	urls := CandidateURLs(job.TargetURL, job.Category)

	var (
		best    *FetchResult
		lastErr error
		tried   int
	)
	for i := 0; i < len(urls); i++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		tried++
		res, err := s.fetchOne(ctx, urls[i], job)
		if err != nil {
			log.Printf("[Fetcher] job %s: %s: %v", job.ID, urls[i], err)
			lastErr = err
			continue
		}
		log.Printf("[Fetcher] job %s: %s scored %d", job.ID, urls[i], res.Score)

		if i == 0 && s.ProbeAPIs && job.Category.Dated() {
			for _, api := range ProbeAPIEndpoints(urls[0], res.Content) {
				if !containsString(urls, api) {
					urls = append(urls, api)
				}
			}
		}

		if best == nil || res.Score > best.Score {
			best = res
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: tried %d urls for %s: %v", ErrNoContent, tried, job.TargetURL, lastErr)
	}
	best.Tried = tried
	return best, nil
}

func (s *SourceFetcher) fetchOne(ctx context.Context, u string, job models.SourceJob) (*FetchResult, error) {
	doc, err := s.Fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()

	if doc.StatusCode != 0 && (doc.StatusCode < 200 || doc.StatusCode > 299) {
		return nil, fmt.Errorf("status %d", doc.StatusCode)
	}

	limit := s.MaxBodyBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	body, err := io.ReadAll(io.LimitReader(doc.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	content := sanitizeUTF8(string(body))
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty body")
	}

	finalURL := doc.URL
	if finalURL == "" {
		finalURL = u
	}
	return &FetchResult{
		URL:         finalURL,
		Content:     content,
		ContentType: doc.ContentType,
		Score:       ScoreContent(content, job.Category, job.Hints.Keywords),
	}, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
