package ingest

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// WordPressEventsStrategy reads the JSON feed of The Events Calendar plugin
// (/wp-json/tribe/events/v1/events). Many venue sites run it, and the source
// fetcher often finds the feed URL in inline scripts.
type WordPressEventsStrategy struct{}

type wpEventsResponse struct {
	Events []wpEvent `json:"events"`
}

type wpVenue struct {
	Venue   string `json:"venue"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
}

type wpEvent struct {
	ID          int    `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Excerpt     string `json:"excerpt"`
	StartDate   string `json:"start_date"`
	AllDay      bool   `json:"all_day"`
	Cost        string `json:"cost"`
	Website     string `json:"website"`
	Image       struct {
		URL string `json:"url"`
	} `json:"image"`
	// Venue is an object, or an empty array when the event has none.
	Venue      json.RawMessage `json:"venue"`
	Categories []struct {
		Name string `json:"name"`
	} `json:"categories"`
}

func (s *WordPressEventsStrategy) Name() string { return "wordpress_events" }

func (s *WordPressEventsStrategy) Matches(job models.SourceJob) bool {
	return job.Category == models.CategoryEvents && strings.Contains(job.TargetURL, "/wp-json/tribe/events")
}

func (s *WordPressEventsStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	return extractWordPressEvents(page, job)
}

// extractWordPressEvents decodes a tribe events payload. Anything else yields nothing.
func extractWordPressEvents(page Page, job models.SourceJob) []CandidateRecord {
	body := strings.TrimSpace(page.Content)
	if !strings.HasPrefix(body, "{") {
		return nil
	}
	var resp wpEventsResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		log.Printf("[job:%s] wordpress_events: decode feed: %v", job.ID, err)
		return nil
	}

	out := make([]CandidateRecord, 0, len(resp.Events))
	for _, ev := range resp.Events {
		// Feed dates are "2006-01-02 15:04:05" in the site's zone.
		date := ev.StartDate
		if ev.AllDay && len(date) >= 10 {
			date = date[:10]
		}
		var venue wpVenue
		if len(ev.Venue) > 0 && ev.Venue[0] == '{' {
			if err := json.Unmarshal(ev.Venue, &venue); err != nil {
				log.Printf("[job:%s] wordpress_events: event %d venue: %v", job.ID, ev.ID, err)
				venue = wpVenue{}
			}
		}
		var location string
		if venue.Address != "" {
			location = strings.Join(nonEmpty(venue.Address, venue.City, venue.State), ", ")
		}
		c := CandidateRecord{
			Category:    models.CategoryEvents,
			Title:       HTMLToText(ev.Title),
			Description: firstNonEmpty(ev.Description, ev.Excerpt),
			DateText:    date,
			Venue:       HTMLToText(venue.Venue),
			Location:    location,
			Price:       ev.Cost,
			Website:     firstNonEmpty(ev.Website, ev.URL),
			ImageURL:    ev.Image.URL,
			SourceURL:   page.URL,
		}
		if len(ev.Categories) > 0 {
			c.Subcategory = ev.Categories[0].Name
		}
		out = append(out, c)
	}
	return out
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
