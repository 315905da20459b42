package ingest

import (
	"context"
	"log"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// CalendarPresetStrategy applies known selectors for a calendar site so its
// jobs need no hints of their own. Job hints still override the preset.
type CalendarPresetStrategy struct {
	ID      string
	Domains []string
	Preset  models.ExtractionHints
}

// CatchDesMoines is the convention and visitors bureau event calendar.
func CatchDesMoines() *CalendarPresetStrategy {
	return &CalendarPresetStrategy{
		ID:      "catch_des_moines",
		Domains: []string{"catchdesmoines.com"},
		Preset: models.ExtractionHints{
			Container:   ".event-card, .shared-item[data-type='event'], .item.event",
			Title:       ".card-title, .title, h3, h4",
			Date:        ".dates, .date, .event-date",
			Time:        ".times, .time",
			Venue:       ".location, .venue",
			Location:    ".address",
			Description: ".description, .teaser",
			Link:        "a.card-link, a",
			Image:       "img",
		},
	}
}

func (s *CalendarPresetStrategy) Name() string { return s.ID }

func (s *CalendarPresetStrategy) Matches(job models.SourceJob) bool {
	if job.Category != models.CategoryEvents {
		return false
	}
	domain := extractDomain(job.TargetURL)
	for _, d := range s.Domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func (s *CalendarPresetStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	doc, err := ParseHTML(page.Content)
	if err != nil {
		log.Printf("[job:%s] %s: %v", job.ID, s.ID, err)
		return nil
	}

	hints := mergeHints(job.Hints, s.Preset)
	if recs := extractBlocks(doc, hints, page, job); len(recs) > 0 {
		return recs
	}
	// Some listing pages only carry structured data.
	return extractJSONLD(doc, page, job)
}

// mergeHints fills unset job hints from the preset.
func mergeHints(job, preset models.ExtractionHints) models.ExtractionHints {
	out := job
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&out.Container, preset.Container)
	fill(&out.Title, preset.Title)
	fill(&out.Date, preset.Date)
	fill(&out.Time, preset.Time)
	fill(&out.Venue, preset.Venue)
	fill(&out.Location, preset.Location)
	fill(&out.Description, preset.Description)
	fill(&out.Price, preset.Price)
	fill(&out.Link, preset.Link)
	fill(&out.Image, preset.Image)
	fill(&out.DefaultTime, preset.DefaultTime)
	return out
}
