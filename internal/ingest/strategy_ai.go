package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/ai"
	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// AIStrategy asks a language model to list the page's items. Any failure
// along the way yields no records.
type AIStrategy struct {
	Client   ai.Completer
	MaxChars int
	City     string
	Now      func() time.Time
}

func NewAIStrategy(client ai.Completer, city string) *AIStrategy {
	return &AIStrategy{
		Client:   client,
		MaxChars: 12000,
		City:     city,
		Now:      time.Now,
	}
}

func (s *AIStrategy) Name() string { return "ai" }

// Matches is false: the AI strategy runs only when forced or as a fallback.
func (s *AIStrategy) Matches(models.SourceJob) bool { return false }

const aiPromptTemplate = `You extract %s listings for a %s city guide from a web page.

Today's date is %s. The page URL is %s.

Return a JSON array. Each element is an object with these fields:
%s
RULES:
- Return ONLY the JSON array. Use [] if the page lists nothing relevant.
- Only include items that are explicitly on the page. Do NOT invent data.
- Use null for unknown fields.
- Skip navigation links, ads and generic headings such as "Events" or "Schedule".

PAGE TEXT:
%s`

func (s *AIStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	if s.Client == nil {
		return nil
	}
	text := s.pageText(page)
	if text == "" {
		return nil
	}

	category := string(job.Category)
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	prompt := fmt.Sprintf(aiPromptTemplate, category, s.City, now().Format("January 2, 2006"), page.URL, ai.DescribeSchema(category), text)

	log.Printf("[AIStrategy] job %s: sending %d chars", job.ID, len(text))
	resp, err := s.Client.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		log.Printf("[AIStrategy] job %s: completion failed: %v", job.ID, err)
		return nil
	}

	items, err := ai.ExtractJSONArray(resp)
	if err != nil {
		log.Printf("[AIStrategy] job %s: %v", job.ID, err)
		return nil
	}

	out := make([]CandidateRecord, 0, len(items))
	for i, raw := range items {
		if err := ai.ValidateItem(category, raw); err != nil {
			log.Printf("[AIStrategy] job %s: item %d rejected: %v", job.ID, i, err)
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, s.toCandidate(m, page, job))
	}
	log.Printf("[AIStrategy] job %s: %d of %d items usable", job.ID, len(out), len(items))
	return out
}

func (s *AIStrategy) toCandidate(m map[string]any, page Page, job models.SourceJob) CandidateRecord {
	c := CandidateRecord{
		Category:    job.Category,
		Title:       ldString(m[ai.TitleField(string(job.Category))]),
		Description: ldString(m["description"]),
		DateText:    ldString(m["date"]),
		Venue:       ldString(m["venue"]),
		Location:    ldString(m["location"]),
		Price:       firstNonEmpty(ldString(m["price"]), ldString(m["price_range"])),
		Subcategory: firstNonEmpty(ldString(m["category"]), ldString(m["cuisine"])),
		Website:     resolveURL(page.URL, ldString(m["url"])),
		SourceURL:   page.URL,
	}
	for _, k := range []string{"opening_date", "amenities"} {
		if v := ldString(m[k]); v != "" {
			if c.Extra == nil {
				c.Extra = map[string]string{}
			}
			c.Extra[k] = v
		}
	}
	return c
}

var promptPolicy = bluemonday.StrictPolicy()

// pageText reduces the page to readable text within MaxChars. Readability
// picks the main content; listing pages where that comes back thin fall back
// to the whole page stripped of markup.
func (s *AIStrategy) pageText(page Page) string {
	limit := s.MaxChars
	if limit <= 0 {
		limit = 12000
	}

	var text string
	if looksLikeHTML(page) {
		if u, err := url.Parse(page.URL); err == nil {
			if article, err := readability.FromReader(strings.NewReader(page.Content), u); err == nil {
				text = cleanText(article.TextContent)
			}
		}
		if len(text) < 500 {
			text = cleanText(html.UnescapeString(promptPolicy.Sanitize(page.Content)))
		}
	} else {
		text = cleanText(page.Content)
	}
	return TruncateText(text, limit)
}
