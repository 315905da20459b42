package ingest

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// OpeningsArticleStrategy reads "new restaurants" roundup articles where each
// restaurant is a heading followed by a few paragraphs.
type OpeningsArticleStrategy struct {
	Domains  []string
	Headings string
}

func NewOpeningsArticleStrategy() *OpeningsArticleStrategy {
	return &OpeningsArticleStrategy{
		Domains:  []string{"dsmmagazine.com", "desmoinesregister.com", "axios.com", "businessrecord.com", "weareiowa.com"},
		Headings: "article h2, article h3, .entry-content h2, .entry-content h3, main h2, main h3",
	}
}

func (s *OpeningsArticleStrategy) Name() string { return "openings_article" }

func (s *OpeningsArticleStrategy) Matches(job models.SourceJob) bool {
	if job.Category != models.CategoryRestaurantOpenings {
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

var (
	streetAddressRegex = regexp.MustCompile(`\b\d{1,5}\s+(?:[NSEW]\.?\s+)?(?:[A-Z0-9][\w.]*\s+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Boulevard|Blvd|Parkway|Pkwy|Way|Lane|Ln|Court|Ct|Place|Pl|Highway|Hwy)\b\.?(?:,?\s+(?:Suite|Ste\.?|#)\s*\w+)?(?:,\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)?`)
	openingDateRegex   = regexp.MustCompile(`(?i)\b(?:opened|opens|opening|will open|set to open|debuts?)\b[^.]{0,40}?\b((?:` + monthAlternation + `)\.?(?:\s+\d{1,2}(?:st|nd|rd|th)?\b)?(?:,?\s+\d{4})?)`)
	headingNumbering   = regexp.MustCompile(`^\s*\d{1,2}[.)]\s*`)
)

func (s *OpeningsArticleStrategy) Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord {
	doc, err := ParseHTML(page.Content)
	if err != nil {
		log.Printf("[job:%s] openings_article: %v", job.ID, err)
		return nil
	}

	var out []CandidateRecord
	for _, sec := range doc.Sections(s.Headings) {
		name := headingNumbering.ReplaceAllString(sec.Heading, "")
		if len(name) > 80 || sec.Body == "" {
			continue
		}
		c := CandidateRecord{
			Category:    models.CategoryRestaurantOpenings,
			Title:       name,
			Description: TruncateText(sec.Body, 1000),
			Location:    streetAddressRegex.FindString(sec.Body),
			SourceURL:   page.URL,
			Extra:       map[string]string{},
		}
		if m := openingDateRegex.FindStringSubmatch(sec.Body); m != nil {
			c.Extra["opening_date"] = strings.TrimSpace(m[1])
		}
		out = append(out, c)
	}
	return out
}
