package ingest

import (
	"context"
	"log"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
)

// Strategy turns fetched page content into candidate records. Extract never
// fails: a strategy that cannot make sense of a page returns no records.
type Strategy interface {
	Name() string
	Matches(job models.SourceJob) bool
	Extract(ctx context.Context, page Page, job models.SourceJob) []CandidateRecord
}

// Registry dispatches a job to its strategy. Source-specific strategies are
// consulted in registration order; generic is the fallback.
type Registry struct {
	strategies []Strategy
	byName     map[string]Strategy
	generic    Strategy
	ai         Strategy
}

// NewRegistry builds a registry around the generic strategy. ai may be nil.
func NewRegistry(generic, ai Strategy) *Registry {
	r := &Registry{
		byName:  make(map[string]Strategy),
		generic: generic,
		ai:      ai,
	}
	if generic != nil {
		r.byName[generic.Name()] = generic
	}
	if ai != nil {
		r.byName[ai.Name()] = ai
	}
	return r
}

// Register adds a source-specific strategy.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	r.byName[s.Name()] = s
}

// Names lists every registered strategy.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	if r.generic != nil {
		names = append(names, r.generic.Name())
	}
	if r.ai != nil {
		names = append(names, r.ai.Name())
	}
	return names
}

// Select picks the strategy for job: a forced hints.strategy wins, then the
// first source-specific match, then generic.
func (r *Registry) Select(job models.SourceJob) Strategy {
	if forced := strings.TrimSpace(job.Hints.Strategy); forced != "" {
		if s, ok := r.byName[forced]; ok {
			return s
		}
		log.Printf("[Registry] job %s forces unknown strategy %q, selecting by url", job.ID, forced)
	}
	for _, s := range r.strategies {
		if s.Matches(job) {
			return s
		}
	}
	return r.generic
}

// Extract runs the selected strategy and, when it yields nothing and the job
// allows it, the AI strategy. It returns the kept records and the name of the
// strategy that produced them.
func (r *Registry) Extract(ctx context.Context, page Page, job models.SourceJob) ([]CandidateRecord, string) {
	s := r.Select(job)
	if s == nil {
		return nil, ""
	}

	records := r.finish(s.Extract(ctx, page, job), page, job)
	used := s.Name()

	if len(records) == 0 && job.Hints.UseAI && r.ai != nil && s != r.ai {
		log.Printf("[Registry] %s found nothing for job %s, falling back to %s", used, job.ID, r.ai.Name())
		records = r.finish(r.ai.Extract(ctx, page, job), page, job)
		used = r.ai.Name()
	}
	return records, used
}

func (r *Registry) finish(in []CandidateRecord, page Page, job models.SourceJob) []CandidateRecord {
	out := make([]CandidateRecord, 0, len(in))
	for _, c := range in {
		c.Title = cleanText(c.Title)
		if IsGenericTitle(c.Title) {
			continue
		}
		if c.Category == "" {
			c.Category = job.Category
		}
		if c.SourceURL == "" {
			c.SourceURL = page.URL
		}
		out = append(out, c)
	}
	return out
}

var genericTitles = map[string]struct{}{
	"event": {}, "events": {}, "upcoming events": {}, "all events": {}, "featured events": {},
	"schedule": {}, "full schedule": {}, "calendar": {}, "event calendar": {},
	"see website": {}, "visit website": {}, "website": {},
	"more info": {}, "more information": {}, "learn more": {}, "read more": {}, "details": {},
	"view all": {}, "view details": {}, "buy tickets": {}, "tickets": {}, "register": {},
	"tbd": {}, "tba": {}, "untitled": {}, "home": {}, "menu": {}, "n/a": {}, "na": {},
	"restaurant": {}, "restaurants": {}, "new restaurants": {}, "playground": {}, "attraction": {},
}

// IsGenericTitle reports whether title carries no identifying signal.
func IsGenericTitle(title string) bool {
	t := strings.ToLower(cleanText(title))
	t = strings.Trim(t, " .:!-|»›>")
	if len([]rune(alnumKey(t, 0))) < 3 {
		return true
	}
	_, generic := genericTitles[t]
	return generic
}
