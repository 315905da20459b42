package ingest

import (
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
)

// Component widths used when building a fingerprint.
const (
	fpTitleLen    = 40
	fpVenueLen    = 30
	fpLocationLen = 40
	fpDomainLen   = 30
)

// DuplicateRule names the rule that classified a candidate as a duplicate.
type DuplicateRule string

const (
	RuleExactFingerprint DuplicateRule = "exact_fingerprint"
	RuleSourceDateTitle  DuplicateRule = "source_date_title"
	RuleTitleVenueWindow DuplicateRule = "title_venue_window"
)

// DuplicateResult is the outcome of IsDuplicate. Match is nil when Duplicate is false.
type DuplicateResult struct {
	Duplicate bool
	Rule      DuplicateRule
	Match     *models.ExistingRecord
}

// FingerprintEngine derives identity keys and classifies duplicates. It never
// mutates its inputs.
type FingerprintEngine struct {
	SimilarityThreshold float64
	RecurrenceWindow    time.Duration
}

func NewFingerprintEngine() *FingerprintEngine {
	return &FingerprintEngine{
		SimilarityThreshold: 0.8,
		RecurrenceWindow:    24 * time.Hour,
	}
}

var categoryCodes = map[models.Category]string{
	models.CategoryEvents:             "ev",
	models.CategoryRestaurants:        "rs",
	models.CategoryRestaurantOpenings: "ro",
	models.CategoryPlaygrounds:        "pg",
	models.CategoryAttractions:        "at",
}

// Fingerprint is a pure function of the candidate's category-relevant fields.
func (e *FingerprintEngine) Fingerprint(c CandidateRecord) string {
	var day string
	if c.Start != nil {
		day = c.Start.In().Format("20060102")
	}
	return fingerprintOf(c.Category, c.Title, day, c.Venue, c.Location, c.SourceURL)
}

func fingerprintOf(cat models.Category, title, day, venue, location, sourceURL string) string {
	code, ok := categoryCodes[cat]
	if !ok {
		code = alnumKey(string(cat), 4)
	}
	if cat.Dated() {
		return code + ":" + strings.Join([]string{
			alnumKey(title, fpTitleLen),
			day,
			alnumKey(venue, fpVenueLen),
			alnumKey(extractDomain(sourceURL), fpDomainLen),
		}, "|")
	}
	return code + ":" + alnumKey(title, fpTitleLen) + "|" + alnumKey(location, fpLocationLen)
}

// TitleSimilarity is the share of positions at which the normalized titles
// carry the same character, measured against the longer title.
func TitleSimilarity(a, b string) float64 {
	ra := []rune(alnumKey(a, 0))
	rb := []rune(alnumKey(b, 0))
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < min(len(ra), len(rb)); i++ {
		if ra[i] == rb[i] {
			matches++
		}
	}
	return float64(matches) / float64(longest)
}

// IsDuplicate checks c against the index. Rules run in order and the first
// match wins: exact fingerprint, then same source and day with a similar title,
// then same title and venue within the recurrence window.
func (e *FingerprintEngine) IsDuplicate(c CandidateRecord, idx *ExistingRecordIndex) DuplicateResult {
	if idx == nil {
		return DuplicateResult{}
	}

	fp := c.Fingerprint
	if fp == "" {
		fp = e.Fingerprint(c)
	}
	if rec, ok := idx.Lookup(fp); ok {
		return DuplicateResult{Duplicate: true, Rule: RuleExactFingerprint, Match: &rec}
	}

	if c.Start == nil {
		return DuplicateResult{}
	}

	loc := c.Start.In().Location()
	day := c.Start.In().Format("20060102")
	source := CanonicalizeURL(c.SourceURL)
	titleKey := alnumKey(c.Title, 0)
	venueKey := alnumKey(placeOf(c.Venue, c.Location), 0)

	records := idx.byCategory[c.Category]

	for i := range records {
		rec := records[i]
		if rec.StartUTC == nil || source == "" {
			continue
		}
		if CanonicalizeURL(rec.SourceURL) != source {
			continue
		}
		if rec.StartUTC.In(loc).Format("20060102") != day {
			continue
		}
		if TitleSimilarity(c.Title, rec.Title) > e.SimilarityThreshold {
			return DuplicateResult{Duplicate: true, Rule: RuleSourceDateTitle, Match: &rec}
		}
	}

	for i := range records {
		rec := records[i]
		if rec.StartUTC == nil || titleKey == "" {
			continue
		}
		if alnumKey(rec.Title, 0) != titleKey || alnumKey(placeOf(rec.Venue, rec.Location), 0) != venueKey {
			continue
		}
		if absDuration(rec.StartUTC.Sub(c.Start.UTC)) <= e.RecurrenceWindow {
			return DuplicateResult{Duplicate: true, Rule: RuleTitleVenueWindow, Match: &rec}
		}
	}

	return DuplicateResult{}
}

// DedupBatch keeps the first candidate per normalized title and venue (and
// local day for dated categories). It returns the survivors in input order
// and the number dropped.
func (e *FingerprintEngine) DedupBatch(cands []CandidateRecord) ([]CandidateRecord, int) {
	seen := make(map[string]struct{}, len(cands))
	out := make([]CandidateRecord, 0, len(cands))
	for _, c := range cands {
		key := batchKey(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out, len(cands) - len(out)
}

// placeOf is the venue, or the location when no venue is known. Stored events
// carry the same fallback.
func placeOf(venue, location string) string {
	if strings.TrimSpace(venue) == "" {
		return location
	}
	return venue
}

func batchKey(c CandidateRecord) string {
	key := string(c.Category) + "|" + alnumKey(c.Title, 0) + "|" + alnumKey(placeOf(c.Venue, c.Location), 0)
	if c.Start != nil {
		key += "|" + c.Start.In().Format("20060102")
	}
	return key
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
