package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/google/uuid"
)

func eventAt(t *testing.T, title, venue, source, when string) CandidateRecord {
	t.Helper()
	dt, err := testNormalizer(t).Parse(when, "America/Chicago")
	if err != nil {
		t.Fatalf("Parse(%q): %v", when, err)
	}
	return CandidateRecord{
		Category:  models.CategoryEvents,
		Title:     title,
		Venue:     venue,
		SourceURL: source,
		Start:     &dt,
	}
}

func existingFrom(c CandidateRecord, fp string) models.ExistingRecord {
	utc := c.Start.UTC
	return models.ExistingRecord{
		ID:          uuid.New(),
		Category:    c.Category,
		Title:       c.Title,
		Venue:       c.Venue,
		Location:    c.Location,
		SourceURL:   c.SourceURL,
		StartUTC:    &utc,
		Fingerprint: fp,
	}
}

func TestFingerprintPurity(t *testing.T) {
	e := NewFingerprintEngine()

	a := eventAt(t, "Jazz in the Park", "Gray's Lake", "https://www.example.org/events?utm_source=x", "July 30 7:00 PM")
	b := eventAt(t, "  jazz IN the  park! ", "Grays Lake", "https://example.org/calendar", "July 30 9:00 PM")
	b.Description = "different description"
	b.Price = "$5"

	if fa, fb := e.Fingerprint(a), e.Fingerprint(b); fa != fb {
		t.Errorf("fingerprints differ:\n%s\n%s", fa, fb)
	}

	c := eventAt(t, "Jazz in the Park", "Gray's Lake", "https://example.org/events", "July 31 7:00 PM")
	if e.Fingerprint(a) == e.Fingerprint(c) {
		t.Error("different days share a fingerprint")
	}

	before := a
	_ = e.Fingerprint(a)
	if a.Title != before.Title || a.Fingerprint != "" {
		t.Error("Fingerprint mutated its input")
	}
}

func TestFingerprintUndatedCategories(t *testing.T) {
	e := NewFingerprintEngine()
	a := CandidateRecord{Category: models.CategoryRestaurants, Title: "Bubba", Location: "200 10th St, Des Moines"}
	b := CandidateRecord{Category: models.CategoryRestaurants, Title: "BUBBA", Location: "200 10th St., Des Moines", SourceURL: "https://other.example"}
	if e.Fingerprint(a) != e.Fingerprint(b) {
		t.Error("venue-like fingerprint depends on source or punctuation")
	}
	p := a
	p.Category = models.CategoryPlaygrounds
	if e.Fingerprint(a) == e.Fingerprint(p) {
		t.Error("categories share a fingerprint")
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Jazz in the Park", "Jazz in the Park", 1, 1},
		{"Iowa State Fair Parade", "Iowa State Fair Parades", 0.9, 0.99},
		{"Jazz in the Park", "Movies at the Zoo", 0, 0.2},
		{"", "", 0, 0},
	}
	for _, tt := range tests {
		got := TitleSimilarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("TitleSimilarity(%q, %q) = %.2f, want [%.2f, %.2f]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestIsDuplicateRules(t *testing.T) {
	e := NewFingerprintEngine()
	const source = "https://www.example.org/events"

	base := eventAt(t, "Jazz in the Park", "Gray's Lake", source, "July 30 7:00 PM")

	t.Run("exact fingerprint wins before other rules", func(t *testing.T) {
		idx := NewExistingRecordIndex([]models.ExistingRecord{existingFrom(base, e.Fingerprint(base))}, "America/Chicago")
		res := e.IsDuplicate(base, idx)
		if !res.Duplicate || res.Rule != RuleExactFingerprint {
			t.Fatalf("got %+v, want exact fingerprint", res)
		}
		if res.Match == nil || res.Match.Title != base.Title {
			t.Errorf("match = %+v", res.Match)
		}
	})

	t.Run("same source and day with similar title", func(t *testing.T) {
		stored := eventAt(t, "Iowa State Fair Parade", "Grand Avenue", source, "August 12 6:00 PM")
		idx := NewExistingRecordIndex([]models.ExistingRecord{existingFrom(stored, e.Fingerprint(stored))}, "America/Chicago")

		incoming := eventAt(t, "Iowa State Fair Parades", "Capitol Steps", source+"?utm_campaign=summer", "August 12 7:00 PM")
		res := e.IsDuplicate(incoming, idx)
		if !res.Duplicate || res.Rule != RuleSourceDateTitle {
			t.Fatalf("got %+v, want source_date_title", res)
		}
	})

	t.Run("similar title from another source is not rule two", func(t *testing.T) {
		stored := eventAt(t, "Iowa State Fair Parade", "Grand Avenue", source, "August 12 6:00 PM")
		idx := NewExistingRecordIndex([]models.ExistingRecord{existingFrom(stored, e.Fingerprint(stored))}, "America/Chicago")

		incoming := eventAt(t, "Iowa State Fair Parades", "Capitol Steps", "https://news.example.com/things-to-do", "August 12 7:00 PM")
		if res := e.IsDuplicate(incoming, idx); res.Duplicate {
			t.Fatalf("got %+v, want unique", res)
		}
	})

	t.Run("same title and venue within a day", func(t *testing.T) {
		stored := eventAt(t, "Trivia Night", "Iowa Taproom", "https://a.example/events", "July 14 11:00 PM")
		idx := NewExistingRecordIndex([]models.ExistingRecord{existingFrom(stored, e.Fingerprint(stored))}, "America/Chicago")

		incoming := eventAt(t, "Trivia night!", "Iowa Taproom", "https://b.example/calendar", "July 15 10:00 PM")
		res := e.IsDuplicate(incoming, idx)
		if !res.Duplicate || res.Rule != RuleTitleVenueWindow {
			t.Fatalf("got %+v, want title_venue_window", res)
		}

		weekLater := eventAt(t, "Trivia Night", "Iowa Taproom", "https://b.example/calendar", "July 21 11:00 PM")
		if res := e.IsDuplicate(weekLater, idx); res.Duplicate {
			t.Fatalf("weekly recurrence classified duplicate: %+v", res)
		}
	})

	t.Run("undated candidates only use the fingerprint", func(t *testing.T) {
		c := CandidateRecord{Category: models.CategoryRestaurants, Title: "Bubba", Location: "200 10th St"}
		idx := NewExistingRecordIndex([]models.ExistingRecord{{
			Category: models.CategoryRestaurants, Title: "Bubba", Location: "200 10th St",
		}}, "America/Chicago")
		res := e.IsDuplicate(c, idx)
		if !res.Duplicate || res.Rule != RuleExactFingerprint {
			t.Fatalf("got %+v, want exact fingerprint from computed index key", res)
		}
	})

	t.Run("nil index", func(t *testing.T) {
		if res := e.IsDuplicate(base, nil); res.Duplicate {
			t.Fatal("nil index reported a duplicate")
		}
	})
}

func TestDedupBatch(t *testing.T) {
	e := NewFingerprintEngine()
	a := eventAt(t, "Jazz in the Park", "Gray's Lake", "", "July 30 7:00 PM")
	b := eventAt(t, "Jazz in the park", "Grays Lake", "", "July 30 8:00 PM")
	c := eventAt(t, "Jazz in the Park", "Gray's Lake", "", "August 6 7:00 PM")
	d := eventAt(t, "Movies at the Zoo", "Blank Park Zoo", "", "July 30 7:00 PM")

	out, dropped := e.DedupBatch([]CandidateRecord{a, b, c, d})
	if dropped != 1 || len(out) != 3 {
		t.Fatalf("kept %d dropped %d, want 3 and 1", len(out), dropped)
	}
	if out[0].Start.Local != a.Start.Local || out[1].Title != c.Title || out[2].Title != d.Title {
		t.Errorf("order not preserved: %+v", out)
	}
}

func TestIndexIsSnapshot(t *testing.T) {
	stored := models.ExistingRecord{Category: models.CategoryEvents, Title: "A", Fingerprint: "ev:a"}
	idx := NewExistingRecordIndex([]models.ExistingRecord{stored}, "America/Chicago")

	recs := idx.Records(models.CategoryEvents)
	recs[0].Title = "changed"
	if got := idx.Records(models.CategoryEvents)[0].Title; got != "A" {
		t.Errorf("index mutated through Records: %q", got)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d", idx.Len())
	}
	if _, ok := idx.Lookup("ev:a"); !ok {
		t.Error("Lookup missed stored fingerprint")
	}
	if idx.LoadedAt().After(time.Now()) {
		t.Error("LoadedAt in the future")
	}
}

func TestIsDuplicateVenueFallsBackToLocation(t *testing.T) {
	e := NewFingerprintEngine()
	const source = "https://www.example.org/events"

	late := eventAt(t, "Late Jazz", "", source, "July 30 11:30 PM")
	late.Location = "Gray's Lake Park"
	late.Fingerprint = e.Fingerprint(late)

	rec := testTransformer(t).Transform(context.Background(), communityJob(), late)
	if rec.Venue != "Gray's Lake Park" {
		t.Fatalf("stored venue = %q, want the location fallback", rec.Venue)
	}
	idx := NewExistingRecordIndex([]models.ExistingRecord{{
		ID: rec.ID, Category: rec.Category, Title: rec.Title, Venue: rec.Venue, Location: rec.Location,
		SourceURL: rec.SourceURL, StartUTC: rec.StartUTC, Fingerprint: rec.Fingerprint,
	}}, "America/Chicago")

	relisted := eventAt(t, "Late Jazz", "", source, "July 31 12:15 AM")
	relisted.Location = "Gray's Lake Park"
	res := e.IsDuplicate(relisted, idx)
	if !res.Duplicate || res.Rule != RuleTitleVenueWindow {
		t.Fatalf("got %+v, want title_venue_window", res)
	}

	elsewhere := eventAt(t, "Late Jazz", "", source, "July 31 12:15 AM")
	elsewhere.Location = "Water Works Park"
	if res := e.IsDuplicate(elsewhere, idx); res.Duplicate {
		t.Errorf("different location classified duplicate: %+v", res)
	}
}
