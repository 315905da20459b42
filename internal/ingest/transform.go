package ingest

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cityguide/listings-ingest/internal/ai"
	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultPrice          = "See website"
	maxDescriptionLength  = 2000
	defaultEventSubcat    = "Community"
	defaultOpeningSubcat  = "New Opening"
	defaultPlaygroundType = "Playground"
)

// PromotionPolicy decides whether a new listing is featured.
type PromotionPolicy interface {
	Promote(rec models.PersistedRecord) bool
}

// NoPromotion never features anything.
type NoPromotion struct{}

func (NoPromotion) Promote(models.PersistedRecord) bool { return false }

// RandomPromotion features a fixed share of new listings at random.
type RandomPromotion struct {
	Rate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomPromotion(rate float64, seed int64) *RandomPromotion {
	return &RandomPromotion{Rate: rate, rnd: rand.New(rand.NewSource(seed))}
}

func (p *RandomPromotion) Promote(models.PersistedRecord) bool {
	if p.Rate <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rnd.Float64() < p.Rate
}

// Transformer maps validated candidates onto category rows.
type Transformer struct {
	City      string
	State     string
	Promotion PromotionPolicy
	// Classifier, when set, fills missing subcategories.
	Classifier ai.Completer
	Now        func() time.Time
}

func NewTransformer(city, state string, promotion PromotionPolicy) *Transformer {
	if promotion == nil {
		promotion = NoPromotion{}
	}
	return &Transformer{City: city, State: state, Promotion: promotion, Now: time.Now}
}

// Transform builds the storage row for c. c.Start must be set for dated categories.
func (t *Transformer) Transform(ctx context.Context, job models.SourceJob, c CandidateRecord) models.PersistedRecord {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	rec := models.PersistedRecord{
		ID:          uuid.New(),
		Category:    c.Category,
		Title:       TruncateText(cleanText(c.Title), 250),
		Description: t.description(c),
		Location:    firstNonEmpty(c.Location, t.defaultLocation()),
		Venue:       cleanText(c.Venue),
		Price:       NormalizePrice(c.Price),
		Subcategory: cleanText(c.Subcategory),
		Website:     c.Website,
		ImageURL:    c.ImageURL,
		SourceURL:   CanonicalizeURL(c.SourceURL),
		Fingerprint: c.Fingerprint,
		SourceJobID: job.ID,
		CreatedAt:   now().UTC(),
	}
	if c.Start != nil {
		utc := c.Start.UTC
		rec.StartLocal = c.Start.Local
		rec.StartUTC = &utc
		rec.Timezone = c.Start.Timezone
	}
	if len(c.Extra) > 0 {
		rec.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			rec.Extra[k] = v
		}
	}

	switch c.Category {
	case models.CategoryEvents:
		if rec.Price == "" {
			rec.Price = DefaultPrice
		}
		if rec.Venue == "" {
			rec.Venue = rec.Location
		}
	case models.CategoryRestaurants, models.CategoryAttractions:
		if rec.Price == "" {
			rec.Price = DefaultPrice
		}
	case models.CategoryRestaurantOpenings:
		if rec.Subcategory == "" {
			rec.Subcategory = defaultOpeningSubcat
		}
	case models.CategoryPlaygrounds:
		rec.Price = firstNonEmpty(rec.Price, "Free")
	}

	if rec.Subcategory == "" && t.Classifier != nil {
		tag, err := ai.ClassifyListing(ctx, t.Classifier, string(c.Category), rec.Title, rec.Description)
		if err != nil {
			log.Printf("[Transform] classify %q: %v", rec.Title, err)
		}
		rec.Subcategory = tag
	}
	if rec.Subcategory == "" {
		switch c.Category {
		case models.CategoryEvents:
			rec.Subcategory = defaultEventSubcat
		case models.CategoryPlaygrounds:
			rec.Subcategory = defaultPlaygroundType
		}
	}

	if t.Promotion != nil {
		rec.IsFeatured = t.Promotion.Promote(rec)
	}
	return rec
}

func (t *Transformer) defaultLocation() string {
	switch {
	case t.City != "" && t.State != "":
		return t.City + ", " + t.State
	default:
		return strings.TrimSpace(t.City + t.State)
	}
}

// description keeps safe markup only and bounds the length.
func (t *Transformer) description(c CandidateRecord) string {
	desc := sanitizeUTF8(strings.TrimSpace(c.Description))
	if desc == "" {
		return ""
	}
	desc = strings.TrimSpace(sanitizeHTML(desc))
	return TruncateText(desc, maxDescriptionLength)
}
