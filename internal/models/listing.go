package models

import (
	"time"

	"github.com/google/uuid"
)

// Category selects the target table and field mapping of a listing.
type Category string

const (
	CategoryEvents             Category = "events"
	CategoryRestaurants        Category = "restaurants"
	CategoryRestaurantOpenings Category = "restaurant_openings"
	CategoryPlaygrounds        Category = "playgrounds"
	CategoryAttractions        Category = "attractions"
)

// Categories lists every supported category in storage order.
var Categories = []Category{
	CategoryEvents,
	CategoryRestaurants,
	CategoryRestaurantOpenings,
	CategoryPlaygrounds,
	CategoryAttractions,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Dated reports whether listings of this category carry a start instant.
func (c Category) Dated() bool {
	return c == CategoryEvents
}

// PersistedRecord is a listing row as written to its category table.
type PersistedRecord struct {
	ID          uuid.UUID      `json:"id"`
	Category    Category       `json:"category"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	StartLocal  string         `json:"start_local,omitempty"`
	StartUTC    *time.Time     `json:"start_utc,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Location    string         `json:"location"`
	Venue       string         `json:"venue,omitempty"`
	Price       string         `json:"price,omitempty"`
	Subcategory string         `json:"subcategory,omitempty"`
	Website     string         `json:"website,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	SourceURL   string         `json:"source_url"`
	Fingerprint string         `json:"fingerprint"`
	IsFeatured  bool           `json:"is_featured"`
	Extra       map[string]any `json:"extra,omitempty"`
	SourceJobID string         `json:"source_job_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ExistingRecord is the slice of a stored listing needed for duplicate comparison.
type ExistingRecord struct {
	ID          uuid.UUID
	Category    Category
	Title       string
	Venue       string
	Location    string
	SourceURL   string
	StartUTC    *time.Time
	Fingerprint string
}
