package ingest

import (
	"slices"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
)

// ExistingRecordIndex is a read-only snapshot of recently persisted listings.
// It is built once per invocation and has no mutators.
type ExistingRecordIndex struct {
	byFingerprint map[string]models.ExistingRecord
	byCategory    map[models.Category][]models.ExistingRecord
	loadedAt      time.Time
}

// NewExistingRecordIndex indexes records. Records stored without a fingerprint
// get one computed, rendering dates in timezone.
func NewExistingRecordIndex(records []models.ExistingRecord, timezone string) *ExistingRecordIndex {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	idx := &ExistingRecordIndex{
		byFingerprint: make(map[string]models.ExistingRecord, len(records)),
		byCategory:    make(map[models.Category][]models.ExistingRecord),
		loadedAt:      time.Now(),
	}
	for _, rec := range records {
		if rec.Fingerprint == "" {
			var day string
			if rec.StartUTC != nil {
				day = rec.StartUTC.In(loc).Format("20060102")
			}
			rec.Fingerprint = fingerprintOf(rec.Category, rec.Title, day, rec.Venue, rec.Location, rec.SourceURL)
		}
		if _, ok := idx.byFingerprint[rec.Fingerprint]; !ok {
			idx.byFingerprint[rec.Fingerprint] = rec
		}
		idx.byCategory[rec.Category] = append(idx.byCategory[rec.Category], rec)
	}
	return idx
}

// Lookup finds a record by exact fingerprint.
func (idx *ExistingRecordIndex) Lookup(fingerprint string) (models.ExistingRecord, bool) {
	if idx == nil {
		return models.ExistingRecord{}, false
	}
	rec, ok := idx.byFingerprint[fingerprint]
	return rec, ok
}

// Records returns a copy of the indexed records of one category.
func (idx *ExistingRecordIndex) Records(c models.Category) []models.ExistingRecord {
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.byCategory[c])
}

// Len is the number of indexed records across categories.
func (idx *ExistingRecordIndex) Len() int {
	if idx == nil {
		return 0
	}
	n := 0
	for _, recs := range idx.byCategory {
		n += len(recs)
	}
	return n
}

func (idx *ExistingRecordIndex) LoadedAt() time.Time {
	if idx == nil {
		return time.Time{}
	}
	return idx.loadedAt
}
