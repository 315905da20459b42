package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
)

var (
	ErrNoContent          = errors.New("no candidate url returned usable content")
	ErrUnparseableDate    = errors.New("unparseable date")
	ErrOutsideWindow      = errors.New("date outside validity window")
	ErrImplausibleSeason  = errors.New("date outside season window")
	ErrJobNotFound        = errors.New("source job not found")
	ErrMissingCredentials = errors.New("missing required credentials")
)

// LocalLayout renders NormalizedDateTime.Local.
const LocalLayout = "2006-01-02 15:04:05"

// NormalizedDateTime keeps the publisher-facing local rendering next to the
// comparison-safe instant. UTC is always ParseInLocation(Local, Timezone).
type NormalizedDateTime struct {
	Local    string    `json:"local"`
	Timezone string    `json:"timezone"`
	UTC      time.Time `json:"utc"`
}

// In returns the instant in the source timezone.
func (n NormalizedDateTime) In() time.Time {
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return n.UTC
	}
	return n.UTC.In(loc)
}

// CandidateRecord is an unvalidated listing produced by an extraction strategy.
type CandidateRecord struct {
	Category    models.Category
	Title       string
	Description string
	DateText    string
	Start       *NormalizedDateTime
	Location    string
	Venue       string
	Price       string
	Subcategory string
	Website     string
	ImageURL    string
	SourceURL   string
	Fingerprint string
	// Season, when set, restricts plausible start months.
	Season *SeasonWindow
	Extra  map[string]string
}

// Page is fetched content handed to a strategy.
type Page struct {
	URL         string
	Content     string
	ContentType string
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// JobStore is the persistence surface for source jobs and their run history.
type JobStore interface {
	ListJobs(ctx context.Context) ([]models.SourceJob, error)
	GetJob(ctx context.Context, id string) (*models.SourceJob, error)
	MarkRunning(ctx context.Context, id string) error
	RecordRun(ctx context.Context, run models.JobRun, lastYield int) error
}

// BatchResult reports the outcome of one atomic batch insert.
type BatchResult struct {
	Inserted  int
	Conflicts int
}

// RecordStore loads the duplicate baseline and writes new listings.
type RecordStore interface {
	LoadRecent(ctx context.Context, since time.Time) ([]models.ExistingRecord, error)
	InsertBatch(ctx context.Context, category models.Category, records []models.PersistedRecord) (BatchResult, error)
}
