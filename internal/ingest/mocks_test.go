package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cityguide/listings-ingest/internal/models"
)

type MockFetcher struct {
	Data  map[string][]byte
	mu    sync.Mutex
	Calls []string
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, url)
	m.mu.Unlock()

	content, ok := m.Data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &FetchedDocument{
		URL:         url,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        io.NopCloser(bytes.NewReader(content)),
		Headers:     make(http.Header),
		FetchedAt:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

type fakeCompleter struct {
	resp    string
	err     error
	prompts []string
}

func (f *fakeCompleter) GenerateCompletion(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.resp, f.err
}

type memJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.SourceJob
	order []string
	runs  []models.JobRun
}

func newMemJobStore(jobs ...models.SourceJob) *memJobStore {
	s := &memJobStore{jobs: make(map[string]*models.SourceJob)}
	for i := range jobs {
		j := jobs[i]
		s.jobs[j.ID] = &j
		s.order = append(s.order, j.ID)
	}
	return s
}

func (s *memJobStore) ListJobs(ctx context.Context) ([]models.SourceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SourceJob, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out, nil
}

func (s *memJobStore) GetJob(ctx context.Context, id string) (*models.SourceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	cp := *j
	return &cp, nil
}

func (s *memJobStore) MarkRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.JobStatusRunning
	}
	return nil
}

func (s *memJobStore) RecordRun(ctx context.Context, run models.JobRun, lastYield int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if j, ok := s.jobs[run.JobID]; ok {
		j.Status = models.JobStatusIdle
		j.LastRunAt = run.CompletedAt
		j.LastYieldCount = lastYield
	}
	return nil
}

type memRecordStore struct {
	mu       sync.Mutex
	rows     []models.PersistedRecord
	fps      map[string]struct{}
	calls    int
	failCall map[int]bool
	onInsert func(ctx context.Context)
	ctxErrs  []error
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{fps: make(map[string]struct{}), failCall: make(map[int]bool)}
}

func (s *memRecordStore) LoadRecent(ctx context.Context, since time.Time) ([]models.ExistingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExistingRecord
	for _, r := range s.rows {
		if r.StartUTC != nil && r.StartUTC.Before(since) {
			continue
		}
		out = append(out, models.ExistingRecord{
			ID:          r.ID,
			Category:    r.Category,
			Title:       r.Title,
			Venue:       r.Venue,
			Location:    r.Location,
			SourceURL:   r.SourceURL,
			StartUTC:    r.StartUTC,
			Fingerprint: r.Fingerprint,
		})
	}
	return out, nil
}

func (s *memRecordStore) InsertBatch(ctx context.Context, category models.Category, records []models.PersistedRecord) (BatchResult, error) {
	if s.onInsert != nil {
		s.onInsert(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.failCall[s.calls] {
		return BatchResult{}, fmt.Errorf("insert batch %d: connection reset", s.calls)
	}
	var res BatchResult
	for _, r := range records {
		if _, dup := s.fps[r.Fingerprint]; dup {
			res.Conflicts++
			continue
		}
		s.fps[r.Fingerprint] = struct{}{}
		s.rows = append(s.rows, r)
		res.Inserted++
	}
	return res, nil
}

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

// fixedNow is 2026-07-01 12:00 in Chicago.
func fixedNow(t *testing.T) func() time.Time {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, chicago(t))
	return func() time.Time { return now }
}

func testNormalizer(t *testing.T) *DateTimeNormalizer {
	n := NewDateTimeNormalizer("America/Chicago")
	n.Now = fixedNow(t)
	return n
}
