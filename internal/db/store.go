package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/ingest"
	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres implementation of the pipeline's job and record stores.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// tableSpec maps one category onto its table. Every table shares the common
// columns; specific lists the rest in insert order.
type tableSpec struct {
	table     string
	nameCol   string
	specific  []string
	specifics func(r models.PersistedRecord) []any
}

var commonColumns = []string{"description", "location", "website", "image_url", "source_url",
	"fingerprint", "is_featured", "extra", "source_job_id", "created_at"}

var tables = map[models.Category]tableSpec{
	models.CategoryEvents: {
		table:    "events",
		nameCol:  "title",
		specific: []string{"start_local", "start_utc", "timezone", "venue", "price", "category"},
		specifics: func(r models.PersistedRecord) []any {
			return []any{r.StartLocal, r.StartUTC, r.Timezone, nilIfEmpty(r.Venue), nilIfEmpty(r.Price), nilIfEmpty(r.Subcategory)}
		},
	},
	models.CategoryRestaurants: {
		table:    "restaurants",
		nameCol:  "name",
		specific: []string{"cuisine", "price_range"},
		specifics: func(r models.PersistedRecord) []any {
			return []any{nilIfEmpty(r.Subcategory), nilIfEmpty(r.Price)}
		},
	},
	models.CategoryRestaurantOpenings: {
		table:    "restaurant_openings",
		nameCol:  "name",
		specific: []string{"cuisine", "opening_date"},
		specifics: func(r models.PersistedRecord) []any {
			return []any{nilIfEmpty(r.Subcategory), extraString(r, "opening_date")}
		},
	},
	models.CategoryPlaygrounds: {
		table:    "playgrounds",
		nameCol:  "name",
		specific: []string{"playground_type", "amenities", "price"},
		specifics: func(r models.PersistedRecord) []any {
			return []any{nilIfEmpty(r.Subcategory), extraString(r, "amenities"), nilIfEmpty(r.Price)}
		},
	},
	models.CategoryAttractions: {
		table:    "attractions",
		nameCol:  "name",
		specific: []string{"category", "price"},
		specifics: func(r models.PersistedRecord) []any {
			return []any{nilIfEmpty(r.Subcategory), nilIfEmpty(r.Price)}
		},
	},
}

func tableFor(c models.Category) (tableSpec, error) {
	spec, ok := tables[c]
	if !ok {
		return tableSpec{}, fmt.Errorf("no table for category %q", c)
	}
	return spec, nil
}

func (t tableSpec) columns() []string {
	cols := append([]string{"id", t.nameCol}, commonColumns...)
	return append(cols, t.specific...)
}

// insertSQL is the per-row statement. Rows whose fingerprint is already
// stored are skipped rather than failing the batch.
func (t tableSpec) insertSQL() string {
	cols := t.columns()
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (fingerprint) DO NOTHING`,
		t.table, strings.Join(cols, ", "), strings.Join(params, ", "))
}

func (t tableSpec) args(r models.PersistedRecord) []any {
	var extra []byte
	if len(r.Extra) > 0 {
		extra, _ = json.Marshal(r.Extra)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	args := []any{
		r.ID,
		r.Title,
		nilIfEmpty(r.Description),
		nilIfEmpty(r.Location),
		nilIfEmpty(r.Website),
		nilIfEmpty(r.ImageURL),
		nilIfEmpty(r.SourceURL),
		r.Fingerprint,
		r.IsFeatured,
		extra,
		nilIfEmpty(r.SourceJobID),
		createdAt,
	}
	return append(args, t.specifics(r)...)
}

// InsertBatch writes records into the category table in one transaction.
// Either every row is attempted and committed or nothing is.
func (s *Store) InsertBatch(ctx context.Context, category models.Category, records []models.PersistedRecord) (ingest.BatchResult, error) {
	if len(records) == 0 {
		return ingest.BatchResult{}, nil
	}
	spec, err := tableFor(category)
	if err != nil {
		return ingest.BatchResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ingest.BatchResult{}, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := spec.insertSQL()
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(sql, spec.args(r)...)
	}

	br := tx.SendBatch(ctx, batch)
	var res ingest.BatchResult
	for i := range records {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return ingest.BatchResult{}, fmt.Errorf("insert %s row %d (%s): %w", spec.table, i, records[i].Fingerprint, err)
		}
		if tag.RowsAffected() > 0 {
			res.Inserted++
		} else {
			res.Conflicts++
		}
	}
	if err := br.Close(); err != nil {
		return ingest.BatchResult{}, fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ingest.BatchResult{}, fmt.Errorf("commit batch: %w", err)
	}
	return res, nil
}

// loadRecentSQL unions the comparison fields of every table. Events are
// bounded by start, the undated tables by creation time.
const loadRecentSQL = `
	SELECT id, 'events', title, venue, location, source_url, start_utc, fingerprint
	FROM events WHERE start_utc >= $1
	UNION ALL
	SELECT id, 'restaurants', name, NULL::text, location, source_url, NULL::timestamptz, fingerprint
	FROM restaurants WHERE created_at >= $1
	UNION ALL
	SELECT id, 'restaurant_openings', name, NULL::text, location, source_url, NULL::timestamptz, fingerprint
	FROM restaurant_openings WHERE created_at >= $1
	UNION ALL
	SELECT id, 'playgrounds', name, NULL::text, location, source_url, NULL::timestamptz, fingerprint
	FROM playgrounds WHERE created_at >= $1
	UNION ALL
	SELECT id, 'attractions', name, NULL::text, location, source_url, NULL::timestamptz, fingerprint
	FROM attractions WHERE created_at >= $1`

// LoadRecent returns the stored listings the duplicate index is built from.
func (s *Store) LoadRecent(ctx context.Context, since time.Time) ([]models.ExistingRecord, error) {
	rows, err := s.pool.Query(ctx, loadRecentSQL, since)
	if err != nil {
		return nil, fmt.Errorf("load recent: %w", err)
	}
	defer rows.Close()

	var out []models.ExistingRecord
	for rows.Next() {
		var (
			r                          models.ExistingRecord
			category                   string
			venue, location, sourceURL *string
		)
		if err := rows.Scan(&r.ID, &category, &r.Title, &venue, &location, &sourceURL, &r.StartUTC, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		r.Category = models.Category(category)
		r.Venue = deref(venue)
		r.Location = deref(location)
		r.SourceURL = deref(sourceURL)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountListings reports the stored rows per category.
func (s *Store) CountListings(ctx context.Context) (map[models.Category]int, error) {
	counts := make(map[models.Category]int, len(tables))
	for _, c := range models.Categories {
		spec, _ := tableFor(c)
		var n int
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+spec.table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", spec.table, err)
		}
		counts[c] = n
	}
	return counts, nil
}

// Coverage counts how many stored rows of each category carry the optional
// fields the listing pages rely on.
type Coverage struct {
	Category        models.Category
	Total           int
	WithDescription int
	WithImage       int
	Featured        int
	FromJobs        int
}

func (s *Store) Coverage(ctx context.Context) ([]Coverage, error) {
	out := make([]Coverage, 0, len(tables))
	for _, c := range models.Categories {
		spec, _ := tableFor(c)
		cov := Coverage{Category: c}
		err := s.pool.QueryRow(ctx, `
			SELECT
				count(*),
				count(NULLIF(description, '')),
				count(NULLIF(image_url, '')),
				count(*) FILTER (WHERE is_featured),
				count(source_job_id)
			FROM `+spec.table).Scan(&cov.Total, &cov.WithDescription, &cov.WithImage, &cov.Featured, &cov.FromJobs)
		if err != nil {
			return nil, fmt.Errorf("coverage %s: %w", spec.table, err)
		}
		out = append(out, cov)
	}
	return out, nil
}

const jobCols = `id, name, status, target_url, category, hints, timezone, is_active,
	last_run_at, last_yield_count, created_at, updated_at`

func scanJob(scan func(dest ...any) error) (models.SourceJob, error) {
	var (
		j        models.SourceJob
		status   string
		category string
		hints    []byte
		timezone *string
	)
	err := scan(&j.ID, &j.Name, &status, &j.TargetURL, &category, &hints, &timezone, &j.IsActive,
		&j.LastRunAt, &j.LastYieldCount, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	j.Status = models.JobStatus(status)
	j.Category = models.Category(category)
	j.Timezone = deref(timezone)
	if len(hints) > 0 {
		if err := json.Unmarshal(hints, &j.Hints); err != nil {
			return j, fmt.Errorf("decode hints for %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]models.SourceJob, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+jobCols+" FROM source_jobs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.SourceJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.SourceJob, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+jobCols+" FROM source_jobs WHERE id = $1", id)
	j, err := scanJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ingest.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

// MarkRunning flags a job as in progress. Disabled jobs stay disabled.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE source_jobs SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status <> 'disabled'`, id)
	return err
}

// RecordRun stores the run row and returns the job to idle with its new
// last run time and yield, in one transaction.
func (s *Store) RecordRun(ctx context.Context, run models.JobRun, lastYield int) error {
	runID, err := uuid.Parse(run.RunID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", run.RunID, err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_runs (run_id, job_id, trigger_origin, status, fetched_url, found, new_count,
			duplicates, inserted, errors, details, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO NOTHING`,
		runID, run.JobID, run.Trigger, run.Status, nilIfEmpty(run.FetchedURL), run.Found, run.New,
		run.Duplicates, run.Inserted, run.Errors, nilIfEmpty(run.Details), run.StartedAt, run.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}

	lastRun := run.CompletedAt
	if lastRun == nil {
		lastRun = &run.StartedAt
	}
	if _, err := tx.Exec(ctx, `
		UPDATE source_jobs
		SET status = CASE WHEN status = 'disabled' THEN status ELSE 'idle' END,
		    last_run_at = $2,
		    last_yield_count = $3,
		    updated_at = NOW()
		WHERE id = $1`, run.JobID, lastRun, lastYield,
	); err != nil {
		return fmt.Errorf("update job %s: %w", run.JobID, err)
	}
	return tx.Commit(ctx)
}

// UpsertJob inserts or refreshes a job declaration. Run state is kept.
func (s *Store) UpsertJob(ctx context.Context, j models.SourceJob) error {
	hints, err := json.Marshal(j.Hints)
	if err != nil {
		return fmt.Errorf("encode hints for %s: %w", j.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO source_jobs (id, name, target_url, category, hints, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			target_url = EXCLUDED.target_url,
			category = EXCLUDED.category,
			hints = EXCLUDED.hints,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`,
		j.ID, j.Name, j.TargetURL, string(j.Category), hints, nilIfEmpty(j.Timezone), j.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", j.ID, err)
	}
	return nil
}

// SetJobDisabled moves a job in or out of the disabled state.
func (s *Store) SetJobDisabled(ctx context.Context, id string, disabled bool) error {
	status := models.JobStatusIdle
	if disabled {
		status = models.JobStatusDisabled
	}
	tag, err := s.pool.Exec(ctx, `UPDATE source_jobs SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set job %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrJobNotFound, id)
	}
	return nil
}

// RecentRuns lists the newest runs, optionally for one job.
func (s *Store) RecentRuns(ctx context.Context, jobID string, limit int) ([]models.JobRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id::text, job_id, trigger_origin, status, fetched_url, found, new_count, duplicates,
		       inserted, errors, details, started_at, completed_at
		FROM job_runs
		WHERE ($1::text = '' OR job_id = $1)
		ORDER BY started_at DESC
		LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		var (
			r                   models.JobRun
			fetchedURL, details *string
		)
		if err := rows.Scan(&r.RunID, &r.JobID, &r.Trigger, &r.Status, &fetchedURL, &r.Found, &r.New,
			&r.Duplicates, &r.Inserted, &r.Errors, &details, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FetchedURL = deref(fetchedURL)
		r.Details = deref(details)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func extraString(r models.PersistedRecord, key string) any {
	if v, ok := r.Extra[key].(string); ok && v != "" {
		return v
	}
	return nil
}
