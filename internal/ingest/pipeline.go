package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/cache"
	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/google/uuid"
)

// Duplicate rules the orchestrator adds on top of the fingerprint engine.
const (
	RuleBatch           DuplicateRule = "batch"
	RuleInvocationSeen  DuplicateRule = "invocation_seen"
	RuleStorageConflict DuplicateRule = "storage_conflict"
)

// RunSummary is the outcome of one job run.
type RunSummary struct {
	JobID          string                `json:"job_id"`
	RunID          string                `json:"run_id,omitempty"`
	Trigger        TriggerOrigin         `json:"trigger"`
	Skipped        bool                  `json:"skipped"`
	SkipReason     string                `json:"skip_reason,omitempty"`
	FetchedURL     string                `json:"fetched_url,omitempty"`
	Strategy       string                `json:"strategy,omitempty"`
	Found          int                   `json:"found"`
	Invalid        int                   `json:"invalid"`
	New            int                   `json:"new"`
	Duplicates     int                   `json:"duplicates"`
	DuplicateRules map[DuplicateRule]int `json:"duplicate_rules,omitempty"`
	Inserted       int                   `json:"inserted"`
	Errors         int                   `json:"errors"`
	Err            string                `json:"error,omitempty"`
	Duration       time.Duration         `json:"duration_ns"`
}

func (s *RunSummary) addDuplicate(rule DuplicateRule, n int) {
	if n <= 0 {
		return
	}
	if s.DuplicateRules == nil {
		s.DuplicateRules = make(map[DuplicateRule]int)
	}
	s.DuplicateRules[rule] += n
	s.Duplicates += n
}

// InvocationSummary aggregates the job runs of one invocation.
type InvocationSummary struct {
	Trigger     TriggerOrigin `json:"trigger"`
	IndexSize   int           `json:"index_size"`
	Jobs        []RunSummary  `json:"jobs"`
	Ran         int           `json:"ran"`
	Skipped     int           `json:"skipped"`
	Found       int           `json:"found"`
	New         int           `json:"new"`
	Duplicates  int           `json:"duplicates"`
	Inserted    int           `json:"inserted"`
	Errors      int           `json:"errors"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

func (s *InvocationSummary) add(r RunSummary) {
	s.Jobs = append(s.Jobs, r)
	if r.Skipped {
		s.Skipped++
		return
	}
	s.Ran++
	s.Found += r.Found
	s.New += r.New
	s.Duplicates += r.Duplicates
	s.Inserted += r.Inserted
	s.Errors += r.Errors
}

// RunContext carries the per-invocation state through a run. It replaces any
// process-wide dedup state: two invocations never share a RunContext.
type RunContext struct {
	Trigger TriggerOrigin
	Index   *ExistingRecordIndex
	// Seen holds fingerprints handed to storage during this invocation.
	Seen cache.Store
}

// Pipeline runs source jobs end to end: fetch, extract, normalize, filter,
// dedup, transform and persist.
type Pipeline struct {
	Jobs        JobStore
	Records     RecordStore
	Fetcher     *SourceFetcher
	Registry    *Registry
	Normalizer  *DateTimeNormalizer
	Engine      *FingerprintEngine
	Scheduler   *JobScheduler
	Transformer *Transformer

	BatchSize    int
	Lookback     time.Duration
	WriteTimeout time.Duration
	// SeenStore, when set, is shared across invocations. Otherwise each
	// invocation gets its own bounded memory store.
	SeenStore cache.Store
	SeenTTL   time.Duration
}

// NewPipeline wires a pipeline with default batch size, lookback and timeouts.
func NewPipeline(jobs JobStore, records RecordStore, fetcher *SourceFetcher, registry *Registry,
	normalizer *DateTimeNormalizer, scheduler *JobScheduler, transformer *Transformer) *Pipeline {
	if normalizer == nil {
		normalizer = NewDateTimeNormalizer("")
	}
	return &Pipeline{
		Jobs:         jobs,
		Records:      records,
		Fetcher:      fetcher,
		Registry:     registry,
		Normalizer:   normalizer,
		Engine:       NewFingerprintEngine(),
		Scheduler:    scheduler,
		Transformer:  transformer,
		BatchSize:    25,
		Lookback:     60 * 24 * time.Hour,
		WriteTimeout: 30 * time.Second,
		SeenTTL:      24 * time.Hour,
	}
}

func (p *Pipeline) validate() error {
	var missing []string
	if p.Jobs == nil {
		missing = append(missing, "job store")
	}
	if p.Records == nil {
		missing = append(missing, "record store")
	}
	if p.Fetcher == nil || p.Fetcher.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if p.Registry == nil {
		missing = append(missing, "strategy registry")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// NewRunContext loads the existing-record index once for an invocation.
func (p *Pipeline) NewRunContext(ctx context.Context, origin TriggerOrigin) (*RunContext, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = 60 * 24 * time.Hour
	}
	since := p.normalizer().now().Add(-lookback)
	recent, err := p.Records.LoadRecent(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load existing records: %w", err)
	}

	seen := p.SeenStore
	if seen == nil {
		seen = cache.NewMemory(50000, p.SeenTTL)
	}
	idx := NewExistingRecordIndex(recent, p.normalizer().DefaultTimezone)
	log.Printf("[Pipeline] loaded %d existing records since %s", idx.Len(), since.Format("2006-01-02"))
	return &RunContext{Trigger: origin, Index: idx, Seen: seen}, nil
}

// RunEligible runs every configured job the scheduler lets through, in order.
func (p *Pipeline) RunEligible(ctx context.Context, origin TriggerOrigin) (InvocationSummary, error) {
	sum := InvocationSummary{Trigger: origin, StartedAt: time.Now()}

	rc, err := p.NewRunContext(ctx, origin)
	if err != nil {
		return sum, err
	}
	sum.IndexSize = rc.Index.Len()

	jobs, err := p.Jobs.ListJobs(ctx)
	if err != nil {
		return sum, fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			log.Printf("[Pipeline] invocation cancelled, %d jobs not started", len(jobs)-len(sum.Jobs))
			break
		}
		sum.add(p.runScheduled(ctx, job, rc))
	}

	sum.CompletedAt = time.Now()
	log.Printf("[Pipeline] invocation done: ran=%d skipped=%d found=%d inserted=%d duplicates=%d errors=%d",
		sum.Ran, sum.Skipped, sum.Found, sum.Inserted, sum.Duplicates, sum.Errors)
	return sum, nil
}

// RunJob runs one job by id through the scheduler.
func (p *Pipeline) RunJob(ctx context.Context, jobID string, origin TriggerOrigin) (RunSummary, error) {
	if err := p.validate(); err != nil {
		return RunSummary{JobID: jobID, Trigger: origin}, err
	}
	job, err := p.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return RunSummary{JobID: jobID, Trigger: origin}, err
	}
	rc, err := p.NewRunContext(ctx, origin)
	if err != nil {
		return RunSummary{JobID: jobID, Trigger: origin}, err
	}
	return p.runScheduled(ctx, *job, rc), nil
}

func (p *Pipeline) runScheduled(ctx context.Context, job models.SourceJob, rc *RunContext) RunSummary {
	if p.Scheduler != nil {
		if d := p.Scheduler.ShouldSkip(ctx, job, rc.Trigger); d.Skip {
			log.Printf("[job:%s] skipped: %s", job.ID, d.Reason)
			return RunSummary{JobID: job.ID, Trigger: rc.Trigger, Skipped: true, SkipReason: d.Reason}
		}
	}
	return p.Run(ctx, job, rc)
}

// Run executes one job: fetch, extract, process and record the run. It does
// not consult the scheduler.
func (p *Pipeline) Run(ctx context.Context, job models.SourceJob, rc *RunContext) RunSummary {
	start := time.Now()
	sum := RunSummary{JobID: job.ID, RunID: uuid.NewString(), Trigger: rc.Trigger}

	if err := p.Jobs.MarkRunning(ctx, job.ID); err != nil {
		log.Printf("[job:%s] mark running: %v", job.ID, err)
	}

	defer func() {
		sum.Duration = time.Since(start)
		p.recordRun(ctx, job, sum, start)
	}()

	log.Printf("[job:%s] fetching %s (%s)", job.ID, job.TargetURL, job.Category)
	res, err := p.Fetcher.FetchBest(ctx, job)
	if err != nil {
		log.Printf("[job:%s] fetch failed: %v", job.ID, err)
		sum.Err = err.Error()
		return sum
	}
	sum.FetchedURL = res.URL

	candidates, strategy := p.Registry.Extract(ctx, res.Page(), job)
	sum.Strategy = strategy
	log.Printf("[job:%s] %s extracted %d candidates from %s", job.ID, strategy, len(candidates), res.URL)

	processed := p.Process(ctx, job, candidates, rc)
	processed.RunID = sum.RunID
	processed.FetchedURL = sum.FetchedURL
	processed.Strategy = sum.Strategy
	sum = processed
	return sum
}

// Process takes extracted candidates through normalization, filtering, dedup,
// transform and batched persistence. Candidates keep their extraction order.
func (p *Pipeline) Process(ctx context.Context, job models.SourceJob, candidates []CandidateRecord, rc *RunContext) RunSummary {
	sum := RunSummary{JobID: job.ID, Trigger: rc.Trigger, Found: len(candidates)}
	norm := p.normalizer()
	engine := p.engine()

	valid := make([]CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.Category == "" {
			c.Category = job.Category
		}
		if err := p.normalize(norm, job, &c); err != nil {
			sum.Invalid++
			if !errors.Is(err, ErrUnparseableDate) {
				log.Printf("[job:%s] dropped %q: %v", job.ID, c.Title, err)
			}
			continue
		}
		c.Fingerprint = engine.Fingerprint(c)
		valid = append(valid, c)
	}

	unique, dropped := engine.DedupBatch(valid)
	sum.addDuplicate(RuleBatch, dropped)

	fresh := make([]CandidateRecord, 0, len(unique))
	for _, c := range unique {
		if res := engine.IsDuplicate(c, rc.Index); res.Duplicate {
			sum.addDuplicate(res.Rule, 1)
			continue
		}
		if rc.Seen != nil {
			if _, ok, err := rc.Seen.Get(ctx, seenKey(c.Fingerprint)); err != nil {
				log.Printf("[job:%s] seen store: %v", job.ID, err)
			} else if ok {
				sum.addDuplicate(RuleInvocationSeen, 1)
				continue
			}
		}
		fresh = append(fresh, c)
	}
	sum.New = len(fresh)

	records := make([]models.PersistedRecord, 0, len(fresh))
	for _, c := range fresh {
		records = append(records, p.transform(ctx, job, c))
	}
	p.persist(ctx, job, records, rc, &sum)

	log.Printf("[job:%s] found=%d invalid=%d new=%d duplicates=%d inserted=%d errors=%d",
		job.ID, sum.Found, sum.Invalid, sum.New, sum.Duplicates, sum.Inserted, sum.Errors)
	return sum
}

// normalize parses the candidate date and applies the window and season
// filters. Undated categories pass through.
func (p *Pipeline) normalize(norm *DateTimeNormalizer, job models.SourceJob, c *CandidateRecord) error {
	if !c.Category.Dated() {
		return nil
	}
	if c.Start == nil {
		if strings.TrimSpace(c.DateText) == "" {
			return fmt.Errorf("%w: no date", ErrUnparseableDate)
		}
		dt, err := norm.ParseWithDefault(c.DateText, job.Timezone, job.Hints.DefaultTime)
		if err != nil {
			return err
		}
		c.Start = &dt
	}
	if err := norm.CheckWindow(*c.Start); err != nil {
		return err
	}
	return norm.CheckSeason(*c.Start, c.Season)
}

func (p *Pipeline) transform(ctx context.Context, job models.SourceJob, c CandidateRecord) models.PersistedRecord {
	if p.Transformer == nil {
		return NewTransformer("", "", nil).Transform(ctx, job, c)
	}
	return p.Transformer.Transform(ctx, job, c)
}

// persist writes records in fixed-size batches. A failed batch counts its
// records as errors and the next batch still runs. Once ctx is done no new
// batch starts, but a batch that started finishes on a detached context.
func (p *Pipeline) persist(ctx context.Context, job models.SourceJob, records []models.PersistedRecord, rc *RunContext, sum *RunSummary) {
	size := p.BatchSize
	if size <= 0 {
		size = 25
	}
	for start := 0; start < len(records); start += size {
		if ctx.Err() != nil {
			remaining := len(records) - start
			log.Printf("[job:%s] cancelled before writing %d records", job.ID, remaining)
			sum.Errors += remaining
			return
		}
		end := min(start+size, len(records))
		batch := records[start:end]

		res, err := p.writeBatch(ctx, job.Category, batch)
		if err != nil {
			log.Printf("[job:%s] batch %d-%d failed: %v", job.ID, start, end, err)
			sum.Errors += len(batch)
			continue
		}
		sum.Inserted += res.Inserted
		sum.addDuplicate(RuleStorageConflict, res.Conflicts)

		if rc.Seen != nil {
			for _, rec := range batch {
				if err := rc.Seen.Set(context.WithoutCancel(ctx), seenKey(rec.Fingerprint), rec.ID.String(), p.SeenTTL); err != nil {
					log.Printf("[job:%s] seen store: %v", job.ID, err)
					break
				}
			}
		}
	}
}

func (p *Pipeline) writeBatch(ctx context.Context, category models.Category, batch []models.PersistedRecord) (BatchResult, error) {
	timeout := p.WriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return p.Records.InsertBatch(wctx, category, batch)
}

func (p *Pipeline) recordRun(ctx context.Context, job models.SourceJob, sum RunSummary, started time.Time) {
	completed := time.Now()
	status := "completed"
	switch {
	case sum.Err != "":
		status = "failed"
	case sum.Errors > 0 && sum.Inserted == 0:
		status = "failed"
	}

	details := sum.Err
	if details == "" && sum.Strategy != "" {
		details = fmt.Sprintf("strategy=%s invalid=%d", sum.Strategy, sum.Invalid)
	}

	run := models.JobRun{
		RunID:       sum.RunID,
		JobID:       job.ID,
		Trigger:     string(sum.Trigger),
		Status:      status,
		FetchedURL:  sum.FetchedURL,
		Found:       sum.Found,
		New:         sum.New,
		Duplicates:  sum.Duplicates,
		Inserted:    sum.Inserted,
		Errors:      sum.Errors,
		Details:     details,
		StartedAt:   started,
		CompletedAt: &completed,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.Jobs.RecordRun(wctx, run, sum.Inserted); err != nil {
		log.Printf("[job:%s] record run: %v", job.ID, err)
	}
}

// normalizer and engine never write the fields; a Pipeline is shared by
// concurrent invocations.
func (p *Pipeline) normalizer() *DateTimeNormalizer {
	if p.Normalizer == nil {
		return NewDateTimeNormalizer("")
	}
	return p.Normalizer
}

func (p *Pipeline) engine() *FingerprintEngine {
	if p.Engine == nil {
		return NewFingerprintEngine()
	}
	return p.Engine
}

func seenKey(fp string) string { return "seen:" + fp }
