package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cityguide/listings-ingest/internal/cache"
	"github.com/cityguide/listings-ingest/internal/models"
)

// TriggerOrigin selects the backoff tier.
type TriggerOrigin string

const (
	TriggerInteractive TriggerOrigin = "interactive"
	TriggerScheduled   TriggerOrigin = "scheduled"
)

// ParseTriggerOrigin maps free text to an origin, defaulting to interactive.
func ParseTriggerOrigin(s string) TriggerOrigin {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduled", "schedule", "cron", "background":
		return TriggerScheduled
	default:
		return TriggerInteractive
	}
}

// SchedulerPolicy holds the cooldowns. Interactive applies to operator
// triggers. Scheduled triggers wait Minimum, or Productive when the previous
// run found new records.
type SchedulerPolicy struct {
	Interactive time.Duration
	Minimum     time.Duration
	Productive  time.Duration
	// StaleRunning is how long a job may sit in running before it is
	// assumed to have died mid-run.
	StaleRunning time.Duration
}

func DefaultSchedulerPolicy() SchedulerPolicy {
	return SchedulerPolicy{
		Interactive:  5 * time.Minute,
		Minimum:      10 * time.Minute,
		Productive:   6 * time.Hour,
		StaleRunning: time.Hour,
	}
}

type SkipDecision struct {
	Skip   bool
	Reason string
}

// JobScheduler decides whether a job may run now. Each decision to run is
// recorded as a claim in Claims, so a quick second trigger is skipped even
// before the run itself updates the job row.
type JobScheduler struct {
	Policy SchedulerPolicy
	Claims cache.Store
	Now    func() time.Time
}

func NewJobScheduler(policy SchedulerPolicy, claims cache.Store) *JobScheduler {
	if claims == nil {
		claims = cache.NewMemory(1000, policy.longest())
	}
	return &JobScheduler{Policy: policy, Claims: claims, Now: time.Now}
}

func (p SchedulerPolicy) longest() time.Duration {
	return max(p.Interactive, p.Minimum, p.Productive, time.Minute)
}

// shortest is the smallest cooldown of any tier. A run lock held that long
// covers every trigger that the recency check would also turn away.
func (p SchedulerPolicy) shortest() time.Duration {
	return min(p.Interactive, p.Minimum)
}

func claimKey(jobID string) string { return "sched:claim:" + jobID }

func lockKey(jobID string) string { return "sched:lock:" + jobID }

// ShouldSkip applies the backoff policy to job for a trigger of origin.
func (s *JobScheduler) ShouldSkip(ctx context.Context, job models.SourceJob, origin TriggerOrigin) SkipDecision {
	now := s.now()

	if !job.Eligible() {
		return SkipDecision{Skip: true, Reason: "job is disabled"}
	}
	if job.Status == models.JobStatusRunning {
		stale := s.Policy.StaleRunning > 0 && !job.UpdatedAt.IsZero() && now.Sub(job.UpdatedAt) > s.Policy.StaleRunning
		if !stale {
			return SkipDecision{Skip: true, Reason: "job is already running"}
		}
		log.Printf("[Scheduler] job %s has been running since %s, treating as stale", job.ID, job.UpdatedAt.Format(time.RFC3339))
	}

	last := s.lastRun(ctx, job)
	if !last.IsZero() {
		since := now.Sub(last)
		if since < 0 {
			since = 0
		}
		ago := since.Round(time.Second)

		switch origin {
		case TriggerScheduled:
			if job.LastYieldCount > 0 && since < s.Policy.Productive {
				return SkipDecision{Skip: true, Reason: fmt.Sprintf(
					"last run %s ago found %d new records; productive cooldown is %s", ago, job.LastYieldCount, s.Policy.Productive)}
			}
			if since < s.Policy.Minimum {
				return SkipDecision{Skip: true, Reason: fmt.Sprintf(
					"last run %s ago; minimum cooldown is %s", ago, s.Policy.Minimum)}
			}
		default:
			if since < s.Policy.Interactive {
				return SkipDecision{Skip: true, Reason: fmt.Sprintf(
					"last run %s ago; interactive cooldown is %s", ago, s.Policy.Interactive)}
			}
		}
	}

	if s.Claims != nil {
		stamp := now.UTC().Format(time.RFC3339Nano)
		if hold := s.Policy.shortest(); hold > 0 {
			won, err := s.Claims.Claim(ctx, lockKey(job.ID), stamp, hold)
			switch {
			case err != nil:
				log.Printf("[Scheduler] job %s: taking run lock: %v", job.ID, err)
			case !won:
				return SkipDecision{Skip: true, Reason: "another trigger claimed this job moments ago"}
			}
		}
		if err := s.Claims.Set(ctx, claimKey(job.ID), stamp, s.Policy.longest()); err != nil {
			log.Printf("[Scheduler] job %s: recording claim: %v", job.ID, err)
		}
	}
	return SkipDecision{}
}

// lastRun is the later of the stored last run and any recorded claim.
func (s *JobScheduler) lastRun(ctx context.Context, job models.SourceJob) time.Time {
	var last time.Time
	if job.LastRunAt != nil {
		last = *job.LastRunAt
	}
	if s.Claims == nil {
		return last
	}
	v, ok, err := s.Claims.Get(ctx, claimKey(job.ID))
	if err != nil {
		log.Printf("[Scheduler] job %s: reading claim: %v", job.ID, err)
		return last
	}
	if !ok {
		return last
	}
	claimed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return last
	}
	if claimed.After(last) {
		return claimed
	}
	return last
}

func (s *JobScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
