package models

import (
	"time"
)

// JobStatus is the lifecycle state of a source job.
type JobStatus string

const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "running"
	JobStatusDisabled JobStatus = "disabled"
)

// ExtractionHints carries optional selector and keyword hints for a source.
type ExtractionHints struct {
	Strategy    string   `yaml:"strategy,omitempty" json:"strategy,omitempty"` // force a named strategy
	Container   string   `yaml:"container,omitempty" json:"container,omitempty"`
	Title       string   `yaml:"title,omitempty" json:"title,omitempty"`
	Date        string   `yaml:"date,omitempty" json:"date,omitempty"`
	Time        string   `yaml:"time,omitempty" json:"time,omitempty"`
	Venue       string   `yaml:"venue,omitempty" json:"venue,omitempty"`
	Location    string   `yaml:"location,omitempty" json:"location,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Price       string   `yaml:"price,omitempty" json:"price,omitempty"`
	Link        string   `yaml:"link,omitempty" json:"link,omitempty"`
	Image       string   `yaml:"image,omitempty" json:"image,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"` // proper nouns that boost fetch scoring
	UseAI       bool     `yaml:"use_ai,omitempty" json:"use_ai,omitempty"`
	DefaultTime string   `yaml:"default_time,omitempty" json:"default_time,omitempty"` // "19:30"
}

// SourceJob is a configured third-party page the pipeline ingests from.
type SourceJob struct {
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name" json:"name"`
	Status         JobStatus       `yaml:"-" json:"status"`
	TargetURL      string          `yaml:"target_url" json:"target_url"`
	Category       Category        `yaml:"category" json:"category"`
	Hints          ExtractionHints `yaml:"hints,omitempty" json:"hints"`
	Timezone       string          `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	IsActive       bool            `yaml:"is_active" json:"is_active"`
	LastRunAt      *time.Time      `yaml:"-" json:"last_run_at"`
	LastYieldCount int             `yaml:"-" json:"last_yield_count"`
	CreatedAt      time.Time       `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time       `yaml:"-" json:"updated_at"`
}

// Eligible reports whether the job may be considered by the scheduler at all.
func (j SourceJob) Eligible() bool {
	return j.IsActive && j.Status != JobStatusDisabled
}

// JobRun is one recorded execution of a source job.
type JobRun struct {
	RunID       string     `json:"run_id"`
	JobID       string     `json:"job_id"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"` // running, completed, failed, skipped
	FetchedURL  string     `json:"fetched_url,omitempty"`
	Found       int        `json:"found"`
	New         int        `json:"new"`
	Duplicates  int        `json:"duplicates"`
	Inserted    int        `json:"inserted"`
	Errors      int        `json:"errors"`
	Details     string     `json:"details,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
