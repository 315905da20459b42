package ingest

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/cityguide/listings-ingest/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// JobFile is the on-disk declaration of source jobs.
type JobFile struct {
	Jobs []models.SourceJob `yaml:"jobs"`
}

// LoadJobs reads job declarations from path, or the embedded default file when
// path is empty. ${VAR} references are expanded from the environment.
func LoadJobs(path string) ([]models.SourceJob, error) {
	if path == "" {
		data, err := sourcesYAML.ReadFile("config/sources.yaml")
		if err != nil {
			return nil, err
		}
		return ParseJobs(data)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs decodes and validates a job file.
func ParseJobs(data []byte) ([]models.SourceJob, error) {
	expanded := os.ExpandEnv(string(data))

	var file JobFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Jobs))
	for i := range file.Jobs {
		job := &file.Jobs[i]
		job.ID = strings.TrimSpace(job.ID)
		if job.ID == "" {
			return nil, fmt.Errorf("job %d: missing id", i)
		}
		if _, dup := seen[job.ID]; dup {
			return nil, fmt.Errorf("job %s: duplicate id", job.ID)
		}
		seen[job.ID] = struct{}{}
		if !job.Category.Valid() {
			return nil, fmt.Errorf("job %s: unknown category %q", job.ID, job.Category)
		}
		job.TargetURL = strings.TrimSpace(job.TargetURL)
		if job.TargetURL == "" && job.IsActive {
			return nil, fmt.Errorf("job %s: missing target_url", job.ID)
		}
		if job.Name == "" {
			job.Name = job.ID
		}
		job.Status = models.JobStatusIdle
	}
	return file.Jobs, nil
}
