package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cityguide/listings-ingest/internal/auth"
	"github.com/cityguide/listings-ingest/internal/ingest"
	"github.com/cityguide/listings-ingest/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Runner is the pipeline surface the trigger endpoints call.
type Runner interface {
	RunJob(ctx context.Context, jobID string, origin ingest.TriggerOrigin) (ingest.RunSummary, error)
	RunEligible(ctx context.Context, origin ingest.TriggerOrigin) (ingest.InvocationSummary, error)
}

// jobToggler is implemented by job stores that can disable a job.
type jobToggler interface {
	SetJobDisabled(ctx context.Context, id string, disabled bool) error
}

// RunLister reads run history.
type RunLister interface {
	RecentRuns(ctx context.Context, jobID string, limit int) ([]models.JobRun, error)
}

type Server struct {
	Pipeline Runner
	Jobs     ingest.JobStore
	Runs     RunLister
	Auth     *auth.AdminAuth
	Echo     *echo.Echo

	// BackgroundTimeout bounds an asynchronous invocation.
	BackgroundTimeout time.Duration

	// Background invocation tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	Trigger   string             `json:"trigger"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(pipeline Runner, jobs ingest.JobStore, runs RunLister, adminAuth *auth.AdminAuth) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret", "X-Trigger-Origin"},
	}))

	s := &Server{
		Pipeline:          pipeline,
		Jobs:              jobs,
		Runs:              runs,
		Auth:              adminAuth,
		Echo:              e,
		BackgroundTimeout: 30 * time.Minute,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	if s.Auth != nil {
		api.Use(s.Auth.Middleware)
	} else {
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
			}
		})
	}
	api.GET("/jobs", s.handleListJobs)
	api.POST("/jobs/:id/disable", s.handleSetDisabled(true))
	api.POST("/jobs/:id/enable", s.handleSetDisabled(false))
	api.GET("/runs", s.handleListRuns)
	api.POST("/ingest/jobs/:id", s.handleRunJob)
	api.POST("/ingest/run", s.handleRunEligible)
	api.GET("/ingest/status/:id", s.handleRunStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListJobs(c echo.Context) error {
	if s.Jobs == nil {
		return missingCredentials(c)
	}
	jobs, err := s.Jobs.ListJobs(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if jobs == nil {
		jobs = []models.SourceJob{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleSetDisabled(disabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		toggler, ok := s.Jobs.(jobToggler)
		if !ok {
			return c.JSON(http.StatusNotImplemented, map[string]string{"error": "job store cannot change job status"})
		}
		id := c.Param("id")
		if err := toggler.SetJobDisabled(c.Request().Context(), id, disabled); err != nil {
			return pipelineError(c, err)
		}
		log.Printf("[API] %s set job %s disabled=%t", auth.SubjectFromContext(c), id, disabled)
		return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "disabled": disabled})
	}
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.Runs == nil {
		return missingCredentials(c)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Runs.RecentRuns(c.Request().Context(), c.QueryParam("job"), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if runs == nil {
		runs = []models.JobRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// handleRunJob runs one job now. Operator triggers always use the interactive tier.
func (s *Server) handleRunJob(c echo.Context) error {
	if s.Pipeline == nil {
		return missingCredentials(c)
	}
	id := c.Param("id")
	log.Printf("[API] %s triggered job %s", auth.SubjectFromContext(c), id)

	sum, err := s.Pipeline.RunJob(c.Request().Context(), id, ingest.TriggerInteractive)
	if err != nil {
		return pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// handleRunEligible runs every eligible job. X-Trigger-Origin selects the
// backoff tier; ?async=true returns at once with a status id.
func (s *Server) handleRunEligible(c echo.Context) error {
	if s.Pipeline == nil {
		return missingCredentials(c)
	}
	origin := ingest.ParseTriggerOrigin(c.Request().Header.Get("X-Trigger-Origin"))
	log.Printf("[API] %s triggered a %s invocation", auth.SubjectFromContext(c), origin)

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		return s.startBackground(c, origin)
	}

	sum, err := s.Pipeline.RunEligible(c.Request().Context(), origin)
	if err != nil {
		return pipelineError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) startBackground(c echo.Context, origin ingest.TriggerOrigin) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		running := s.runningJob.ID
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{"error": "an invocation is already running", "job_id": running})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.BackgroundTimeout)
	job := &backgroundJob{
		ID:        uuid.NewString(),
		Status:    "running",
		Trigger:   string(origin),
		StartedAt: time.Now(),
		Cancel:    cancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer cancel()
		sum, err := s.Pipeline.RunEligible(ctx, origin)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Result = sum
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[API] background invocation %s failed: %v", job.ID, err)
			return
		}
		job.Status = "completed"
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Invocation started",
		"job_id":  job.ID,
		"poll":    "/api/v1/ingest/status/" + job.ID,
	})
}

func (s *Server) handleRunStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"trigger":    job.Trigger,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests and cancels a background invocation.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func pipelineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ingest.ErrJobNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ingest.ErrMissingCredentials):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func missingCredentials(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": ingest.ErrMissingCredentials.Error()})
}
