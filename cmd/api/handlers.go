package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// JobQueue is the job queue surface exposed over HTTP
type JobQueue interface {
	Submit(jobType models.JobType, payload json.RawMessage, opts models.SubmitOptions) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, bool)
	CancelJob(ctx context.Context, jobID string) error
	Stats() (pending, inFlight, workers int)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// API holds the HTTP handlers
type API struct {
	queue    JobQueue
	sessions func() int
	model    func() bool
	checks   map[string]HealthCheck
	logger   *logging.Logger
}

type submitJobRequest struct {
	Type        models.JobType  `json:"type" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Priority    *int            `json:"priority"`
	MaxAttempts int             `json:"maxAttempts" binding:"min=0"`
	CallbackURL string          `json:"callbackUrl" binding:"omitempty,url"`
}

// Submit job endpoint
func (api *API) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + string(req.Type)})
		return
	}

	priority := models.JobPriorityDefault
	if req.Priority != nil {
		priority = *req.Priority
	}

	jobID, err := api.queue.Submit(req.Type, req.Payload, models.SubmitOptions{
		Priority:    priority,
		MaxAttempts: req.MaxAttempts,
		CallbackURL: req.CallbackURL,
	})
	switch {
	case errors.Is(err, scheduler.ErrUnknownJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, scheduler.ErrQueueStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue is shutting down"})
		return
	case err != nil:
		api.logger.ErrorWithErr("Failed to submit job", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"status": models.JobStatusPending,
	})
}

// Get job endpoint
func (api *API) getJob(c *gin.Context) {
	job, ok := api.queue.GetJob(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": models.JobStatusNotFound})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": job.Status,
		"job":    job,
	})
}

// Cancel job endpoint
func (api *API) cancelJob(c *gin.Context) {
	jobID := c.Param("id")

	err := api.queue.CancelJob(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	case errors.Is(err, scheduler.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
		return
	case err != nil:
		api.logger.ErrorWithErr("Failed to cancel job", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job"})
		return
	}

	status := models.JobStatusCancelled
	if job, ok := api.queue.GetJob(c.Request.Context(), jobID); ok {
		status = job.Status
	}
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"status": status,
	})
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	pending, inFlight, workers := api.queue.Stats()
	body := gin.H{
		"status": "healthy",
		"queue": gin.H{
			"pending":  pending,
			"inFlight": inFlight,
			"workers":  workers,
		},
	}
	if api.sessions != nil {
		body["activeSessions"] = api.sessions()
	}
	if api.model != nil {
		body["modelLoaded"] = api.model()
	}

	code := http.StatusOK
	deps := gin.H{}
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			body["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}

	c.JSON(code, body)
}
