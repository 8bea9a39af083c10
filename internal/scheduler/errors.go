package scheduler

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

var (
	// ErrUnknownJobType is returned when no executor is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrJobNotFound is returned when a job id is neither queued nor in history
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already reached a terminal state
	ErrJobFinished = errors.New("job already finished")
	// ErrQueueStopped is returned when submitting to a stopped queue
	ErrQueueStopped = errors.New("queue stopped")
)

// JobExecutionError wraps a failed executor attempt
type JobExecutionError struct {
	JobID   string
	Type    models.JobType
	Attempt int
	Err     error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s (%s) attempt %d failed: %v", e.JobID, e.Type, e.Attempt, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }
