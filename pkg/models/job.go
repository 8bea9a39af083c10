package models

import (
	"encoding/json"
	"time"
)

// JobType identifies which executor handles a job
type JobType string

// JobType constants
const (
	JobTypeVideoTranscode JobType = "video-transcode"
	JobTypePoseAnalysis   JobType = "pose-analysis"
	JobTypeAIAnalysis     JobType = "ai-analysis"
)

// Valid reports whether t is one of the known job types
func (t JobType) Valid() bool {
	switch t {
	case JobTypeVideoTranscode, JobTypePoseAnalysis, JobTypeAIAnalysis:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

// JobStatus constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusNotFound   JobStatus = "not_found"
)

// Terminal reports whether no further transitions can happen from s
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobPriority constants
const (
	JobPriorityLow     = 0
	JobPriorityDefault = 1
	JobPriorityNormal  = 5
	JobPriorityHigh    = 10
)

// DefaultMaxAttempts is used when a job is submitted without an attempt bound
const DefaultMaxAttempts = 3

// Job represents a unit of asynchronous work tracked by the job queue
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CallbackURL string          `json:"callback_url,omitempty"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
	Result      interface{}     `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a copy of the job that shares no mutable state with j
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SubmitOptions holds optional parameters for job submission
type SubmitOptions struct {
	Priority    int
	MaxAttempts int
	CallbackURL string
}

// TranscodePayload is the payload of a video-transcode job
type TranscodePayload struct {
	InputPath string  `json:"inputPath"`
	Quality   Quality `json:"quality"`
	FrameRate float64 `json:"frameRate,omitempty"`
}

// PoseAnalysisPayload is the payload of pose-analysis and ai-analysis jobs
type PoseAnalysisPayload struct {
	InputPath string       `json:"inputPath"`
	FrameRate float64      `json:"frameRate,omitempty"`
	Config    *ConfigPatch `json:"config,omitempty"`
}
