package models

import "time"

// Webhook event names
const (
	WebhookEventJobCompleted = "job.completed"
	WebhookEventJobFailed    = "job.failed"
	WebhookEventJobCancelled = "job.cancelled"
)

// WebhookEvent is the body POSTed to a job's callback URL
type WebhookEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      *Job      `json:"data"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusRetrying  = "retrying"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookDelivery records the outcome of delivering one event
type WebhookDelivery struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	Event        string     `json:"event"`
	URL          string     `json:"url"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code,omitempty"`
	ResponseBody string     `json:"response_body,omitempty"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// WebhookEventForStatus maps a terminal job status to its event name
func WebhookEventForStatus(s JobStatus) string {
	switch s {
	case JobStatusFailed:
		return WebhookEventJobFailed
	case JobStatusCancelled:
		return WebhookEventJobCancelled
	default:
		return WebhookEventJobCompleted
	}
}
