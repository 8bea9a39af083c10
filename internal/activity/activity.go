// Package activity delivers fire-and-forget structured events about jobs and
// analysis sessions to one or more backends without ever blocking the caller.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
)

// Kind names an activity event
type Kind string

// Kind constants
const (
	JobSubmitted      Kind = "job.submitted"
	JobStarted        Kind = "job.started"
	JobRetrying       Kind = "job.retrying"
	JobCompleted      Kind = "job.completed"
	JobFailed         Kind = "job.failed"
	JobCancelled      Kind = "job.cancelled"
	AnalysisStarted   Kind = "analysis.started"
	AnalysisCompleted Kind = "analysis.completed"
	AnalysisFailed    Kind = "analysis.failed"
)

// Event is a single activity record
type Event struct {
	Kind      Kind                   `json:"kind"`
	JobID     string                 `json:"job_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink accepts activity events. Record must not block or fail.
type Sink interface {
	Record(evt Event)
}

// Backend receives events from a Dispatcher
type Backend interface {
	Name() string
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event
type Nop struct{}

// Record implements Sink
func (Nop) Record(Event) {}

// Dispatcher buffers events and fans them out to backends on a single goroutine.
// Events recorded while the buffer is full are dropped.
type Dispatcher struct {
	events   chan Event
	backends []Backend
	timeout  time.Duration
	logger   *logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its delivery loop
func NewDispatcher(bufferSize int, logger *logging.Logger, backends ...Backend) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	d := &Dispatcher{
		events:   make(chan Event, bufferSize),
		backends: backends,
		timeout:  5 * time.Second,
		logger:   logger.WithComponent("activity"),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Record implements Sink
func (d *Dispatcher) Record(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.RecordActivityDropped("closed")
		return
	}

	select {
	case d.events <- evt:
	default:
		metrics.RecordActivityDropped("buffer")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for evt := range d.events {
		for _, b := range d.backends {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := b.Publish(ctx, evt)
			cancel()

			if err != nil {
				metrics.RecordActivityDropped(b.Name())
				d.logger.WithField("backend", b.Name()).WarnWithErr("failed to deliver activity event", err)
			}
		}
	}
}

// Close stops accepting events and waits for buffered ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	<-d.done
}

// LogBackend writes events to the application log
type LogBackend struct {
	logger *logging.Logger
}

// NewLogBackend creates a backend that logs every event
func NewLogBackend(logger *logging.Logger) *LogBackend {
	return &LogBackend{logger: logger.WithComponent("activity")}
}

// Name implements Backend
func (b *LogBackend) Name() string { return "log" }

// Publish implements Backend
func (b *LogBackend) Publish(_ context.Context, evt Event) error {
	fields := make(map[string]interface{}, len(evt.Fields)+3)
	for k, v := range evt.Fields {
		fields[k] = v
	}
	fields["kind"] = string(evt.Kind)
	if evt.JobID != "" {
		fields["job_id"] = evt.JobID
	}
	if evt.SessionID != "" {
		fields["session_id"] = evt.SessionID
	}

	b.logger.WithFields(fields).Info("activity")
	return nil
}
