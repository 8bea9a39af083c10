package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/activity"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Executor runs one attempt of a job. The returned value is stored as the job result.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (interface{}, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *models.Job) (interface{}, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, job *models.Job) (interface{}, error) {
	return f(ctx, job)
}

// Notifier is told about every job that reaches a terminal state. It must not block.
type Notifier interface {
	Notify(job *models.Job)
}

// Option configures a Queue
type Option func(*Queue)

// WithHistory sets the store for terminal jobs
func WithHistory(h History) Option {
	return func(q *Queue) { q.history = h }
}

// WithNotifier sets the terminal state notifier
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithActivitySink sets the activity event sink
func WithActivitySink(s activity.Sink) Option {
	return func(q *Queue) { q.sink = s }
}

// WithExecutor registers the executor for a job type
func WithExecutor(jobType models.JobType, e Executor) Option {
	return func(q *Queue) { q.executors[jobType] = e }
}

// entry is a job owned by the queue, either waiting or in flight
type entry struct {
	job             *models.Job
	seq             uint64
	item            *QueueItem // non-nil while in the heap
	timer           *time.Timer
	cancel          context.CancelFunc
	cancelRequested bool
}

// Queue is an in-memory priority job queue with a fixed worker budget.
// Dispatch runs on submission, on completion and when a retry delay elapses.
type Queue struct {
	mu        sync.Mutex
	pending   PriorityQueue
	jobs      map[string]*entry
	executors map[models.JobType]Executor
	seq       uint64
	inFlight  int
	started   bool
	stopped   bool

	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	maxBackoff   time.Duration

	history  History
	notifier Notifier
	sink     activity.Sink
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a job queue. Jobs are accepted immediately but not dispatched until Start.
func NewQueue(cfg config.QueueConfig, logger *logging.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		jobs:         make(map[string]*entry),
		executors:    make(map[models.JobType]Executor),
		workers:      cfg.Workers,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
		maxBackoff:   cfg.MaxBackoff,
		sink:         activity.Nop{},
		logger:       logger.WithComponent("scheduler"),
		ctx:          ctx,
		cancel:       cancel,
	}
	if q.workers <= 0 {
		q.workers = 3
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = models.DefaultMaxAttempts
	}

	for _, opt := range opts {
		opt(q)
	}
	if q.history == nil {
		q.history = NewMemoryHistory(cfg.HistorySize)
	}

	heap.Init(&q.pending)
	return q
}

// Register sets the executor for a job type
func (q *Queue) Register(jobType models.JobType, e Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executors[jobType] = e
}

// Start begins dispatching jobs
func (q *Queue) Start() {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()

	q.logger.WithField("workers", q.workers).Info("job queue started")
	q.dispatch()
}

// Stop stops dispatching, cancels in-flight jobs and waits for their executors to return.
// Jobs still pending are cancelled and recorded.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	var dropped []*models.Job
	for _, e := range q.jobs {
		if e.job.Status != models.JobStatusPending {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.item = nil
		q.markTerminal(e.job, models.JobStatusCancelled, ErrQueueStopped)
		dropped = append(dropped, e.job.Clone())
	}
	q.pending = q.pending[:0]
	q.updateMetrics()
	q.mu.Unlock()

	q.cancel()
	for _, job := range dropped {
		q.finalize(job)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.WithField("dropped", len(dropped)).Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight jobs: %w", ctx.Err())
	}
}

// AddJob submits a job with the given priority and default options.
// payload is marshaled to JSON unless it already is a json.RawMessage.
func (q *Queue) AddJob(jobType models.JobType, payload interface{}, priority int) (string, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = b
	}
	return q.Submit(jobType, raw, models.SubmitOptions{Priority: priority})
}

// Submit enqueues a job at pending and triggers dispatch. It never blocks on execution.
func (q *Queue) Submit(jobType models.JobType, payload json.RawMessage, opts models.SubmitOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		Status:      models.JobStatusPending,
		MaxAttempts: maxAttempts,
		CallbackURL: opts.CallbackURL,
		CreatedAt:   time.Now().UTC(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	if _, ok := q.executors[jobType]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	q.seq++
	e := &entry{job: job, seq: q.seq}
	q.jobs[job.ID] = e
	q.push(e)
	q.mu.Unlock()

	metrics.RecordJobCreated(string(jobType))
	q.logger.LogJobEvent(job.ID, "submitted", string(job.Status), map[string]interface{}{
		"type":     jobType,
		"priority": job.Priority,
	})
	q.sink.Record(activity.Event{
		Kind:   activity.JobSubmitted,
		JobID:  job.ID,
		Fields: map[string]interface{}{"type": jobType, "priority": job.Priority},
	})

	q.dispatch()
	return job.ID, nil
}

// GetJobStatus reports the status of a job. Queued jobs report pending or processing,
// finished jobs report their terminal status while they remain in history.
func (q *Queue) GetJobStatus(ctx context.Context, jobID string) models.JobStatus {
	job, ok := q.GetJob(ctx, jobID)
	if !ok {
		return models.JobStatusNotFound
	}
	return job.Status
}

// GetJob returns a snapshot of a queued or recently finished job
func (q *Queue) GetJob(ctx context.Context, jobID string) (*models.Job, bool) {
	q.mu.Lock()
	if e, ok := q.jobs[jobID]; ok {
		job := e.job.Clone()
		q.mu.Unlock()
		return job, true
	}
	q.mu.Unlock()

	job, ok, err := q.history.Get(ctx, jobID)
	if err != nil {
		q.logger.WithJobID(jobID).WarnWithErr("failed to read job history", err)
		return nil, false
	}
	return job, ok
}

// CancelJob removes a pending job or signals an in-flight job's executor to stop
func (q *Queue) CancelJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	e, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		if _, found, _ := q.history.Get(ctx, jobID); found {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}

	if e.job.Status.Terminal() {
		q.mu.Unlock()
		return ErrJobFinished
	}

	if e.job.Status == models.JobStatusProcessing {
		e.cancelRequested = true
		e.cancel()
		q.mu.Unlock()
		q.logger.WithJobID(jobID).Info("cancellation requested for running job")
		return nil
	}

	if e.item != nil {
		heap.Remove(&q.pending, e.item.Index)
		e.item = nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	q.markTerminal(e.job, models.JobStatusCancelled, nil)
	job := e.job.Clone()
	q.updateMetrics()
	q.mu.Unlock()

	q.finalize(job)
	return nil
}

// Stats reports the current queue occupancy. Jobs waiting out a retry delay are not counted as pending.
func (q *Queue) Stats() (pending, inFlight, workers int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len(), q.inFlight, q.workers
}

// push adds e to the heap. Caller holds q.mu.
func (q *Queue) push(e *entry) {
	e.item = &QueueItem{Job: e.job, Priority: e.job.Priority, Seq: e.seq}
	heap.Push(&q.pending, e.item)
	q.updateMetrics()
}

// dispatch starts the highest-priority pending jobs until the worker budget is exhausted
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.stopped {
		return
	}

	for q.inFlight < q.workers && q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*QueueItem)
		e := q.jobs[item.Job.ID]
		e.item = nil

		now := time.Now().UTC()
		e.job.Status = models.JobStatusProcessing
		e.job.Attempts++
		e.job.StartedAt = &now

		ctx, cancel := context.WithCancel(q.ctx)
		e.cancel = cancel
		q.inFlight++

		exec := q.executors[e.job.Type]
		snapshot := e.job.Clone()

		q.wg.Add(1)
		go q.run(ctx, e, exec, snapshot)
	}
	q.updateMetrics()
}

func (q *Queue) run(ctx context.Context, e *entry, exec Executor, job *models.Job) {
	defer q.wg.Done()

	span, ctx := tracing.StartSpan(ctx, "scheduler.job")
	tracing.SetTag(span, "job.id", job.ID)
	tracing.SetTag(span, "job.type", string(job.Type))
	tracing.SetTag(span, "job.attempt", job.Attempts)

	log := q.logger.WithJobID(job.ID)
	log.LogJobEvent(job.ID, "started", string(job.Status), map[string]interface{}{
		"type":    job.Type,
		"attempt": job.Attempts,
	})
	q.sink.Record(activity.Event{
		Kind:   activity.JobStarted,
		JobID:  job.ID,
		Fields: map[string]interface{}{"type": job.Type, "attempt": job.Attempts},
	})

	result, err := execute(ctx, exec, job)
	if err != nil {
		err = &JobExecutionError{JobID: job.ID, Type: job.Type, Attempt: job.Attempts, Err: err}
		tracing.LogError(span, err)
	}
	tracing.FinishSpan(span)

	terminal := q.complete(e, result, err)
	q.dispatch()
	if terminal != nil {
		q.finalize(terminal)
	}
}

func execute(ctx context.Context, exec Executor, job *models.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, job)
}

// complete applies the outcome of one attempt and returns a snapshot of the job if it is now terminal
func (q *Queue) complete(e *entry, result interface{}, err error) *models.Job {
	q.mu.Lock()

	q.inFlight--
	e.cancel()
	e.cancel = nil
	job := e.job
	jobType := string(job.Type)

	switch {
	case err == nil:
		metrics.RecordJobAttempt(jobType, "success")
		job.Result = result
		q.markTerminal(job, models.JobStatusCompleted, nil)

	case e.cancelRequested || q.stopped:
		metrics.RecordJobAttempt(jobType, "cancelled")
		q.markTerminal(job, models.JobStatusCancelled, err)

	case job.Attempts < job.MaxAttempts:
		metrics.RecordJobAttempt(jobType, "retry")
		job.Status = models.JobStatusPending
		job.ErrorMsg = err.Error()
		delay := q.backoff(job.Attempts)
		if delay <= 0 {
			q.push(e)
		} else {
			id := job.ID
			e.timer = time.AfterFunc(delay, func() { q.requeue(id) })
		}
		snapshot := job.Clone()
		q.updateMetrics()
		q.mu.Unlock()

		q.logger.WithJobID(snapshot.ID).WithError(err).WithField("retry_in", delay.String()).Warn("job attempt failed, retrying")
		q.sink.Record(activity.Event{
			Kind:   activity.JobRetrying,
			JobID:  snapshot.ID,
			Fields: map[string]interface{}{"attempt": snapshot.Attempts, "error": snapshot.ErrorMsg},
		})
		return nil

	default:
		metrics.RecordJobAttempt(jobType, "failed")
		q.markTerminal(job, models.JobStatusFailed, err)
	}

	snapshot := job.Clone()
	q.updateMetrics()
	q.mu.Unlock()
	return snapshot
}

// requeue moves a job whose retry delay elapsed back into the heap
func (q *Queue) requeue(jobID string) {
	q.mu.Lock()
	e, ok := q.jobs[jobID]
	if !ok || q.stopped || e.timer == nil {
		q.mu.Unlock()
		return
	}
	e.timer = nil
	q.push(e)
	q.mu.Unlock()

	q.dispatch()
}

// backoff returns the delay before the retry that follows the given attempt
func (q *Queue) backoff(attempt int) time.Duration {
	if q.retryBackoff <= 0 {
		return 0
	}

	d := q.retryBackoff
	for i := 1; i < attempt && i < 32; i++ {
		d *= 2
		if q.maxBackoff > 0 && d >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	if q.maxBackoff > 0 && d > q.maxBackoff {
		return q.maxBackoff
	}
	return d
}

// markTerminal sets the final fields on job. Caller holds q.mu.
func (q *Queue) markTerminal(job *models.Job, status models.JobStatus, err error) {
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if err != nil {
		job.ErrorMsg = err.Error()
	}
}

// finalize records a terminal job outside the queue lock, then drops it from the table.
// The job stays visible in the table until history has it.
func (q *Queue) finalize(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.history.Record(ctx, job); err != nil {
		q.logger.WithJobID(job.ID).WarnWithErr("failed to record job history", err)
	}

	q.mu.Lock()
	delete(q.jobs, job.ID)
	q.mu.Unlock()

	details := map[string]interface{}{
		"type":     job.Type,
		"attempts": job.Attempts,
	}
	kind := activity.JobCompleted
	switch job.Status {
	case models.JobStatusFailed:
		kind = activity.JobFailed
		details["error"] = job.ErrorMsg
		q.logger.WithJobID(job.ID).Errorf("job failed after %d attempts: %s", job.Attempts, job.ErrorMsg)
	case models.JobStatusCancelled:
		kind = activity.JobCancelled
	}
	q.logger.LogJobEvent(job.ID, "finished", string(job.Status), details)
	q.sink.Record(activity.Event{Kind: kind, JobID: job.ID, Fields: details})

	metrics.RecordJobCompleted(string(job.Type), string(job.Status), time.Since(job.CreatedAt).Seconds())

	if q.notifier != nil {
		q.notifier.Notify(job)
	}
}

// updateMetrics publishes queue gauges. Caller holds q.mu.
func (q *Queue) updateMetrics() {
	metrics.UpdateJobMetrics(q.inFlight, q.pending.Len())
}
