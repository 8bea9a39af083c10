package scheduler

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// History retains jobs that reached a terminal state so their status can be polled
type History interface {
	Record(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, bool, error)
}

// MemoryHistory keeps the most recent terminal jobs in memory
type MemoryHistory struct {
	mu    sync.Mutex
	limit int
	jobs  map[string]*models.Job
	order []string
}

// NewMemoryHistory creates a history bounded to limit entries
func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryHistory{
		limit: limit,
		jobs:  make(map[string]*models.Job),
	}
}

// Record implements History
func (h *MemoryHistory) Record(_ context.Context, job *models.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.jobs[job.ID]; !exists {
		h.order = append(h.order, job.ID)
	}
	h.jobs[job.ID] = job.Clone()

	// evict oldest
	for len(h.order) > h.limit {
		delete(h.jobs, h.order[0])
		h.order = h.order[1:]
	}
	return nil
}

// Get implements History
func (h *MemoryHistory) Get(_ context.Context, jobID string) (*models.Job, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.jobs[jobID]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

// Len returns the number of retained jobs
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}
