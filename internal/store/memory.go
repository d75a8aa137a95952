package store

import (
	"context"
	"sync"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// Memory is an in-process store. Each record has its own lock so updates of one job never
// wait on another.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*memoryEntry
}

type memoryEntry struct {
	mu  sync.Mutex
	job models.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*memoryEntry)}
}

// Create inserts a job, failing if the id is already reserved.
func (m *Memory) Create(_ context.Context, job models.Job) (models.Job, error) {
	job, err := prepareCreate(job, now())
	if err != nil {
		return models.Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return models.Job{}, apperrors.AlreadyExists(resource, job.ID)
	}
	m.jobs[job.ID] = &memoryEntry{job: job.Clone()}
	return job, nil
}

// Get returns a copy of the stored job.
func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	e, ok := m.entry(id)
	if !ok {
		return models.Job{}, apperrors.NotFound(resource, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Update applies fn while holding the record lock.
func (m *Memory) Update(_ context.Context, id string, fn Mutation) (models.Job, error) {
	e, ok := m.entry(id)
	if !ok {
		return models.Job{}, apperrors.NotFound(resource, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next, changed, err := apply(e.job, fn, now())
	if err != nil {
		return models.Job{}, err
	}
	if changed {
		e.job = next.Clone()
	}
	return next, nil
}

func (m *Memory) entry(id string) (*memoryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	return e, ok
}

var _ Store = (*Memory)(nil)
