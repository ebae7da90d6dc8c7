package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/id"
)

// MemoryJobStore keeps jobs in process memory. Nothing survives a restart.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	order []string
	newID func() string
	now   func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[string]domain.Job),
		newID: id.New,
		now:   time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, jobType domain.JobType, input map[string]any) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := domain.NewJob(s.newID(), jobType, input, s.now())
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, id string, patch domain.JobPatch) (domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}

	updated, changed := job.Apply(patch)
	if changed {
		s.jobs[id] = updated
	}
	return updated.Clone(), true, nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return job.Clone(), true, nil
}

func (s *MemoryJobStore) List(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	out := make([]domain.Job, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.jobs[s.order[i]].Clone())
	}
	return out, nil
}

func (s *MemoryJobStore) ListStuck(_ context.Context, createdBefore time.Time) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Job
	for _, jobID := range s.order {
		job := s.jobs[jobID]
		if job.Status.IsTerminal() || !job.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, job.Clone())
	}
	return out, nil
}

func (s *MemoryJobStore) Prune(_ context.Context, finishedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	s.order = slices.DeleteFunc(s.order, func(jobID string) bool {
		job := s.jobs[jobID]
		if !job.Status.IsTerminal() || job.FinishedAt == nil || !job.FinishedAt.Before(finishedBefore) {
			return false
		}
		delete(s.jobs, jobID)
		removed++
		return true
	})
	return removed, nil
}

func (s *MemoryJobStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}
