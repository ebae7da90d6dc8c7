package store

import (
	"context"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// JobStore owns the canonical copy of every job. Implementations return
// copies; callers change jobs only through Update.
type JobStore interface {
	Create(ctx context.Context, jobType domain.JobType, input map[string]any) (domain.Job, error)
	// Update merges patch into the job. ok is false when the id is unknown,
	// in which case nothing is stored.
	Update(ctx context.Context, id string, patch domain.JobPatch) (job domain.Job, ok bool, err error)
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	// List returns the most recently created jobs first.
	List(ctx context.Context, limit int) ([]domain.Job, error)
	// ListStuck returns queued or processing jobs created before the cutoff.
	ListStuck(ctx context.Context, createdBefore time.Time) ([]domain.Job, error)
	// Prune deletes completed and failed jobs that finished before the cutoff.
	Prune(ctx context.Context, finishedBefore time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

var (
	_ JobStore = (*MemoryJobStore)(nil)
	_ JobStore = (*PostgresJobStore)(nil)
)
