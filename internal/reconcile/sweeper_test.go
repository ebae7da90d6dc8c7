package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
)

func TestSweepExpiresStuckAndPrunesFinished(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()

	queued, _ := jobStore.Create(ctx, domain.JobTypeInpaint, nil)
	processing, _ := jobStore.Create(ctx, domain.JobTypeStyle, nil)
	_, _, _ = jobStore.Update(ctx, processing.ID, domain.Dispatched("pred-1", time.Now()))
	done, _ := jobStore.Create(ctx, domain.JobTypeEnhance, nil)
	_, _, _ = jobStore.Update(ctx, done.ID, domain.Completed("https://cdn.example.com/a.png", time.Now()))

	var reported Result
	sweeper := NewSweeper(zerolog.Nop(), jobStore, Config{
		StuckJobTimeout: 30 * time.Minute,
		Retention:       30 * time.Minute,
		Report:          func(r Result, _ error) { reported = r },
	})
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Expired != 2 || result.Pruned != 1 {
		t.Fatalf("expected 2 expired and 1 pruned, got %+v", result)
	}

	for _, jobID := range []string{queued.ID, processing.ID} {
		job, ok, _ := jobStore.Get(ctx, jobID)
		if !ok || job.Status != domain.JobStatusFailed || job.Error != stuckJobMessage {
			t.Fatalf("expected expired job %s, got %+v", jobID, job)
		}
	}
	if _, ok, _ := jobStore.Get(ctx, done.ID); ok {
		t.Fatal("expected finished job to be pruned")
	}

	sweeper.run(ctx)
	if reported != (Result{}) {
		t.Fatalf("expected an empty second pass, got %+v", reported)
	}
}

func TestSweepLeavesFreshJobs(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()
	job, _ := jobStore.Create(ctx, domain.JobTypeInpaint, nil)

	sweeper := NewSweeper(zerolog.Nop(), jobStore, Config{StuckJobTimeout: time.Hour, Retention: time.Hour})
	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result != (Result{}) {
		t.Fatalf("expected nothing swept, got %+v", result)
	}
	if got, _, _ := jobStore.Get(ctx, job.ID); got.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued job, got %s", got.Status)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(zerolog.Nop(), store.NewMemoryJobStore(), Config{Schedule: "not a schedule", Retention: time.Hour})
	if err := sweeper.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestStartAndStop(t *testing.T) {
	sweeper := NewSweeper(zerolog.Nop(), store.NewMemoryJobStore(), Config{Schedule: "@every 1h", Retention: time.Hour})
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sweeper.Stop(ctx)
}
