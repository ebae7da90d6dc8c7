package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
)

func TestMemoryJobStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	input := map[string]any{"styleId": "oil"}
	job, err := s.Create(ctx, domain.JobTypeStyle, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued job with id, got %+v", job)
	}

	input["styleId"] = "mutated"
	got, ok, err := s.Get(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("expected job to exist, ok=%v err=%v", ok, err)
	}
	if got.Input["styleId"] != "oil" {
		t.Fatalf("expected stored input to be isolated from caller, got %v", got.Input["styleId"])
	}

	got.Input["styleId"] = "changed"
	again, _, _ := s.Get(ctx, job.ID)
	if again.Input["styleId"] != "oil" {
		t.Fatal("expected Get to return a copy")
	}
}

func TestMemoryJobStoreUpdateUnknownJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	_, ok, err := s.Update(ctx, "missing", domain.Completed("https://x/out.png", time.Now()))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown job")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expected no phantom entry, got %d jobs", n)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected unknown job to stay unknown")
	}
}

func TestMemoryJobStoreUpdateKeepsTerminalState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	job, _ := s.Create(ctx, domain.JobTypeInpaint, nil)

	now := time.Now()
	s.Update(ctx, job.ID, domain.Dispatched("pred-1", now))
	s.Update(ctx, job.ID, domain.Failed("prediction failed", now))
	got, _, _ := s.Update(ctx, job.ID, domain.Processing(now))

	if got.Status != domain.JobStatusFailed || got.Error != "prediction failed" {
		t.Fatalf("expected failed job to stay failed, got %+v", got)
	}
}

func TestMemoryJobStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	var ids []string
	for i := 0; i < 5; i++ {
		job, _ := s.Create(ctx, domain.JobTypeEnhance, map[string]any{"n": i})
		ids = append(ids, job.ID)
	}

	jobs, err := s.List(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if jobs[i].ID != want {
			t.Fatalf("expected jobs[%d]=%s, got %s", i, want, jobs[i].ID)
		}
	}

	all, _ := s.List(ctx, 0)
	if len(all) != 5 {
		t.Fatalf("expected default limit to return all 5 jobs, got %d", len(all))
	}
}

func TestMemoryJobStoreStuckAndPrune(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	stuck, _ := s.Create(ctx, domain.JobTypeInpaint, nil)
	done, _ := s.Create(ctx, domain.JobTypeStyle, nil)
	s.Update(ctx, done.ID, domain.Completed("https://x/out.png", base))

	s.now = func() time.Time { return base.Add(time.Hour) }
	fresh, _ := s.Create(ctx, domain.JobTypeEnhance, nil)

	jobs, err := s.ListStuck(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("list stuck: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != stuck.ID {
		t.Fatalf("expected only %s to be stuck, got %+v", stuck.ID, jobs)
	}

	removed, err := s.Prune(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned job, got %d", removed)
	}
	if _, ok, _ := s.Get(ctx, done.ID); ok {
		t.Fatal("expected completed job to be pruned")
	}
	for _, keep := range []string{stuck.ID, fresh.ID} {
		if _, ok, _ := s.Get(ctx, keep); !ok {
			t.Fatalf("expected job %s to survive prune", keep)
		}
	}
	if jobs, _ := s.List(ctx, 10); len(jobs) != 2 {
		t.Fatalf("expected list to drop pruned job, got %d", len(jobs))
	}
}

func TestMemoryJobStoreConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	const n = 64
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.Create(ctx, domain.JobTypeInpaint, map[string]any{"n": i})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			s.Update(ctx, job.ID, domain.Dispatched(fmt.Sprintf("pred-%d", i), time.Now()))
			mu.Lock()
			seen[job.ID] = i
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}
	for jobID, i := range seen {
		job, ok, _ := s.Get(ctx, jobID)
		if !ok || job.Input["n"] != i || job.PredictionID != fmt.Sprintf("pred-%d", i) {
			t.Fatalf("job %s has wrong state %+v", jobID, job)
		}
	}
}
