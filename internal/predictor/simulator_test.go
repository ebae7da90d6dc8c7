package predictor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
)

func TestSimulatorCompletesJobAndCallsWebhook(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()
	sender := &captureSender{done: make(chan struct{}, 1)}
	sim := NewSimulator(zerolog.New(io.Discard), jobStore, sender, SimulatorConfig{
		DispatchDelay:   5 * time.Millisecond,
		ProcessingDelay: 10 * time.Millisecond,
	})
	defer sim.Close()

	job, _ := jobStore.Create(ctx, domain.JobTypeInpaint, map[string]any{"strength": 0.75})
	pred, err := sim.Dispatch(ctx, DispatchRequest{
		Model:         "owner/reve-edit",
		Input:         map[string]any{"image": "img", "mask": "mask"},
		WebhookURL:    "http://localhost/api/predictor/webhook?jobId=" + job.ID,
		WebhookSecret: "secret",
		JobID:         job.ID,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if pred.Status != domain.PredictionStarting || pred.ID == "" {
		t.Fatalf("expected starting prediction, got %+v", pred)
	}

	sender.wait(t)

	got, _, _ := jobStore.Get(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted || got.OutputURL != PlaceholderOutput {
		t.Fatalf("expected completed job with placeholder output, got %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("expected lifecycle timestamps, got %+v", got)
	}

	delivered := sender.last()
	if delivered.Status != domain.PredictionSucceeded || len(delivered.Output) != 1 || delivered.ID != pred.ID {
		t.Fatalf("unexpected webhook payload %+v", delivered)
	}
	if sender.secret != "secret" {
		t.Fatalf("expected webhook secret to be forwarded, got %q", sender.secret)
	}
}

func TestSimulatorFaultFailsJobAndStillCallsWebhook(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()
	sender := &captureSender{done: make(chan struct{}, 1)}
	sim := NewSimulator(zerolog.New(io.Discard), jobStore, sender, SimulatorConfig{
		Fault: func(domain.JobType, map[string]any) error { return errors.New("gpu on fire") },
	})
	defer sim.Close()

	job, _ := jobStore.Create(ctx, domain.JobTypeStyle, nil)
	if _, err := sim.Dispatch(ctx, DispatchRequest{Model: "owner/style", JobID: job.ID, WebhookURL: "http://localhost/hook"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	sender.wait(t)

	got, _, _ := jobStore.Get(ctx, job.ID)
	if got.Status != domain.JobStatusFailed || got.Error != "gpu on fire" {
		t.Fatalf("expected failed job, got %+v", got)
	}
	if delivered := sender.last(); delivered.Status != domain.PredictionFailed || delivered.Error != "gpu on fire" {
		t.Fatalf("unexpected webhook payload %+v", delivered)
	}
}

func TestSimulatorCreatesJobWhenMissing(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()
	sim := NewSimulator(zerolog.New(io.Discard), jobStore, nil, SimulatorConfig{ProcessingDelay: time.Hour})
	defer sim.Close()

	if _, err := sim.Dispatch(ctx, DispatchRequest{Model: "owner/nano-banana-enhance", JobID: "unknown"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	jobs, _ := jobStore.List(ctx, 10)
	if len(jobs) != 1 || jobs[0].Type != domain.JobTypeEnhance {
		t.Fatalf("expected one inferred enhance job, got %+v", jobs)
	}
}

func TestSimulatorCloseCancelsPendingWork(t *testing.T) {
	ctx := context.Background()
	jobStore := store.NewMemoryJobStore()
	sender := &captureSender{done: make(chan struct{}, 1)}
	sim := NewSimulator(zerolog.New(io.Discard), jobStore, sender, SimulatorConfig{
		DispatchDelay:   time.Hour,
		ProcessingDelay: time.Hour,
	})

	job, _ := jobStore.Create(ctx, domain.JobTypeInpaint, nil)
	if _, err := sim.Dispatch(ctx, DispatchRequest{Model: "owner/inpaint", JobID: job.ID, WebhookURL: "http://localhost/hook"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	closed := make(chan struct{})
	go func() {
		sim.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Close to return promptly")
	}

	if sender.count() != 0 {
		t.Fatal("expected no webhook after Close")
	}
	if _, err := sim.Dispatch(ctx, DispatchRequest{Model: "owner/inpaint", JobID: job.ID}); !errors.Is(err, ErrSimulatorClosed) {
		t.Fatalf("expected ErrSimulatorClosed, got %v", err)
	}
}

type captureSender struct {
	mu       sync.Mutex
	payloads []domain.Prediction
	secret   string
	done     chan struct{}
}

func (s *captureSender) Send(_ context.Context, _ string, secret string, payload any) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload.(domain.Prediction))
	s.secret = secret
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *captureSender) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook")
	}
}

func (s *captureSender) last() domain.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[len(s.payloads)-1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}
