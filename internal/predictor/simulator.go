package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/id"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
)

// PlaceholderOutput is the 1x1 transparent PNG every simulated prediction yields.
const PlaceholderOutput = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

var ErrSimulatorClosed = errors.New("simulator is closed")

type webhookSender interface {
	Send(ctx context.Context, endpoint, secret string, payload any) error
}

// Fault lets tests force a simulated prediction to fail.
type Fault func(jobType domain.JobType, input map[string]any) error

type SimulatorConfig struct {
	DispatchDelay   time.Duration
	ProcessingDelay time.Duration
	Fault           Fault
}

// Simulator stands in for the external predictor. Each dispatch runs a
// tracked goroutine that walks the job through processing to a terminal
// state and then delivers the webhook the real predictor would have sent.
type Simulator struct {
	logger          zerolog.Logger
	jobStore        store.JobStore
	webhook         webhookSender
	dispatchDelay   time.Duration
	processingDelay time.Duration
	fault           Fault
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSimulator(logger zerolog.Logger, jobStore store.JobStore, sender webhookSender, cfg SimulatorConfig) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		logger:          logger.With().Str("component", "simulator").Logger(),
		jobStore:        jobStore,
		webhook:         sender,
		dispatchDelay:   max(cfg.DispatchDelay, 0),
		processingDelay: max(cfg.ProcessingDelay, 0),
		fault:           cfg.Fault,
		now:             time.Now,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (s *Simulator) Name() string { return "simulated" }

func (s *Simulator) Dispatch(ctx context.Context, req DispatchRequest) (domain.Prediction, error) {
	job, err := s.resolveJob(ctx, req)
	if err != nil {
		return domain.Prediction{}, err
	}

	prediction := domain.Prediction{
		ID:        id.New(),
		Model:     req.Model,
		Version:   req.Version,
		Status:    domain.PredictionStarting,
		Input:     req.Input,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Prediction{}, ErrSimulatorClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(job.ID, job.Type, req, prediction)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("prediction_id", prediction.ID).
		Str("model", req.Model).
		Msg("simulated prediction scheduled")
	return prediction, nil
}

// Close cancels pending predictions and waits for their goroutines.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// resolveJob finds the job named by the request, creating one from the model
// name when the id is empty or unknown.
func (s *Simulator) resolveJob(ctx context.Context, req DispatchRequest) (domain.Job, error) {
	if req.JobID != "" {
		job, ok, err := s.jobStore.Get(ctx, req.JobID)
		if err != nil {
			return domain.Job{}, fmt.Errorf("load job %s: %w", req.JobID, err)
		}
		if ok {
			return job, nil
		}
		s.logger.Warn().Str("job_id", req.JobID).Msg("job not found, creating a new one")
	}

	job, err := s.jobStore.Create(ctx, InferJobType(req.Model), req.Input)
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *Simulator) run(jobID string, jobType domain.JobType, req DispatchRequest, prediction domain.Prediction) {
	defer s.wg.Done()
	ctx := s.ctx
	log := s.logger.With().Str("job_id", jobID).Str("prediction_id", prediction.ID).Logger()

	if !sleep(ctx, s.dispatchDelay) {
		log.Debug().Msg("simulated prediction canceled before start")
		return
	}

	startedAt := s.now().UTC()
	prediction.Status = domain.PredictionProcessing
	prediction.StartedAt = &startedAt
	s.update(ctx, log, jobID, domain.Processing(startedAt))

	if !sleep(ctx, s.processingDelay) {
		log.Debug().Msg("simulated prediction canceled while processing")
		return
	}

	output, err := s.render(jobType, req.Input)
	completedAt := s.now().UTC()
	prediction.CompletedAt = &completedAt
	if err != nil {
		prediction.Status = domain.PredictionFailed
		prediction.Error = domain.PredictionError(err.Error())
		s.update(ctx, log, jobID, domain.Failed(err.Error(), completedAt))
		log.Warn().Err(err).Msg("simulated prediction failed")
	} else {
		prediction.Status = domain.PredictionSucceeded
		prediction.Output = domain.Output{output}
		s.update(ctx, log, jobID, domain.Completed(output, completedAt))
		log.Info().Dur("elapsed", completedAt.Sub(prediction.CreatedAt)).Msg("simulated prediction succeeded")
	}

	if req.WebhookURL == "" || s.webhook == nil {
		return
	}
	if err := s.webhook.Send(ctx, req.WebhookURL, req.WebhookSecret, prediction); err != nil {
		log.Error().Err(err).Msg("simulated webhook delivery failed")
	}
}

func (s *Simulator) render(jobType domain.JobType, input map[string]any) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulated %s panicked: %v", jobType, r)
		}
	}()
	if s.fault != nil {
		if err := s.fault(jobType, input); err != nil {
			return "", err
		}
	}
	return PlaceholderOutput, nil
}

func (s *Simulator) update(ctx context.Context, log zerolog.Logger, jobID string, patch domain.JobPatch) {
	if _, _, err := s.jobStore.Update(ctx, jobID, patch); err != nil {
		log.Error().Err(err).Msg("simulated job update failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
