package edit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/editflow/internal/config"
	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/predictor"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WebhookPath is the route the predictor calls back on.
const WebhookPath = "/api/predictor/webhook"

// Receipt is returned to the client once a job has been dispatched.
type Receipt struct {
	JobID        string           `json:"jobId"`
	Status       domain.JobStatus `json:"status"`
	PredictionID string           `json:"predictionId"`
}

// UpstreamError wraps a failure to create or dispatch a job. The job, when
// one was created, stays in the store.
type UpstreamError struct {
	JobID string
	Err   error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Models maps each job type to the model that serves it.
type Models map[domain.JobType]config.ModelRef

func ModelsFromConfig(cfg config.PredictorConfig) Models {
	return Models{
		domain.JobTypeInpaint: cfg.InpaintModel,
		domain.JobTypeStyle:   cfg.StyleModel,
		domain.JobTypeEnhance: cfg.EnhanceModel,
	}
}

type Config struct {
	PublicBaseURL string
	WebhookSecret string
	Models        Models
}

type Service struct {
	logger        zerolog.Logger
	jobStore      store.JobStore
	dispatcher    predictor.Dispatcher
	models        Models
	publicBaseURL string
	webhookSecret string
	tracer        trace.Tracer
	now           func() time.Time
}

func NewService(logger zerolog.Logger, jobStore store.JobStore, dispatcher predictor.Dispatcher, cfg Config) *Service {
	return &Service{
		logger:        logger.With().Str("component", "edit").Logger(),
		jobStore:      jobStore,
		dispatcher:    dispatcher,
		models:        cfg.Models,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		webhookSecret: cfg.WebhookSecret,
		tracer:        otel.Tracer("editflow/edit"),
		now:           time.Now,
	}
}

func (s *Service) SubmitInpaint(ctx context.Context, req domain.InpaintRequest) (Receipt, error) {
	return s.Submit(ctx, req)
}

func (s *Service) SubmitStyle(ctx context.Context, req domain.StyleRequest) (Receipt, error) {
	return s.Submit(ctx, req)
}

func (s *Service) SubmitEnhance(ctx context.Context, req domain.EnhanceRequest) (Receipt, error) {
	return s.Submit(ctx, req)
}

// Submit validates req, records a job and hands it to the predictor.
// Validation failures return a *domain.ValidationError and create nothing.
func (s *Service) Submit(ctx context.Context, req domain.EditRequest) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}

	jobType := req.JobType()
	ctx, span := s.tracer.Start(ctx, "edit.submit", trace.WithAttributes(attribute.String("job.type", string(jobType))))
	defer span.End()

	job, err := s.jobStore.Create(ctx, jobType, req.JobInput())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create job failed")
		return Receipt{}, &UpstreamError{Err: fmt.Errorf("create job: %w", err)}
	}
	span.SetAttributes(attribute.String("job.id", job.ID))
	log := s.logger.With().Str("job_id", job.ID).Str("job_type", string(jobType)).Logger()

	model := s.models[jobType]
	prediction, err := s.dispatcher.Dispatch(ctx, predictor.DispatchRequest{
		Model:         model.Name,
		Version:       model.Version,
		Input:         req.PredictionInput(),
		WebhookURL:    s.webhookURL(job.ID),
		WebhookSecret: s.webhookSecret,
		JobID:         job.ID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		log.Error().Err(err).Str("model", model.Name).Str("predictor", s.dispatcher.Name()).Msg("dispatch failed")
		s.markFailed(ctx, log, job.ID, err)
		return Receipt{}, &UpstreamError{JobID: job.ID, Err: fmt.Errorf("dispatch %s job: %w", jobType, err)}
	}

	if _, _, err := s.jobStore.Update(ctx, job.ID, domain.Dispatched(prediction.ID, s.now())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record dispatch failed")
		log.Error().Err(err).Str("prediction_id", prediction.ID).Msg("record dispatch failed")
		return Receipt{}, &UpstreamError{JobID: job.ID, Err: fmt.Errorf("record dispatch: %w", err)}
	}

	log.Info().
		Str("prediction_id", prediction.ID).
		Str("model", model.Name).
		Str("predictor", s.dispatcher.Name()).
		Msg("job dispatched")
	span.SetStatus(codes.Ok, "dispatched")

	return Receipt{JobID: job.ID, Status: domain.JobStatusQueued, PredictionID: prediction.ID}, nil
}

// markFailed records the dispatch error on the job so a polling client sees it.
func (s *Service) markFailed(ctx context.Context, log zerolog.Logger, jobID string, cause error) {
	if _, _, err := s.jobStore.Update(ctx, jobID, domain.Failed(cause.Error(), s.now())); err != nil {
		log.Error().Err(err).Msg("mark job failed")
	}
}

func (s *Service) webhookURL(jobID string) string {
	return s.publicBaseURL + WebhookPath + "?jobId=" + url.QueryEscape(jobID)
}
