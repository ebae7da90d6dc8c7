package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrMissingJobID     = errors.New("jobId is required")
	ErrUnauthorized     = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed prediction payload")
)

// Outcome names what a notification did to its job.
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeIgnored    Outcome = "ignored"
)

// Notification is one predictor callback: the correlation token taken from
// the callback URL plus the raw request.
type Notification struct {
	JobID  string
	Header http.Header
	Body   []byte
}

type verifier interface {
	Verify(header http.Header, body []byte) error
}

type persister interface {
	Persist(ctx context.Context, jobID, locator string) (string, error)
}

type Config struct {
	// Simulated skips signature checks and records output locators as-is.
	Simulated bool
	Verifier  verifier
	Persister persister
}

type Receiver struct {
	logger    zerolog.Logger
	jobStore  store.JobStore
	simulated bool
	verifier  verifier
	persister persister
	tracer    trace.Tracer
	now       func() time.Time
}

func NewReceiver(logger zerolog.Logger, jobStore store.JobStore, cfg Config) *Receiver {
	return &Receiver{
		logger:    logger.With().Str("component", "notify").Logger(),
		jobStore:  jobStore,
		simulated: cfg.Simulated,
		verifier:  cfg.Verifier,
		persister: cfg.Persister,
		tracer:    otel.Tracer("editflow/notify"),
		now:       time.Now,
	}
}

// Handle applies one notification. Errors are returned only for requests the
// caller must reject; failures while processing the prediction are recorded
// on the job instead.
func (r *Receiver) Handle(ctx context.Context, n Notification) (Outcome, error) {
	jobID := strings.TrimSpace(n.JobID)
	if jobID == "" {
		return OutcomeIgnored, ErrMissingJobID
	}

	ctx, span := r.tracer.Start(ctx, "notify.handle", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()
	log := r.logger.With().Str("job_id", jobID).Logger()

	if !r.simulated {
		if r.verifier == nil {
			span.SetStatus(codes.Error, "no verifier")
			return OutcomeIgnored, ErrUnauthorized
		}
		if err := r.verifier.Verify(n.Header, n.Body); err != nil {
			log.Warn().Err(err).Msg("webhook rejected")
			span.SetStatus(codes.Error, "unauthorized")
			return OutcomeIgnored, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}

	var prediction domain.Prediction
	if err := json.Unmarshal(n.Body, &prediction); err != nil {
		span.SetStatus(codes.Error, "malformed payload")
		return OutcomeIgnored, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	span.SetAttributes(
		attribute.String("predictor.prediction_id", prediction.ID),
		attribute.String("predictor.status", string(prediction.Status)),
	)
	log = log.With().Str("prediction_id", prediction.ID).Str("prediction_status", string(prediction.Status)).Logger()

	outcome, patch := r.resolve(ctx, log, jobID, prediction)
	if outcome == OutcomeIgnored {
		log.Debug().Msg("notification ignored")
		return outcome, nil
	}

	job, ok, err := r.jobStore.Update(ctx, jobID, patch)
	switch {
	case err != nil:
		// Acknowledge anyway; the predictor retrying will not help a store outage.
		log.Error().Err(err).Msg("apply notification failed")
		span.RecordError(err)
		return OutcomeIgnored, nil
	case !ok:
		log.Warn().Msg("notification for unknown job")
		return OutcomeIgnored, nil
	}

	if string(job.Status) != string(outcome) {
		log.Debug().Str("job_status", string(job.Status)).Msg("notification did not move the job")
		return OutcomeIgnored, nil
	}
	log.Info().Str("job_status", string(job.Status)).Msg("notification applied")
	return outcome, nil
}

// resolve maps a prediction onto the job transition it implies.
func (r *Receiver) resolve(ctx context.Context, log zerolog.Logger, jobID string, p domain.Prediction) (Outcome, domain.JobPatch) {
	now := r.now()
	switch p.Status {
	case domain.PredictionStarting, domain.PredictionProcessing:
		return OutcomeProcessing, domain.Processing(now)
	case domain.PredictionFailed:
		msg := strings.TrimSpace(string(p.Error))
		if msg == "" {
			msg = "prediction failed"
		}
		return OutcomeFailed, domain.Failed(msg, now)
	case domain.PredictionCanceled:
		return OutcomeFailed, domain.Failed("prediction canceled", now)
	case domain.PredictionSucceeded:
		return r.resolveSuccess(ctx, log, jobID, p, now)
	default:
		log.Warn().Msg("unknown prediction status")
		return OutcomeIgnored, domain.JobPatch{}
	}
}

func (r *Receiver) resolveSuccess(ctx context.Context, log zerolog.Logger, jobID string, p domain.Prediction, now time.Time) (Outcome, domain.JobPatch) {
	locator := ""
	for _, out := range p.Output {
		if strings.TrimSpace(out) != "" {
			locator = out
			break
		}
	}
	if locator == "" {
		return OutcomeFailed, domain.Failed("no output", now)
	}
	if r.simulated {
		return OutcomeCompleted, domain.Completed(locator, now)
	}

	// Unknown jobs and duplicate deliveries for finished jobs must not persist
	// the artifact again.
	if job, ok, err := r.jobStore.Get(ctx, jobID); err == nil && (!ok || job.Status.IsTerminal()) {
		return OutcomeIgnored, domain.JobPatch{}
	}

	if r.persister == nil {
		return OutcomeFailed, domain.Failed("artifact storage is not configured", now)
	}
	outputURL, err := r.persister.Persist(ctx, jobID, locator)
	if err != nil {
		log.Error().Err(err).Msg("persist artifact failed")
		return OutcomeFailed, domain.Failed(fmt.Sprintf("persist output: %v", err), r.now())
	}
	return OutcomeCompleted, domain.Completed(outputURL, r.now())
}
