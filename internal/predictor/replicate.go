package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/replicate/replicate-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrMissingCredential = errors.New("REPLICATE_API_TOKEN is required when not in simulated mode")

// WebhookEvents limits deliveries to the start and terminal transitions.
var WebhookEvents = []replicate.WebhookEventType{replicate.WebhookEventStart, replicate.WebhookEventCompleted}

const maxDetailRunes = 200

type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("replicate returned status=%d", e.StatusCode)
	}
	return fmt.Sprintf("replicate returned status=%d: %s", e.StatusCode, e.Detail)
}

type ReplicateConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Replicate struct {
	client    *replicate.Client
	clientErr error
	tracer    trace.Tracer
}

// NewReplicate builds the backend. Without a token every Dispatch fails with
// ErrMissingCredential, which keeps the service bootable in that state.
func NewReplicate(cfg ReplicateConfig) *Replicate {
	r := &Replicate{tracer: otel.Tracer("editflow/predictor")}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		r.clientErr = ErrMissingCredential
		return r
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []replicate.ClientOption{
		replicate.WithToken(token),
		replicate.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, replicate.WithBaseURL(baseURL))
	}

	client, err := replicate.NewClient(opts...)
	if err != nil {
		r.clientErr = fmt.Errorf("build replicate client: %w", err)
		return r
	}
	r.client = client
	return r
}

func (r *Replicate) Name() string { return "replicate" }

func (r *Replicate) Dispatch(ctx context.Context, req DispatchRequest) (domain.Prediction, error) {
	if r.clientErr != nil {
		return domain.Prediction{}, r.clientErr
	}

	ctx, span := r.tracer.Start(ctx, "predictor.replicate.create", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("predictor.model", req.Model),
	)
	defer span.End()

	dest, err := resolveTarget(req.Model, req.Version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid model")
		return domain.Prediction{}, err
	}

	var webhook *replicate.Webhook
	if req.WebhookURL != "" {
		webhook = &replicate.Webhook{URL: req.WebhookURL, Events: WebhookEvents}
	}
	input := replicate.PredictionInput(req.Input)
	if input == nil {
		input = replicate.PredictionInput{}
	}

	var created *replicate.Prediction
	if dest.version != "" {
		created, err = r.client.CreatePrediction(ctx, dest.version, input, webhook, false)
	} else {
		created, err = r.client.CreatePredictionWithModel(ctx, dest.owner, dest.name, input, webhook, false)
	}
	if err != nil {
		err = mapClientError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create prediction failed")
		return domain.Prediction{}, err
	}
	if created == nil || created.ID == "" {
		err := errors.New("prediction response has no id")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create prediction failed")
		return domain.Prediction{}, err
	}

	prediction := fromReplicate(created, req)
	span.SetAttributes(attribute.String("predictor.prediction_id", prediction.ID))
	span.SetStatus(codes.Ok, "created")
	return prediction, nil
}

type target struct {
	owner   string
	name    string
	version string
}

// resolveTarget accepts "owner/name", "owner/name:version" or an explicit
// version. A version always selects the version endpoint.
func resolveTarget(model, version string) (target, error) {
	model = strings.TrimSpace(model)
	if name, v, ok := strings.Cut(model, ":"); ok {
		model = name
		if version == "" {
			version = v
		}
	}
	if version != "" {
		return target{version: version}, nil
	}

	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return target{}, fmt.Errorf("model must be owner/name, got %q", model)
	}
	return target{owner: owner, name: name}, nil
}

func mapClientError(err error) error {
	var apiErr *replicate.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("create prediction: %w", err)
	}
	detail := apiErr.Detail
	if detail == "" {
		detail = apiErr.Title
	}
	return &APIError{StatusCode: apiErr.Status, Detail: truncateRunes(strings.TrimSpace(detail), maxDetailRunes)}
}

func fromReplicate(p *replicate.Prediction, req DispatchRequest) domain.Prediction {
	out := domain.Prediction{
		ID:      p.ID,
		Model:   p.Model,
		Version: p.Version,
		Status:  domain.PredictionStatus(p.Status),
		Input:   map[string]any(p.Input),
		Output:  domain.OutputFromValue(p.Output),
		Error:   domain.PredictionError(errorText(p.Error)),
		URLs:    p.URLs,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if out.Version == "" {
		out.Version = req.Version
	}
	if p.Logs != nil {
		out.Logs = *p.Logs
	}
	if t, ok := parseTimestamp(p.CreatedAt); ok {
		out.CreatedAt = t
	}
	if p.StartedAt != nil {
		if t, ok := parseTimestamp(*p.StartedAt); ok {
			out.StartedAt = &t
		}
	}
	if p.CompletedAt != nil {
		if t, ok := parseTimestamp(*p.CompletedAt); ok {
			out.CompletedAt = &t
		}
	}
	return out
}

func errorText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
