package predictor

import (
	"context"
	"strings"

	"github.com/dunamismax/editflow/internal/domain"
)

// DispatchRequest hands one unit of work to a predictor. WebhookURL carries
// the job id as correlation token; WebhookSecret signs simulated deliveries.
type DispatchRequest struct {
	Model         string
	Version       string
	Input         map[string]any
	WebhookURL    string
	WebhookSecret string
	JobID         string
}

// Dispatcher starts a prediction and returns immediately with a non-terminal
// acknowledgement. Terminal state arrives later through the webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (domain.Prediction, error)
	Name() string
}

// InferJobType guesses the job type from a model name.
func InferJobType(model string) domain.JobType {
	model = strings.ToLower(model)
	switch {
	case strings.Contains(model, "enhance"):
		return domain.JobTypeEnhance
	case strings.Contains(model, "inpaint"):
		return domain.JobTypeInpaint
	default:
		return domain.JobTypeStyle
	}
}
