package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

func (s PredictionStatus) IsTerminal() bool {
	return s == PredictionSucceeded || s == PredictionFailed || s == PredictionCanceled
}

// Prediction is the predictor's view of one unit of work, shaped like the
// payload the predictor delivers to the webhook.
type Prediction struct {
	ID          string            `json:"id"`
	Model       string            `json:"model,omitempty"`
	Version     string            `json:"version,omitempty"`
	Status      PredictionStatus  `json:"status"`
	Input       map[string]any    `json:"input,omitempty"`
	Output      Output            `json:"output,omitempty"`
	Error       PredictionError   `json:"error,omitempty"`
	Logs        string            `json:"logs,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
}

// Output holds result locators. Predictors send a single string, an array of
// strings, an object keyed by output name, or null. Non-string values carry no
// locator and are dropped.
type Output []string

func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*o = nil
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	*o = OutputFromValue(raw)
	return nil
}

// OutputFromValue collects the non-empty strings found in v. Object values
// are visited in key order so the first locator is stable.
func OutputFromValue(v any) Output {
	var out Output
	collectLocators(v, &out)
	return out
}

func collectLocators(v any, out *Output) {
	switch val := v.(type) {
	case string:
		if val != "" {
			*out = append(*out, val)
		}
	case []string:
		for _, item := range val {
			collectLocators(item, out)
		}
	case []any:
		for _, item := range val {
			collectLocators(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectLocators(val[k], out)
		}
	}
}

// PredictionError is a predictor error message; predictors send a string or null.
type PredictionError string

func (e *PredictionError) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = PredictionError(s)
		return nil
	}
	*e = PredictionError(data)
	return nil
}
