package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

type JobType string

const (
	JobTypeInpaint JobType = "inpaint"
	JobTypeStyle   JobType = "style"
	JobTypeEnhance JobType = "enhance"
)

func ParseJobType(raw string) (JobType, error) {
	switch t := JobType(strings.ToLower(strings.TrimSpace(raw))); t {
	case JobTypeInpaint, JobTypeStyle, JobTypeEnhance:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported job type: %s", raw)
	}
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	return s.rank() >= 0
}

// rank orders statuses along the lifecycle; completed and failed share the final rank.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

type Job struct {
	ID           string         `json:"jobId"`
	Type         JobType        `json:"type"`
	Status       JobStatus      `json:"status"`
	PredictionID string         `json:"predictionId,omitempty"`
	Input        map[string]any `json:"input"`
	OutputURL    string         `json:"outputUrl,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
}

// NewJob builds a queued job. The input map is copied.
func NewJob(id string, jobType JobType, input map[string]any, now time.Time) Job {
	return Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusQueued,
		Input:     cloneInput(input),
		CreatedAt: now.UTC(),
	}
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	out := j
	out.Input = cloneInput(j.Input)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status       *JobStatus
	PredictionID *string
	OutputURL    *string
	Error        *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

func Dispatched(predictionID string, at time.Time) JobPatch {
	status := JobStatusProcessing
	at = at.UTC()
	return JobPatch{Status: &status, PredictionID: &predictionID, StartedAt: &at}
}

func Processing(at time.Time) JobPatch {
	status := JobStatusProcessing
	at = at.UTC()
	return JobPatch{Status: &status, StartedAt: &at}
}

func Completed(outputURL string, at time.Time) JobPatch {
	status := JobStatusCompleted
	at = at.UTC()
	return JobPatch{Status: &status, OutputURL: &outputURL, FinishedAt: &at}
}

func Failed(message string, at time.Time) JobPatch {
	status := JobStatusFailed
	at = at.UTC()
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	return JobPatch{Status: &status, Error: &message, FinishedAt: &at}
}

// Apply merges p into j and reports whether anything changed.
//
// Status only moves forward. Once a job is completed or failed, status, output
// and error are frozen; the set-once fields predictionId and startedAt may still
// be filled in because a dispatch acknowledgement can land after a fast completion.
func (j Job) Apply(p JobPatch) (Job, bool) {
	out := j.Clone()
	changed := false

	if p.PredictionID != nil && out.PredictionID == "" && *p.PredictionID != "" {
		out.PredictionID = *p.PredictionID
		changed = true
	}
	if p.StartedAt != nil && out.StartedAt == nil && (p.Status == nil || *p.Status == JobStatusProcessing) {
		t := p.StartedAt.UTC()
		out.StartedAt = &t
		changed = true
	}

	if p.Status == nil || !p.Status.Valid() || out.Status.IsTerminal() {
		return out, changed
	}

	next := *p.Status
	if next.rank() <= out.Status.rank() {
		return out, changed
	}

	switch next {
	case JobStatusProcessing:
		out.Status = next
		if out.StartedAt == nil {
			t := time.Now().UTC()
			if p.StartedAt != nil {
				t = p.StartedAt.UTC()
			}
			out.StartedAt = &t
		}
	case JobStatusCompleted:
		if p.OutputURL == nil || strings.TrimSpace(*p.OutputURL) == "" {
			return out, changed
		}
		out.Status = next
		out.OutputURL = *p.OutputURL
		out.FinishedAt = finishedAt(p)
	case JobStatusFailed:
		out.Status = next
		out.Error = "unknown error"
		if p.Error != nil && strings.TrimSpace(*p.Error) != "" {
			out.Error = *p.Error
		}
		out.FinishedAt = finishedAt(p)
	}
	return out, true
}

func finishedAt(p JobPatch) *time.Time {
	t := time.Now().UTC()
	if p.FinishedAt != nil {
		t = p.FinishedAt.UTC()
	}
	return &t
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}
