package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dunamismax/editflow/internal/config"
	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
)

// createBody is the subset of the create request the backend is expected to send.
type createBody struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook"`
	WebhookEventsFilter []string       `json:"webhook_events_filter"`
}

func TestReplicateDispatchByModel(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody createBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-123","status":"starting","input":{"image":"img"},"output":null,"error":null,"created_at":"2026-01-01T00:00:00Z","urls":{"get":"https://api.replicate.com/v1/predictions/pred-123"}}`))
	}))
	defer srv.Close()

	client := NewReplicate(ReplicateConfig{BaseURL: srv.URL, Token: "r8_test"})
	pred, err := client.Dispatch(context.Background(), DispatchRequest{
		Model:      "acme/reve-edit",
		Input:      map[string]any{"image": "img"},
		WebhookURL: "https://app.example.com/api/predictor/webhook?jobId=job-1",
		JobID:      "job-1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if gotPath != "/models/acme/reve-edit/predictions" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !strings.HasSuffix(gotAuth, " r8_test") {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Webhook == "" || !reflect.DeepEqual(gotBody.WebhookEventsFilter, []string{"start", "completed"}) {
		t.Fatalf("expected webhook with start/completed filter, got %+v", gotBody)
	}
	if gotBody.Input["image"] != "img" {
		t.Fatalf("expected input to be forwarded, got %+v", gotBody.Input)
	}
	if pred.ID != "pred-123" || pred.Status != domain.PredictionStarting {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	if pred.CreatedAt.IsZero() || pred.URLs["get"] == "" || pred.Model != "acme/reve-edit" {
		t.Fatalf("expected created_at, urls and model to carry over, got %+v", pred)
	}
}

func TestReplicateDispatchByVersion(t *testing.T) {
	var (
		gotPath string
		gotBody createBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-9","status":"starting","created_at":"2026-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewReplicate(ReplicateConfig{BaseURL: srv.URL, Token: "r8_test"})
	if _, err := client.Dispatch(context.Background(), DispatchRequest{Model: "acme/style:abc123", Input: map[string]any{}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if gotPath != "/predictions" || gotBody.Version != "abc123" {
		t.Fatalf("expected version endpoint, got path=%s version=%s", gotPath, gotBody.Version)
	}
	if gotBody.WebhookEventsFilter != nil {
		t.Fatal("expected no events filter without webhook")
	}
}

func TestReplicateDispatchErrors(t *testing.T) {
	_, err := NewReplicate(ReplicateConfig{}).Dispatch(context.Background(), DispatchRequest{Model: "acme/x"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"Invalid input","status":422,"detail":"image is required"}`))
	}))
	defer srv.Close()

	_, err = NewReplicate(ReplicateConfig{BaseURL: srv.URL, Token: "t"}).Dispatch(context.Background(), DispatchRequest{Model: "acme/x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Detail != "image is required" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}

	if _, err := NewReplicate(ReplicateConfig{BaseURL: srv.URL, Token: "t"}).Dispatch(context.Background(), DispatchRequest{Model: "no-owner"}); err == nil {
		t.Fatal("expected error for model without owner")
	}
}

func TestReplicateDispatchTruncatesLongDetail(t *testing.T) {
	detail := strings.Repeat("é", maxDetailRunes+50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 422, "detail": detail})
	}))
	defer srv.Close()

	_, err := NewReplicate(ReplicateConfig{BaseURL: srv.URL, Token: "t"}).Dispatch(context.Background(), DispatchRequest{Model: "acme/x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !utf8.ValidString(apiErr.Detail) || utf8.RuneCountInString(apiErr.Detail) != maxDetailRunes {
		t.Fatalf("expected %d whole runes, got %d (valid=%v)", maxDetailRunes, utf8.RuneCountInString(apiErr.Detail), utf8.ValidString(apiErr.Detail))
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestInferJobType(t *testing.T) {
	tests := map[string]string{
		"owner/nano-banana-enhance": "enhance",
		"owner/sdxl-inpaint":        "inpaint",
		"owner/nano-banana-style":   "style",
		"owner/reve-edit":           "style",
	}
	for model, want := range tests {
		if got := InferJobType(model); string(got) != want {
			t.Fatalf("InferJobType(%q) = %s, want %s", model, got, want)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	d, err := New(config.PredictorConfig{Mode: config.ModeSimulated}, zerolog.Nop(), store.NewMemoryJobStore(), nil)
	if err != nil {
		t.Fatalf("new simulated: %v", err)
	}
	sim, ok := d.(*Simulator)
	if !ok {
		t.Fatalf("expected *Simulator, got %T", d)
	}
	sim.Close()

	d, err = New(config.PredictorConfig{Mode: config.ModeReplicate}, zerolog.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("new replicate: %v", err)
	}
	if d.Name() != "replicate" {
		t.Fatalf("expected replicate backend, got %s", d.Name())
	}

	if _, err := New(config.PredictorConfig{Mode: "bogus"}, zerolog.Nop(), nil, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
