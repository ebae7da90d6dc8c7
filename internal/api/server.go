package api

import (
	"context"
	"net/http"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/edit"
	"github.com/dunamismax/editflow/internal/notify"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes bounds request bodies; images arrive inline as data URLs.
const maxBodyBytes = 25 << 20

type submitter interface {
	Submit(ctx context.Context, req domain.EditRequest) (edit.Receipt, error)
}

type receiver interface {
	Handle(ctx context.Context, n notify.Notification) (notify.Outcome, error)
}

type Dependencies struct {
	Logger   zerolog.Logger
	Mode     string
	Edits    submitter
	Jobs     store.JobStore
	Receiver receiver
	Metrics  *Metrics
	// RateLimiter is optional; nil disables limiting.
	RateLimiter         RateLimiter
	RateLimitUserHeader string
}

type Server struct {
	logger                zerolog.Logger
	mode                  string
	edits                 submitter
	jobs                  store.JobStore
	receiver              receiver
	metrics               *Metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	router                chi.Router
}

func NewServer(deps Dependencies) *Server {
	m := deps.Metrics
	if m == nil {
		m = NewMetrics()
	}
	m.watchJobStore(deps.Jobs)

	header := deps.RateLimitUserHeader
	if header == "" {
		header = "X-User-ID"
	}

	s := &Server{
		logger:                deps.Logger.With().Str("component", "api").Logger(),
		mode:                  deps.Mode,
		edits:                 deps.Edits,
		jobs:                  deps.Jobs,
		receiver:              deps.Receiver,
		metrics:               m,
		tracer:                otel.Tracer("editflow/api"),
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: header,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.withAccessLog, middleware.Recoverer, s.withTracing, s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/edit", func(r chi.Router) {
			r.Use(s.withRateLimit)
			r.Post("/inpaint", handleSubmit[domain.InpaintRequest](s))
			r.Post("/style", handleSubmit[domain.StyleRequest](s))
			r.Post("/enhance", handleSubmit[domain.EnhanceRequest](s))
		})
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobId}", s.handleGetJob)
		r.Get("/styles", s.handleListStyles)
		r.Post("/predictor/webhook", s.handleWebhook)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})

	s.router = r
}
