package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/editflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build servers freely.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	sweptJobs         *prometheus.CounterVec
	sweepErrors       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "editflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "editflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "editflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "editflow_edit_submissions_total",
			Help: "Edit submissions by job type and result.",
		}, []string{"type", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "editflow_predictor_notifications_total",
			Help: "Predictor webhook deliveries by outcome.",
		}, []string{"outcome"}),
		sweptJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "editflow_sweep_jobs_total",
			Help: "Jobs expired or pruned by the reconciliation sweep.",
		}, []string{"action"}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "editflow_sweep_errors_total",
			Help: "Reconciliation sweeps that reported an error.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.submissions,
		m.notifications,
		m.sweptJobs,
		m.sweepErrors,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSweep records one reconciliation pass.
func (m *Metrics) ObserveSweep(expired, pruned int, err error) {
	m.sweptJobs.WithLabelValues("expired").Add(float64(expired))
	m.sweptJobs.WithLabelValues("pruned").Add(float64(pruned))
	if err != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) watchJobStore(jobs store.JobStore) {
	if jobs == nil {
		return
	}
	_ = m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "editflow_jobs_stored",
		Help: "Jobs currently held by the job store.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := jobs.Count(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}))
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		status := strconv.Itoa(statusOf(ww))
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern, which keeps job ids out of label values.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
