package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/notify"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.mode})
}

// handleSubmit decodes one edit request type and hands it to the edit service.
func handleSubmit[T domain.EditRequest](s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req T
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
		jobType := string(req.JobType())

		receipt, err := s.edits.Submit(r.Context(), req)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				s.metrics.submissions.WithLabelValues(jobType, "invalid").Inc()
				writeError(w, http.StatusBadRequest, CodeBadRequest, verr.Error())
				return
			}
			s.metrics.submissions.WithLabelValues(jobType, "upstream_error").Inc()
			s.logger.Error().Err(err).Str("job_type", jobType).Msg("submit failed")
			writeError(w, http.StatusInternalServerError, CodeUpstreamError, err.Error())
			return
		}

		s.metrics.submissions.WithLabelValues(jobType, "accepted").Inc()
		writeJSON(w, http.StatusCreated, receipt)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		writeError(w, http.StatusInternalServerError, CodeUpstreamError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list jobs failed")
		writeError(w, http.StatusInternalServerError, CodeUpstreamError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleListStyles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"styles": domain.StylePresets})
}

// handleWebhook acknowledges every well-formed, authentic callback with 200;
// processing failures end up on the job.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.notifications.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, CodeBadRequest, "unreadable body")
		return
	}

	outcome, err := s.receiver.Handle(r.Context(), notify.Notification{
		JobID:  r.URL.Query().Get("jobId"),
		Header: r.Header,
		Body:   body,
	})
	switch {
	case errors.Is(err, notify.ErrUnauthorized):
		s.metrics.notifications.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid webhook signature")
		return
	case err != nil:
		s.metrics.notifications.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	s.metrics.notifications.WithLabelValues(string(outcome)).Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
