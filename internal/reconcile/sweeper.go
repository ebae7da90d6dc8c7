package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const stuckJobMessage = "timed out waiting for predictor"

// Result summarizes one sweep.
type Result struct {
	Expired int
	Pruned  int
}

type Config struct {
	Schedule string
	// StuckJobTimeout fails queued or processing jobs older than this. Zero disables.
	StuckJobTimeout time.Duration
	// Retention deletes terminal jobs finished longer ago than this. Zero disables.
	Retention time.Duration
	// Report, when set, receives every sweep result.
	Report func(Result, error)
}

// Sweeper expires jobs whose predictor never called back and prunes old
// finished jobs on a cron schedule.
type Sweeper struct {
	logger   zerolog.Logger
	jobStore store.JobStore
	cfg      Config
	cron     *cron.Cron
	now      func() time.Time
}

func NewSweeper(logger zerolog.Logger, jobStore store.JobStore, cfg Config) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Sweeper{
		logger:   logger.With().Str("component", "reconcile").Logger(),
		jobStore: jobStore,
		cfg:      cfg,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:      time.Now,
	}
}

// Start registers the sweep and starts the scheduler. ctx bounds each run.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cfg.StuckJobTimeout <= 0 && s.cfg.Retention <= 0 {
		s.logger.Info().Msg("sweeper disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Dur("stuck_job_timeout", s.cfg.StuckJobTimeout).
		Dur("retention", s.cfg.Retention).
		Msg("sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("timed out waiting for sweep to finish")
	}
}

func (s *Sweeper) run(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if s.cfg.Report != nil {
		s.cfg.Report(result, err)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if result.Expired > 0 || result.Pruned > 0 {
		s.logger.Info().Int("expired", result.Expired).Int("pruned", result.Pruned).Msg("sweep finished")
	}
}

// Sweep performs one pass. Expiry errors on single jobs do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		result Result
		errs   []error
	)
	now := s.now()

	if s.cfg.StuckJobTimeout > 0 {
		stuck, err := s.jobStore.ListStuck(ctx, now.Add(-s.cfg.StuckJobTimeout))
		if err != nil {
			errs = append(errs, fmt.Errorf("list stuck jobs: %w", err))
		}
		for _, job := range stuck {
			updated, ok, err := s.jobStore.Update(ctx, job.ID, domain.Failed(stuckJobMessage, now))
			if err != nil {
				errs = append(errs, fmt.Errorf("expire job %s: %w", job.ID, err))
				continue
			}
			if ok && updated.Status == domain.JobStatusFailed && updated.Error == stuckJobMessage {
				result.Expired++
				s.logger.Warn().Str("job_id", job.ID).Str("prediction_id", job.PredictionID).Msg("job expired")
			}
		}
	}

	if s.cfg.Retention > 0 {
		pruned, err := s.jobStore.Prune(ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune jobs: %w", err))
		}
		result.Pruned = pruned
	}

	return result, errors.Join(errs...)
}
