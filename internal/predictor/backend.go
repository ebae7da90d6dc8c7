package predictor

import (
	"fmt"

	"github.com/dunamismax/editflow/internal/config"
	"github.com/dunamismax/editflow/internal/store"
	"github.com/rs/zerolog"
)

// New selects the backend named by cfg.Mode. The simulator needs the job
// store and a webhook sender; the Replicate backend ignores both.
func New(cfg config.PredictorConfig, logger zerolog.Logger, jobStore store.JobStore, sender webhookSender) (Dispatcher, error) {
	switch cfg.Mode {
	case config.ModeSimulated:
		return NewSimulator(logger, jobStore, sender, SimulatorConfig{
			DispatchDelay:   cfg.DispatchDelay,
			ProcessingDelay: cfg.ProcessingDelay,
		}), nil
	case config.ModeReplicate:
		return NewReplicate(ReplicateConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.APIToken,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown predictor mode %q", cfg.Mode)
	}
}
