package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"resume-billing/internal/infra/metrics"
)

type UsageResetter interface {
	ResetFeatureUsage(ctx context.Context) (int, error)
}

// UsageResetWorker zeroes feature counters whose reset date has passed.
type UsageResetWorker struct {
	interval time.Duration
	usage    UsageResetter
	log      *zerolog.Logger
}

func NewUsageResetWorker(interval time.Duration, usage UsageResetter, logger *zerolog.Logger) *UsageResetWorker {
	compLog := logger.With().Str("component", "UsageResetWorker").Logger()
	return &UsageResetWorker{
		interval: interval,
		usage:    usage,
		log:      &compLog,
	}
}

func (w *UsageResetWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting usage reset worker")
	// Run once on startup, then on every tick
	w.runReset(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping usage reset worker")
			return ctx.Err()
		case <-ticker.C:
			w.runReset(ctx)
		}
	}
}

func (w *UsageResetWorker) runReset(ctx context.Context) {
	n, err := w.usage.ResetFeatureUsage(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("usage reset failed")
		metrics.IncJobRun("usage_reset", "error")
		return
	}
	metrics.IncJobRun("usage_reset", "ok")
	if n > 0 {
		metrics.AddUsageResets(n)
		w.log.Info().Int("count", n).Msg("feature usage counters reset")
	}
}
