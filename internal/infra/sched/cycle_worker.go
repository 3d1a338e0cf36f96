package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/infra/metrics"
	"resume-billing/internal/infra/redis"
	"resume-billing/internal/usecase"
)

const cycleLockKey = "lock:subscription-cycle"

// CycleRunner is the slice of the subscription use case the sweep needs.
type CycleRunner interface {
	ProcessSubscriptionCycle(ctx context.Context) usecase.CycleReport
	CountByStatus(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

// CycleWorker periodically runs the subscription sweep. A Redis lock keeps
// replicas from sweeping at the same time.
type CycleWorker struct {
	interval time.Duration
	lockTTL  time.Duration
	runner   CycleRunner
	locker   redis.Locker
	log      *zerolog.Logger
}

func NewCycleWorker(interval, lockTTL time.Duration, runner CycleRunner, locker redis.Locker, logger *zerolog.Logger) *CycleWorker {
	compLog := logger.With().Str("component", "CycleWorker").Logger()
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &CycleWorker{
		interval: interval,
		lockTTL:  lockTTL,
		runner:   runner,
		locker:   locker,
		log:      &compLog,
	}
}

func (w *CycleWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting cycle worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping cycle worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. ok is false when another replica holds
// the lock and nothing ran.
func (w *CycleWorker) RunOnce(ctx context.Context) (report usecase.CycleReport, ok bool) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, cycleLockKey, w.lockTTL)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			w.log.Debug().Msg("cycle already running elsewhere, skipping")
			metrics.IncJobRun("subscription_cycle", "skipped")
			return report, false
		case err != nil:
			// Row locks still serialize every mutation, so a lost Redis only
			// costs duplicate scans.
			w.log.Warn().Err(err).Msg("cycle lock unavailable, sweeping without it")
		default:
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), cycleLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("release cycle lock")
				}
			}()
		}
	}

	report = w.runner.ProcessSubscriptionCycle(ctx)
	record(report)

	counts, err := w.runner.CountByStatus(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("count subscriptions by status")
	} else {
		metrics.SetSubscriptionsTotal(counts)
	}

	result := "ok"
	if failed(report) {
		result = "partial"
	}
	metrics.IncJobRun("subscription_cycle", result)
	return report, true
}

func record(r usecase.CycleReport) {
	metrics.AddSweepStep("renew", r.Renewed.Processed, r.Renewed.Failed)
	metrics.AddSweepStep("grace_period", r.GracePeriod.Processed, r.GracePeriod.Failed)
	metrics.AddSweepStep("expire", r.Expired.Processed, r.Expired.Failed)

	sc := r.ScheduledChanges
	metrics.AddScheduledChanges("downgrade", "processed", sc.DowngradesProcessed)
	metrics.AddScheduledChanges("downgrade", "failed", sc.DowngradesFailed)
	metrics.AddScheduledChanges("downgrade", "deferred", sc.DowngradesDeferred)
	metrics.AddScheduledChanges("upgrade", "processed", sc.UpgradesProcessed)
	metrics.AddScheduledChanges("upgrade", "failed", sc.UpgradesFailed)
	metrics.AddScheduledChanges("any", "stale", sc.Stale)

	metrics.ObserveCycle(r.Duration)
	metrics.SetIntegrityViolations(len(r.IntegrityViolations))
}

func failed(r usecase.CycleReport) bool {
	return r.Renewed.Failed+r.GracePeriod.Failed+r.Expired.Failed > 0 ||
		r.ScheduledChanges.DowngradesFailed+r.ScheduledChanges.UpgradesFailed > 0 ||
		r.Renewed.ListError != "" || r.GracePeriod.ListError != "" || r.Expired.ListError != "" ||
		r.ScheduledChanges.ListError != "" || len(r.IntegrityViolations) > 0
}
