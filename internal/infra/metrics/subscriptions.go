package metrics

import (
	"time"

	"resume-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		sweepStepTotal,
		scheduledChangesTotal,
		cycleDuration,
		integrityViolations,
		subscriptionsTotal,
	)
}

var (
	sweepStepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_sweep_rows_total",
			Help: "Rows handled by each step of the subscription cycle, by result.",
		},
		[]string{"step", "result"}, // step: renew|grace|expire, result: processed|failed
	)

	scheduledChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_scheduled_changes_total",
			Help: "Scheduled plan changes by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subscription_cycle_duration_seconds",
			Help:    "Wall time of one full subscription cycle.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	integrityViolations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscription_integrity_violations",
			Help: "Users holding more than one ACTIVE subscription at the last scan.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func AddSweepStep(step string, processed, failed int) {
	sweepStepTotal.WithLabelValues(norm(step), "processed").Add(float64(processed))
	sweepStepTotal.WithLabelValues(norm(step), "failed").Add(float64(failed))
}

func AddScheduledChanges(kind, result string, n int) {
	scheduledChangesTotal.WithLabelValues(norm(kind), norm(result)).Add(float64(n))
}

func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

func SetIntegrityViolations(n int) {
	integrityViolations.Set(float64(n))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusGracePeriod,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusCancelled,
	}
	// absent statuses are reported as zero so stale values do not linger
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
