package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(effectsTotal, effectQueueDepth) }

var (
	effectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_effects_total",
			Help: "Post-commit side effects by kind and delivery result.",
		},
		[]string{"kind", "result"}, // result: delivered|retried|dropped
	)

	effectQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifecycle_effects_queue_depth",
			Help: "Effects waiting for a dispatcher worker.",
		},
	)
)

func IncEffect(kind, result string) {
	effectsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func SetEffectQueueDepth(n int) {
	effectQueueDepth.Set(float64(n))
}
