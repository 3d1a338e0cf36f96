package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		featureConsumeTotal,
		aiTokensTotal,
		usageResetsTotal,
		rateLimitTriggeredTotal,
	)
}

var (
	featureConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_consume_total",
			Help: "Feature consumption attempts by feature and result.",
		},
		[]string{"feature", "result"}, // result: ok|limit|denied|error
	)

	aiTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_ai_tokens_total",
			Help: "AI tokens recorded against metered features.",
		},
	)

	usageResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feature_usage_resets_total",
			Help: "Usage counters reset by the reset worker.",
		},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_rate_limit_triggered_total",
			Help: "Total number of times callers have been rate-limited.",
		},
	)
)

func IncFeatureConsume(feature, result string) {
	featureConsumeTotal.WithLabelValues(norm(feature), norm(result)).Inc()
}

func AddAITokens(n int64) {
	if n > 0 {
		aiTokensTotal.Add(float64(n))
	}
}

func AddUsageResets(n int) {
	usageResetsTotal.Add(float64(n))
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}
