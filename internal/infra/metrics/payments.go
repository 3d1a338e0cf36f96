package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		gatewayCallsTotal,
		gatewayCallDuration,
		paymentsTotal,
		paymentsRevenueTotal,
	)
}

var (
	// op: verify|cancel, result: ok|rejected|error
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Calls to payment gateways by operation and result.",
		},
		[]string{"gateway", "op", "result"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"gateway", "op", "success"},
	)

	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Recorded payment transactions by kind (first_paid/upgrade/renewal/duplicate).",
		},
		[]string{"kind"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of completed payments, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func ObserveGatewayCall(gateway, op, result string, d time.Duration) {
	gatewayCallsTotal.WithLabelValues(norm(gateway), norm(op), norm(result)).Inc()
	gatewayCallDuration.WithLabelValues(norm(gateway), norm(op), strconv.FormatBool(result != "error")).
		Observe(d.Seconds())
}

func IncPayment(kind string) {
	paymentsTotal.WithLabelValues(norm(kind)).Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(amount.InexactFloat64())
}
