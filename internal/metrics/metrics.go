package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests denied by the rate limiter, by blocking layer",
		},
		[]string{"layer"},
	)

	FraudBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_fraud_blocked_total",
			Help: "Charges blocked by the fraud screen, by reason",
		},
		[]string{"reason"},
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_settlements_total",
			Help: "Settlement outcomes by status and failure reason",
		},
		[]string{"status", "reason"},
	)

	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_settlement_duration_seconds",
			Help:    "Wall-clock duration of the settlement pipeline",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register installs all gateway collectors on the default registry.
func Register() {
	prometheus.MustRegister(
		RequestsTotal,
		RateLimitedTotal,
		FraudBlockedTotal,
		SettlementsTotal,
		SettlementDuration,
	)
}
