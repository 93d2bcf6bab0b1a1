// Package metrics defines Prometheus collectors for the relay service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay Prometheus metrics.
var (
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptrelay",
			Name:      "relay_requests_total",
			Help:      "Total number of relay requests",
		},
		[]string{"outcome"}, // "completed" / "cached" / "rejected" / "failed"
	)

	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptrelay",
			Name:      "quota_rejections_total",
			Help:      "Total requests rejected by the usage ledger",
		},
		[]string{"kind", "dimension"},
	)

	ResponseCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptrelay",
			Name:      "response_cache_total",
			Help:      "Response cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptrelay",
			Name:      "upstream_requests_total",
			Help:      "Total number of completion API requests",
		},
		[]string{"model", "status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promptrelay",
			Name:      "upstream_request_duration_seconds",
			Help:      "Completion API request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	UpstreamTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptrelay",
			Name:      "upstream_tokens_total",
			Help:      "Total completion tokens consumed",
		},
		[]string{"model"},
	)

	BudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "promptrelay",
			Name:      "budget_tokens_remaining",
			Help:      "Remaining token spend budget",
		},
		[]string{"period"}, // "daily" / "monthly"
	)
)

var relayMetricsRegistered bool

// RegisterRelayMetrics registers Prometheus relay metrics. Must be called once from main.
func RegisterRelayMetrics() {
	if relayMetricsRegistered {
		return
	}
	prometheus.MustRegister(RelayRequestsTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
	prometheus.MustRegister(ResponseCacheTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(UpstreamTokensTotal)
	prometheus.MustRegister(BudgetTokensRemaining)
	relayMetricsRegistered = true
}
