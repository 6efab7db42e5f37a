package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	blockedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duuxbridge_rate_limit_blocked_total",
			Help: "Requests blocked locally by the rate limiter",
		},
		[]string{"provider"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duuxbridge_rate_limit_retry_after_seconds",
			Help: "Retry-after seconds announced by the provider",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duuxbridge_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		blockedCounter,
		retryAfterGauge,
		lastStatusGauge,
	}
}
