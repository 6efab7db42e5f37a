package cloudgarden

import "github.com/prometheus/client_golang/prometheus"

var (
	commandsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duuxbridge_cloud_commands_total",
		Help: "Commands sent to the cloud command endpoint",
	})
	commandsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duuxbridge_cloud_command_failures_total",
		Help: "Commands that failed to send",
	})
	unauthorized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duuxbridge_cloud_unauthorized_total",
		Help: "Cloud API responses with HTTP 401",
	})
)

// MetricsCollectors returns collectors for the cloud client.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{commandsSent, commandsFailed, unauthorized}
}
