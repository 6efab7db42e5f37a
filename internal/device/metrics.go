package device

import "github.com/prometheus/client_golang/prometheus"

var (
	pollSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duuxbridge_poll_success_total",
		Help: "Successful status polls per device",
	}, []string{"device_id"})
	pollFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duuxbridge_poll_failure_total",
		Help: "Failed status polls per device",
	}, []string{"device_id"})
	availability = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "duuxbridge_device_available",
		Help: "Device availability (1=available)",
	}, []string{"device_id"})
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duuxbridge_transition_events_total",
		Help: "Transition events fired per device and capability",
	}, []string{"device_id", "capability"})
	decodeMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duuxbridge_decode_miss_total",
		Help: "Raw values outside the known mapping tables",
	}, []string{"device_id", "capability"})
	deviceError = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "duuxbridge_device_error_code",
		Help: "Device-reported error code (0=none)",
	}, []string{"device_id"})
)

// MetricsCollectors returns collectors for the device engine.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		pollSuccess,
		pollFailure,
		availability,
		transitions,
		decodeMisses,
		deviceError,
	}
}
