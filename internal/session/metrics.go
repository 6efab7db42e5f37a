package session

import "github.com/prometheus/client_golang/prometheus"

var (
	loginSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duuxbridge_session_login_success_total",
		Help: "Successful code exchanges",
	})
	loginFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duuxbridge_session_login_failure_total",
		Help: "Failed login attempts",
	})
	loggedIn = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duuxbridge_session_logged_in",
		Help: "Session logged-in flag (1=logged in)",
	})
	blobPersistOK = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duuxbridge_session_blob_persist_ok",
		Help: "Blob mirror health (1=ok, 0=error)",
	})
)

func setLoggedInMetric(v bool) {
	if v {
		loggedIn.Set(1)
	} else {
		loggedIn.Set(0)
	}
}

// MetricsCollectors returns collectors for the session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{loginSuccess, loginFailure, loggedIn, blobPersistOK}
}
