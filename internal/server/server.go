// Package server exposes the daemon's HTTP surface: liveness, metrics,
// and a read-only device listing.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smarthomesven/duuxbridge/internal/device"
)

// HTTPServer serves health, metrics, and device state.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{Addr: addr, Handler: handler}}
}

func (s *HTTPServer) ListenAndServe() error {
	return s.Server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// NewMux wires the standard routes.
func NewMux(registry *prometheus.Registry, supervisor *device.Supervisor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthHandler)
	mux.Handle("/metrics", MetricsHandler(registry))
	mux.Handle("/devices", DevicesHandler(supervisor))
	return mux
}

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type deviceInfo struct {
	ID           string         `json:"id"`
	MAC          string         `json:"mac"`
	TenantID     int            `json:"tenant_id"`
	Model        string         `json:"model"`
	Capabilities map[string]any `json:"capabilities"`
}

// DevicesHandler serves the current capability snapshot of every running
// device as JSON.
func DevicesHandler(supervisor *device.Supervisor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		infos := make([]deviceInfo, 0)
		for _, d := range supervisor.Devices() {
			caps := make(map[string]any)
			for _, c := range d.Model().Capabilities {
				if v, ok := d.Value(c.ID); ok {
					caps[c.ID] = v
				}
			}
			infos = append(infos, deviceInfo{
				ID:           d.ID,
				MAC:          d.MAC,
				TenantID:     d.TenantID,
				Model:        d.Model().Model,
				Capabilities: caps,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	})
}
