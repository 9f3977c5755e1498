// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyhub_connections_total",
			Help: "WebSocket connections accepted, by role.",
		},
		[]string{"role"},
	)
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partyhub_messages_total",
			Help: "Inbound protocol messages handled, by type.",
		},
		[]string{"type"},
	)
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partyhub_sessions_created_total",
			Help: "Sessions created since process start.",
		},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partyhub_active_sessions",
			Help: "Sessions currently live in the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(ActiveSessions)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
