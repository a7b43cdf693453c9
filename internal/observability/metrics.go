package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	GatewayEvents     *prometheus.CounterVec
	PresenceUpdates   *prometheus.CounterVec
	ConnectedClients  prometheus.Gauge
	WSMessages        *prometheus.CounterVec
	KVOperations      *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		GatewayEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_total",
			Help:      "Upstream gateway dispatch events by name.",
		}, []string{"event"}),
		PresenceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_updates_total",
			Help:      "Presence update ingest outcomes.",
		}, []string{"result"}),
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected downstream websocket clients.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Downstream websocket messages by direction and opcode.",
		}, []string{"direction", "op"}),
		KVOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kv_operations_total",
			Help:      "Annotation operations by op and result.",
		}, []string{"op", "result"}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Upstream gateway reconnect attempts.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
