package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_desk_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_desk_ws_conversations",
			Help: "Current number of conversations with at least one bound connection.",
		},
	)
	wsEventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_desk_ws_events_delivered_total",
			Help: "Total fan-out events delivered to websocket clients.",
		},
	)
	wsHandshakeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_desk_ws_handshake_failures_total",
			Help: "Total rejected websocket handshakes.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsConversations, wsEventsDelivered, wsHandshakeFailures)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setConversations(count int) {
	wsConversations.Set(float64(count))
}

func addDelivered(count int) {
	wsEventsDelivered.Add(float64(count))
}

func incHandshakeFailures() {
	wsHandshakeFailures.Inc()
}
