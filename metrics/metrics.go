package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livechat_ws_connections",
		Help: "Current number of live websocket connections",
	})
	MessagesBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livechat_messages_broadcast_total",
		Help: "Messages accepted and fanned out by the broadcaster",
	})
	MessagesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livechat_messages_rejected_total",
		Help: "send-message events rejected by validation or an active ban",
	})
	DroppedSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livechat_dropped_sends_total",
		Help: "Outbound events dropped because a client send buffer was full",
	})
)

func init() {
	prometheus.MustRegister(Connections, MessagesBroadcast, MessagesRejected, DroppedSends)
}

// Handler exposes the default registry, mounted on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
