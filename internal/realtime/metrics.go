package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsSessions gauges open WebSocket sessions.
	wsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_sessions_active",
		Help: "Open WebSocket sessions.",
	})

	// wsSubscriptions gauges (session, room) subscriptions.
	wsSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_subscriptions_active",
		Help: "Room subscriptions held by open sessions.",
	})

	// wsFrames counts inbound frames by type. Unknown types collapse to "other".
	wsFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_frames_received_total",
		Help: "Inbound WebSocket frames by type.",
	}, []string{"type"})

	// wsAuthFailures counts sessions closed for authentication reasons.
	wsAuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_auth_failures_total",
		Help: "Sessions closed with 4401 by reason.",
	}, []string{"reason"})

	// deliveries counts message:new frames queued to sessions.
	deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_delivered_total",
		Help: "Messages queued to subscribed sessions.",
	})

	// dispatchDropped counts messages that never reached the broker or a session.
	dispatchDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_dropped_total",
		Help: "Messages dropped on the delivery path by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(wsSessions, wsSubscriptions, wsFrames, wsAuthFailures, deliveries, dispatchDropped)
}

func frameLabel(t string) string {
	switch t {
	case FrameAuth, FrameJoin, FrameLeave, FrameSend, FrameRead:
		return t
	}
	return "other"
}
