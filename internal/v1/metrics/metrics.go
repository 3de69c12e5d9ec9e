package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the relay hub.
//
// Naming convention: namespace_subsystem_name
// - namespace: relay (application-level grouping)
// - subsystem: websocket, room (feature-level grouping)
// - name: specific metric (connections_active, frames_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (frames relayed, errors)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of connected players per room
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of connected players in each room",
	}, []string{"room_key"})

	// RelayedFrames counts frames routed through the relay by direction
	RelayedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total frames relayed between endpoints",
	}, []string{"direction"})

	// ProtocolViolations counts frames rejected for breaking the tag protocol
	ProtocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "websocket",
		Name:      "protocol_violations_total",
		Help:      "Total frames rejected as protocol violations",
	}, []string{"role"})

	// HandshakeFailures counts refused handshakes by reason
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "websocket",
		Name:      "handshake_failures_total",
		Help:      "Total handshakes refused",
	}, []string{"reason"})

	// RateLimitExceeded counts rejected requests by endpoint and limit type
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"endpoint", "limit_type"})

	// BroadcastLagDisconnects counts clients dropped for falling behind the broadcast buffer
	BroadcastLagDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "broadcast_lag_disconnects_total",
		Help:      "Total clients disconnected for lagging behind the broadcast buffer",
	})
)

// Frame directions for RelayedFrames.
const (
	DirectionToHost    = "to_host"
	DirectionBroadcast = "broadcast"
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
