// Package metrics holds the prometheus collectors of the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of attached WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_users_online",
			Help: "Current number of users whose registry entry is online",
		},
	)

	RegistryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_registry_entries",
			Help: "Current number of registry entries, online and offline",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Inbound events by name and outcome",
		},
		[]string{"event", "outcome"}, // ok, dropped, rejected
	)

	FramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_frames_sent_total",
			Help: "Frames queued to a connection send buffer",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Frames dropped because a recipient send buffer was full or closed",
		},
	)

	StatusWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_status_writes_total",
			Help: "Durable status writes by result",
		},
		[]string{"result"}, // ok, error, open_circuit, queue_full
	)

	EntriesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_registry_evicted_total",
			Help: "Offline registry entries removed by the retention sweeper",
		},
	)

	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bus_messages_total",
			Help: "Messages exchanged with the broadcast bus",
		},
		[]string{"direction", "result"}, // in/out, ok/error
	)
)
