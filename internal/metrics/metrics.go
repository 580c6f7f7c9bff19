// Package metrics provides Prometheus collectors for the coordination service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections tracks live websocket connections on this instance
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionlink_connections",
		Help: "Current number of live websocket connections",
	})

	// Rooms tracks rooms with at least one local member
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessionlink_rooms",
		Help: "Current number of rooms with local members",
	})

	// FramesRelayed counts frames forwarded by the relay, by frame type
	FramesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlink_frames_relayed_total",
		Help: "Total number of frames forwarded to connections",
	}, []string{"type"})

	// FramesDropped counts frames that could not be delivered, by reason
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlink_frames_dropped_total",
		Help: "Total number of frames dropped",
	}, []string{"reason"})

	// ReadyToggles counts readiness toggles, by resulting state
	ReadyToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlink_ready_toggles_total",
		Help: "Total number of readiness toggles",
	}, []string{"state"})

	// NotificationsCreated counts durable notifications, by type
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlink_notifications_created_total",
		Help: "Total number of notifications recorded",
	}, []string{"type"})

	// Rings counts incoming-call pushes
	Rings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionlink_rings_total",
		Help: "Total number of incoming-call pushes",
	})

	// RoomsResolved counts ensureRoom calls, by whether a mapping was created
	RoomsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionlink_rooms_resolved_total",
		Help: "Total number of room resolutions",
	}, []string{"created"})
)
