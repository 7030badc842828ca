// Package metrics holds the Prometheus collectors for the timing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatetimer_events_received_total",
			Help: "Total number of telemetry events received, by kind",
		},
		[]string{"kind"},
	)

	EventsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_events_malformed_total",
			Help: "Total number of telemetry events dropped as malformed",
		},
	)

	SamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_samples_dropped_total",
			Help: "Total number of signal samples evicted from the sample buffer",
		},
	)

	// Detection
	Crossings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_crossings_total",
			Help: "Total number of gate crossings detected",
		},
	)

	SignalLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatetimer_signal_level",
			Help: "Last signal level consumed by the detector",
		},
	)

	// Laps and races
	LapsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_laps_recorded_total",
			Help: "Total number of laps appended to the ledger",
		},
	)

	RacesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatetimer_races_started_total",
			Help: "Total number of races started, by origin",
		},
		[]string{"origin"},
	)

	// Announcements
	AnnouncementsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_announcements_enqueued_total",
			Help: "Total number of announcements queued",
		},
	)

	AnnouncementsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_announcements_dispatched_total",
			Help: "Total number of announcements handed to the speech backend",
		},
	)

	AnnouncementsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_announcements_dropped_total",
			Help: "Total number of announcements dropped at dispatch",
		},
	)

	AnnouncementQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatetimer_announcement_queue_length",
			Help: "Number of announcements waiting to be spoken",
		},
	)

	Tones = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatetimer_tones_total",
			Help: "Total number of tones played",
		},
	)
)

// Race start origins.
const (
	OriginLocal  = "local"
	OriginDevice = "device"
)
