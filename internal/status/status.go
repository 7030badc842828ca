// Package status provides a thread-safe status tracker for the gate timer.
// The coordination loop writes to it; HTTP handlers and the live feed read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gate-timer/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	DeviceURL    string
	Broker       string
	TopicPrefix  string
	HTTPAddr     string
	TickMs       int64
	PollMs       int64
	SpeechBinary string
}

// Battery is the last low battery warning from the device.
type Battery struct {
	Voltage    float64
	Percentage float64
	At         time.Time
}

// Announcer is the announcer state for display.
type Announcer struct {
	Enabled bool
	Queued  int
	Mode    logic.AnnouncerMode
	Rate    float64
	Pilot   string
}

// Core is the timing state owned by the coordination loop. Slices are
// replaced, never mutated, once handed to the tracker.
type Core struct {
	Race        logic.RaceState
	RaceID      string
	RaceStarted time.Time // zero until the timer starts
	RaceEnded   time.Time // zero while the timer runs
	CanStart    bool
	CanStop     bool

	Laps    []logic.Lap
	Summary logic.Summary

	Thresholds      logic.Thresholds
	Crossing        logic.CrossingState
	DetectionActive bool
	Level           int
	Bounds          logic.Bounds
	Series          []logic.Point
	SamplesDropped  uint64

	Battery   *Battery
	Announcer Announcer
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Core
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	DeviceConnected bool
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Elapsed returns the race timer value: time since the timer started, frozen
// once it stops.
func (s Snapshot) Elapsed() time.Duration {
	if s.RaceStarted.IsZero() {
		return 0
	}
	end := s.RaceEnded
	if end.IsZero() {
		end = s.Now
	}
	if end.Before(s.RaceStarted) {
		return 0
	}
	return end.Sub(s.RaceStarted)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Core: Core{
				Race:     logic.RaceIdle,
				Crossing: logic.Below,
			},
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// UpdateCore replaces the timing state.
func (t *Tracker) UpdateCore(c Core) {
	t.mu.Lock()
	t.snap.Core = c
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetDeviceConnected sets whether the device event stream is up.
func (t *Tracker) SetDeviceConnected(connected bool) {
	t.mu.Lock()
	t.snap.DeviceConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
