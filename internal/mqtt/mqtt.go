// Package mqtt mirrors race results and lifecycle events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/gate-timer/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "gate-timer"

// Topics are the MQTT topics a publisher writes to.
type Topics struct {
	Laps   string
	Race   string
	System string
}

// NewTopics derives the topic set from a prefix: <prefix>/laps, <prefix>/race
// and <prefix>/system.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Laps:   prefix + "/laps",
		Race:   prefix + "/race",
		System: prefix + "/system",
	}
}

// Publisher publishes timing events to MQTT. Publishing must not block the
// caller on the network.
type Publisher interface {
	// PublishLap sends a recorded lap.
	PublishLap(event LapEvent) error

	// PublishRace sends a race state transition.
	PublishRace(event RaceEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// LapEvent is a lap recorded by the ledger.
type LapEvent struct {
	RaceID string
	Pilot  string
	Lap    logic.Lap
}

// RaceEvent is a race state transition.
type RaceEvent struct {
	Timestamp time.Time
	RaceID    string
	From      logic.RaceState
	To        logic.RaceState
	Remote    bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// LapPayload is the MQTT message for a lap.
type LapPayload struct {
	Lap LapPayloadInner `json:"lap"`
}

// LapPayloadInner contains the lap details. Durations are seconds at lap
// precision; rolling sums are null until defined.
type LapPayloadInner struct {
	Timestamp string       `json:"timestamp"`
	RaceID    string       `json:"race_id,omitempty"`
	Pilot     string       `json:"pilot,omitempty"`
	Index     int          `json:"index"`
	Holeshot  bool         `json:"holeshot"`
	Duration  json.Number  `json:"duration"`
	TwoLap    *json.Number `json:"two_lap"`
	ThreeLap  *json.Number `json:"three_lap"`
}

// FormatLapPayload creates the JSON payload for a lap.
func FormatLapPayload(event LapEvent) ([]byte, error) {
	l := event.Lap
	payload := LapPayload{
		Lap: LapPayloadInner{
			Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano),
			RaceID:    event.RaceID,
			Pilot:     event.Pilot,
			Index:     l.Index,
			Holeshot:  l.Holeshot(),
			Duration:  fixed(l.Duration),
			TwoLap:    nullFixed(l.TwoLap),
			ThreeLap:  nullFixed(l.ThreeLap),
		},
	}
	return json.Marshal(payload)
}

// RacePayload is the MQTT message for a race transition.
type RacePayload struct {
	Race RacePayloadInner `json:"race"`
}

// RacePayloadInner contains the transition details.
type RacePayloadInner struct {
	Timestamp string `json:"timestamp"`
	RaceID    string `json:"race_id,omitempty"`
	From      string `json:"from"`
	State     string `json:"state"`
	Origin    string `json:"origin"`
}

// FormatRacePayload creates the JSON payload for a race transition.
func FormatRacePayload(event RaceEvent) ([]byte, error) {
	origin := "local"
	if event.Remote {
		origin = "device"
	}
	payload := RacePayload{
		Race: RacePayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			RaceID:    event.RaceID,
			From:      string(event.From),
			State:     string(event.To),
			Origin:    origin,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

func fixed(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(logic.LapPrecision))
}

func nullFixed(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := fixed(d.Decimal)
	return &n
}
