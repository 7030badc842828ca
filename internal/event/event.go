// Package event defines the typed telemetry events pushed by the timing device.
//
// Event is a closed set: only the types in this package implement it, and
// consumers switch over the concrete types.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the wire name of an event.
type Kind string

const (
	KindSignal         Kind = "rssi"
	KindLap            Kind = "lap"
	KindCountdown      Kind = "countdown"
	KindRace           Kind = "race"
	KindLapComplete    Kind = "lapComplete"
	KindBatteryWarning Kind = "batteryWarning"
)

// Event is one inbound telemetry event.
type Event interface {
	Kind() Kind
	sealed()
}

// Signal is a raw signal-strength sample.
type Signal struct {
	Level int
}

// Lap is a lap duration measured by the device.
type Lap struct {
	DurationMs float64
}

// Countdown is one beep of the device-driven start countdown.
type Countdown struct {
	N int
}

// RaceSignal is a device-side race transition.
type RaceSignal struct {
	Start bool // false means finish
}

// LapComplete is a numbered lap reported by the device.
type LapComplete struct {
	Lap    int     `json:"lap"`
	TimeMs float64 `json:"time"`
}

// BatteryWarning reports a low battery on the device.
type BatteryWarning struct {
	Voltage    float64 `json:"voltage"`
	Percentage float64 `json:"percentage"`
}

func (Signal) Kind() Kind         { return KindSignal }
func (Lap) Kind() Kind            { return KindLap }
func (Countdown) Kind() Kind      { return KindCountdown }
func (RaceSignal) Kind() Kind     { return KindRace }
func (LapComplete) Kind() Kind    { return KindLapComplete }
func (BatteryWarning) Kind() Kind { return KindBatteryWarning }

func (Signal) sealed()         {}
func (Lap) sealed()            {}
func (Countdown) sealed()      {}
func (RaceSignal) sealed()     {}
func (LapComplete) sealed()    {}
func (BatteryWarning) sealed() {}

// ErrUnknownKind is the cause of a MalformedEventError for unrecognised kinds.
var ErrUnknownKind = errors.New("unknown event kind")

// MalformedEventError reports a payload that could not be decoded.
type MalformedEventError struct {
	Kind    string
	Payload string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %q event %q: %v", e.Kind, e.Payload, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// Parse decodes a raw event of the given kind. Any failure is returned as a
// *MalformedEventError.
func Parse(kind string, data []byte) (Event, error) {
	ev, err := parse(Kind(kind), strings.TrimSpace(string(data)))
	if err != nil {
		return nil, &MalformedEventError{Kind: kind, Payload: string(data), Err: err}
	}
	return ev, nil
}

func parse(kind Kind, s string) (Event, error) {
	switch kind {
	case KindSignal:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("level %d out of range", n)
		}
		return Signal{Level: n}, nil

	case KindLap:
		ms, err := parseMillis(s)
		if err != nil {
			return nil, err
		}
		return Lap{DurationMs: ms}, nil

	case KindCountdown:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		return Countdown{N: n}, nil

	case KindRace:
		switch s {
		case "start":
			return RaceSignal{Start: true}, nil
		case "finish":
			return RaceSignal{Start: false}, nil
		}
		return nil, fmt.Errorf("unknown race state %q", s)

	case KindLapComplete:
		var lc LapComplete
		if err := decodeStrict(s, &lc, "lap", "time"); err != nil {
			return nil, err
		}
		if lc.TimeMs < 0 || math.IsNaN(lc.TimeMs) {
			return nil, fmt.Errorf("invalid lap time %v", lc.TimeMs)
		}
		return lc, nil

	case KindBatteryWarning:
		var bw BatteryWarning
		if err := decodeStrict(s, &bw, "voltage", "percentage"); err != nil {
			return nil, err
		}
		return bw, nil
	}
	return nil, ErrUnknownKind
}

func parseMillis(s string) (float64, error) {
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, fmt.Errorf("invalid duration %v", ms)
	}
	return ms, nil
}

// decodeStrict unmarshals a JSON object and requires the named fields.
func decodeStrict(s string, v any, required ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return err
	}
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return json.Unmarshal([]byte(s), v)
}
