// Package logic contains the pure timing logic for a gate-based race.
// This package has NO external I/O (no network, audio, GPIO or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"strings"
	"time"
)

// Signal levels are 8-bit RSSI readings.
const (
	MinLevel = 0
	MaxLevel = 255
)

// Default hysteresis thresholds used until configured otherwise.
const (
	DefaultEnterLevel = 120
	DefaultExitLevel  = 100
)

// CrossingState is the binary "object present at gate" state.
type CrossingState string

const (
	Below CrossingState = "BELOW"
	Above CrossingState = "ABOVE"
)

// RaceState is the state of the race start/stop protocol.
type RaceState string

const (
	RaceIdle      RaceState = "IDLE"
	RaceArming    RaceState = "ARMING"
	RaceCountdown RaceState = "COUNTDOWN"
	RaceRacing    RaceState = "RACING"
	RaceStopped   RaceState = "STOPPED"
)

// AnnouncerMode selects what is announced when a lap is recorded.
type AnnouncerMode int

const (
	ModeTone AnnouncerMode = iota
	ModeOneLap
	ModeTwoLap
	ModeThreeLap
)

var modeNames = [...]string{"tone", "1lap", "2lap", "3lap"}

func (m AnnouncerMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("AnnouncerMode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseAnnouncerMode accepts the mode names used in config files.
// "beep" is accepted as an alias for "tone".
func ParseAnnouncerMode(s string) (AnnouncerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tone", "beep":
		return ModeTone, nil
	case "1lap":
		return ModeOneLap, nil
	case "2lap":
		return ModeTwoLap, nil
	case "3lap":
		return ModeThreeLap, nil
	}
	return ModeTone, fmt.Errorf("unknown announcer mode %q", s)
}

// AnnouncerModeFromIndex maps the device's numeric announcer type.
func AnnouncerModeFromIndex(i int) (AnnouncerMode, error) {
	if i < 0 || i >= len(modeNames) {
		return ModeTone, fmt.Errorf("announcer type %d out of range", i)
	}
	return AnnouncerMode(i), nil
}

// Sample is a single signal reading from the gate receiver.
type Sample struct {
	Time  time.Time
	Level int
}

// Point is one value of the signal chart series.
type Point struct {
	Time     time.Time
	Level    int
	Crossing bool
}

// Bounds are the display bounds a chart should use for the signal series.
type Bounds struct {
	Min int
	Max int
}
