// Package race implements the race start/stop protocol.
//
// A Sequencer is owned by a single goroutine. Timed continuations are handed
// to a Clock, which must run them on that same goroutine; every continuation
// carries the generation it was scheduled under and is discarded if a stop
// or a newer start has happened since.
package race

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/metrics"
)

// Start tone and random hold bounds.
const (
	StartToneDuration  = 500 * time.Millisecond
	StartToneFrequency = 880

	MinRandomHold = 1000 * time.Millisecond
	MaxRandomHold = 5000 * time.Millisecond

	// RemoteCountdownTimeout is how long a device countdown may go without a
	// further beep or a start before the race returns to Idle.
	RemoteCountdownTimeout = 10 * time.Second
)

// ErrRaceActive is returned by Start when a race is already in progress.
var ErrRaceActive = errors.New("race already in progress")

// Clock schedules f to run after d on the sequencer's goroutine.
type Clock interface {
	AfterFunc(d time.Duration, f func())
}

// Announcer queues spoken phrases.
type Announcer interface {
	Enqueue(text string) bool
	Rate() float64
}

// Timer is the race timer. Start and Stop must be idempotent.
type Timer interface {
	StartTimer()
	StopTimer()
}

// LapResetter clears the lap ledger.
type LapResetter interface {
	Reset()
}

// Transition describes a race state change.
type Transition struct {
	From   logic.RaceState
	To     logic.RaceState
	RaceID string
	Remote bool // driven by the device rather than the local start/stop
}

// Config wires a Sequencer to its collaborators.
type Config struct {
	Clock     Clock
	Announcer Announcer
	Toner     gpio.Toner
	Timer     Timer
	Laps      LapResetter
	Logger    *slog.Logger

	// RandomHold returns the random part of the start delay. It defaults to a
	// uniform draw from [MinRandomHold, MaxRandomHold).
	RandomHold func() time.Duration

	// OnTransition is called after every state change.
	OnTransition func(Transition)
}

// Sequencer is the race state machine:
// Idle → Arming → Countdown → Racing → Stopped → Idle.
type Sequencer struct {
	cfg    Config
	log    *slog.Logger
	state  logic.RaceState
	gen    uint64
	raceID string
	remote bool // the current countdown was begun by the device
}

// NewSequencer creates an idle sequencer.
func NewSequencer(cfg Config) *Sequencer {
	if cfg.RandomHold == nil {
		cfg.RandomHold = uniformHold
	}
	if cfg.Toner == nil {
		cfg.Toner = gpio.LogBuzzer{Logger: cfg.Logger}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{cfg: cfg, log: log, state: logic.RaceIdle}
}

func uniformHold() time.Duration {
	return MinRandomHold + rand.N(MaxRandomHold-MinRandomHold)
}

// State returns the current race state.
func (s *Sequencer) State() logic.RaceState {
	return s.state
}

// RaceID returns the identifier of the current or last race.
func (s *Sequencer) RaceID() string {
	return s.raceID
}

// CanStart reports whether Start would be accepted.
func (s *Sequencer) CanStart() bool {
	return s.state == logic.RaceIdle
}

// CanStop reports whether a race is in progress.
func (s *Sequencer) CanStop() bool {
	return s.state != logic.RaceIdle
}

// Start begins the start sequence: the arm phrase, then the countdown phrase,
// then after a random hold the start tone. It returns ErrRaceActive unless
// the sequencer is idle.
func (s *Sequencer) Start() error {
	if s.state != logic.RaceIdle {
		return ErrRaceActive
	}

	s.gen++
	s.raceID = uuid.NewString()
	s.transition(logic.RaceArming, false)

	s.say(logic.PhraseArm)
	s.after(logic.SpeakDuration(logic.PhraseArm, s.rate()), s.countdown)
	return nil
}

func (s *Sequencer) countdown() {
	s.transition(logic.RaceCountdown, false)
	s.say(logic.PhraseCountdown)

	// The hold always includes the full speak time of the phrase, so the
	// tone can never fire before pilots have heard the warning.
	hold := s.cfg.RandomHold() + logic.SpeakDuration(logic.PhraseCountdown, s.rate())
	s.log.Debug("start hold", "hold", hold, "generation", s.gen)
	s.after(hold, s.fire)
}

func (s *Sequencer) fire() {
	s.cfg.Toner.Tone(StartToneDuration, StartToneFrequency, gpio.Square)
	metrics.Tones.Inc()
	s.startTimer()
	metrics.RacesStarted.WithLabelValues(metrics.OriginLocal).Inc()
	s.transition(logic.RaceRacing, false)
}

// Stop ends the race: announces it, stops the timer, clears the laps and
// returns to Idle. Any pending start continuation is invalidated. Stopping
// while idle only makes sure the timer is stopped and the laps are clear.
func (s *Sequencer) Stop() {
	s.gen++

	if s.state == logic.RaceIdle {
		s.stopTimer()
		if s.cfg.Laps != nil {
			s.cfg.Laps.Reset()
		}
		return
	}

	s.say(logic.PhraseStopped)
	s.stopTimer()
	if s.cfg.Laps != nil {
		s.cfg.Laps.Reset()
	}
	s.transition(logic.RaceStopped, false)
	s.transition(logic.RaceIdle, false)
}

// RemoteCountdown records a device-driven countdown beep. A countdown begun
// by the device returns to Idle if no start follows within
// RemoteCountdownTimeout of the last beep; a local start sequence is left alone.
func (s *Sequencer) RemoteCountdown(n int) {
	s.log.Debug("device countdown", "n", n, "state", s.state)
	switch {
	case s.state == logic.RaceIdle:
		s.raceID = uuid.NewString()
		s.transition(logic.RaceCountdown, true)
		s.remote = true
	case s.state == logic.RaceCountdown && s.remote:
	default:
		return
	}
	s.gen++
	s.after(RemoteCountdownTimeout, s.abandonCountdown)
}

func (s *Sequencer) abandonCountdown() {
	s.log.Warn("device countdown not followed by a start", "race_id", s.raceID)
	s.gen++
	s.transition(logic.RaceIdle, true)
}

// RemoteStart handles the device starting a race. A pending local start is
// superseded; an already running race is left alone.
func (s *Sequencer) RemoteStart() {
	s.startTimer()
	if s.state == logic.RaceRacing {
		return
	}
	s.gen++
	if s.state == logic.RaceIdle {
		s.raceID = uuid.NewString()
	}
	metrics.RacesStarted.WithLabelValues(metrics.OriginDevice).Inc()
	s.transition(logic.RaceRacing, true)
}

// RemoteFinish handles the device finishing a race. Laps are kept so the
// results stay visible; only a local Stop clears them.
func (s *Sequencer) RemoteFinish() {
	s.stopTimer()
	if s.state == logic.RaceIdle {
		return
	}
	s.say(logic.PhraseFinish)
	s.gen++
	s.transition(logic.RaceStopped, true)
	s.transition(logic.RaceIdle, true)
}

func (s *Sequencer) after(d time.Duration, f func()) {
	gen := s.gen
	s.cfg.Clock.AfterFunc(d, func() {
		if gen != s.gen {
			s.log.Debug("discarding stale race continuation", "generation", gen, "current", s.gen)
			return
		}
		f()
	})
}

func (s *Sequencer) transition(to logic.RaceState, remote bool) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if to != logic.RaceCountdown {
		s.remote = false
	}
	s.log.Info("race state", "from", from, "to", to, "race_id", s.raceID, "remote", remote)
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(Transition{From: from, To: to, RaceID: s.raceID, Remote: remote})
	}
}

func (s *Sequencer) say(text string) {
	if s.cfg.Announcer != nil {
		s.cfg.Announcer.Enqueue(text)
	}
}

func (s *Sequencer) rate() float64 {
	if s.cfg.Announcer == nil {
		return 1
	}
	return s.cfg.Announcer.Rate()
}

func (s *Sequencer) startTimer() {
	if s.cfg.Timer != nil {
		s.cfg.Timer.StartTimer()
	}
}

func (s *Sequencer) stopTimer() {
	if s.cfg.Timer != nil {
		s.cfg.Timer.StopTimer()
	}
}
