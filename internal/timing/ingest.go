// Package timing ties the race timing core together. A Coordinator owns the
// crossing detector, lap ledger and race sequencer and mutates them from a
// single goroutine; telemetry, detector ticks, timed continuations and control
// commands are all serialised through its loop.
package timing

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/gate-timer/internal/event"
	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/metrics"
)

// LapRecorder appends laps to the ledger.
type LapRecorder interface {
	RecordLap(seconds decimal.Decimal)
}

// RaceSignals receives device-driven race transitions.
type RaceSignals interface {
	RemoteCountdown(n int)
	RemoteStart()
	RemoteFinish()
}

// Announcer queues text for speech.
type Announcer interface {
	Enqueue(text string) bool
}

// BatteryAlerter receives low battery warnings.
type BatteryAlerter interface {
	BatteryWarning(voltage, percentage float64)
}

// Ingestor dispatches inbound telemetry. It never blocks: samples go into the
// ring buffer for the detector, everything else is handed to its collaborator
// directly, and tones fire before anything is queued for speech.
type Ingestor struct {
	samples *logic.SampleBuffer
	laps    LapRecorder
	race    RaceSignals
	alerts  BatteryAlerter
	speech  Announcer
	toner   gpio.Toner
	now     func() time.Time
	log     *slog.Logger
}

// NewIngestor wires an Ingestor. toner and now may be nil.
func NewIngestor(samples *logic.SampleBuffer, laps LapRecorder, race RaceSignals, alerts BatteryAlerter, speech Announcer, toner gpio.Toner, now func() time.Time, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if toner == nil {
		toner = gpio.LogBuzzer{Logger: logger}
	}
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		samples: samples,
		laps:    laps,
		race:    race,
		alerts:  alerts,
		speech:  speech,
		toner:   toner,
		now:     now,
		log:     logger,
	}
}

// Handle processes one event.
func (in *Ingestor) Handle(ev event.Event) {
	metrics.EventsReceived.WithLabelValues(string(ev.Kind())).Inc()

	switch e := ev.(type) {
	case event.Signal:
		if in.samples.Push(logic.Sample{Time: in.now(), Level: e.Level}) {
			metrics.SamplesDropped.Inc()
		}

	case event.Lap:
		in.laps.RecordLap(logic.SecondsFromMillis(e.DurationMs))

	case event.LapComplete:
		play(in.toner, LapCompleteTone)
		seconds := logic.SecondsFromMillis(e.TimeMs)
		in.log.Debug("lap complete", "lap", e.Lap, "time_ms", e.TimeMs)
		in.speech.Enqueue(logic.LapCompleteAnnouncement(e.Lap, seconds))
		in.laps.RecordLap(seconds)

	case event.Countdown:
		play(in.toner, CountdownTone)
		in.race.RemoteCountdown(e.N)

	case event.RaceSignal:
		play(in.toner, RaceSignalTone)
		if e.Start {
			in.race.RemoteStart()
		} else {
			in.race.RemoteFinish()
		}

	case event.BatteryWarning:
		in.alerts.BatteryWarning(e.Voltage, e.Percentage)

	default:
		in.log.Warn("unhandled event", "kind", ev.Kind())
	}
}
