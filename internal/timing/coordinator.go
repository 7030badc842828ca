package timing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/gate-timer/internal/announce"
	"github.com/sweeney/gate-timer/internal/device"
	"github.com/sweeney/gate-timer/internal/event"
	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/metrics"
	"github.com/sweeney/gate-timer/internal/mqtt"
	"github.com/sweeney/gate-timer/internal/race"
	"github.com/sweeney/gate-timer/internal/status"
)

// Defaults for Config.
const (
	DefaultTick          = 200 * time.Millisecond
	DefaultSeriesLength  = 300
	DefaultDeviceTimeout = 5 * time.Second

	eventQueueSize  = 64
	deviceQueueSize = 16
)

// ErrStopped is returned by control calls once the loop has exited.
var ErrStopped = errors.New("coordinator stopped")

// Device is the part of the device API the coordinator drives.
type Device interface {
	StartTimer(ctx context.Context) error
	StopTimer(ctx context.Context) error
	StartSignal(ctx context.Context) error
	StopSignal(ctx context.Context) error
	GetConfig(ctx context.Context) (device.Config, error)
	SaveConfig(ctx context.Context, cfg device.Config) error
}

// Config wires a Coordinator.
type Config struct {
	Device    Device              // nil runs without a device
	Announcer *announce.Scheduler // nil gets a scheduler with no speaker
	Toner     gpio.Toner          // nil logs tones
	Publisher mqtt.Publisher      // nil disables the MQTT mirror
	Tracker   *status.Tracker     // nil disables status snapshots
	Logger    *slog.Logger

	Enter int
	Exit  int
	Mode  logic.AnnouncerMode
	Pilot string

	Tick          time.Duration
	SeriesLength  int
	DeviceTimeout time.Duration

	// Test hooks.
	TickC      <-chan time.Time
	Clock      race.Clock // must run continuations on the loop; defaults to a timer clock
	Now        func() time.Time
	RandomHold func() time.Duration
}

type command struct {
	fn   func() error
	done chan error
}

type deviceCall struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator owns the timing state and runs the coordination loop.
type Coordinator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	events  chan event.Event
	wake    chan func()
	cmds    chan command
	calls   chan deviceCall
	started chan struct{}
	done    chan struct{}
	ctx     context.Context

	detector  *logic.Detector
	samples   *logic.SampleBuffer
	ledger    *logic.Ledger
	seq       *race.Sequencer
	ingest    *Ingestor
	announcer *announce.Scheduler
	timer     *raceTimer

	mode      logic.AnnouncerMode
	pilot     string
	level     int
	series    []logic.Point
	battery   *status.Battery
	deviceCfg *device.Config
}

// New creates a Coordinator. Nothing runs until Run is called.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Toner == nil {
		cfg.Toner = gpio.LogBuzzer{Logger: cfg.Logger}
	}
	if cfg.Announcer == nil {
		cfg.Announcer = announce.NewScheduler(announce.Config{Logger: cfg.Logger})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.SeriesLength <= 0 {
		cfg.SeriesLength = DefaultSeriesLength
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = DefaultDeviceTimeout
	}
	if cfg.Enter == 0 && cfg.Exit == 0 {
		cfg.Enter, cfg.Exit = logic.DefaultEnterLevel, logic.DefaultExitLevel
	}

	c := &Coordinator{
		cfg:       cfg,
		log:       cfg.Logger,
		now:       cfg.Now,
		events:    make(chan event.Event, eventQueueSize),
		wake:      make(chan func()),
		cmds:      make(chan command),
		calls:     make(chan deviceCall, deviceQueueSize),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		detector:  logic.NewDetector(cfg.Enter, cfg.Exit),
		samples:   logic.NewSampleBuffer(logic.SampleBufferSize),
		ledger:    logic.NewLedger(),
		announcer: cfg.Announcer,
		mode:      cfg.Mode,
		pilot:     cfg.Pilot,
	}
	c.timer = &raceTimer{c: c}

	clock := cfg.Clock
	if clock == nil {
		clock = loopClock{c: c}
	}
	c.seq = race.NewSequencer(race.Config{
		Clock:        clock,
		Announcer:    c.announcer,
		Toner:        cfg.Toner,
		Timer:        c.timer,
		Laps:         c.ledger,
		Logger:       cfg.Logger,
		RandomHold:   cfg.RandomHold,
		OnTransition: c.onTransition,
	})
	c.ingest = NewIngestor(c.samples, c, remoteRace{c}, c, c.announcer, cfg.Toner, cfg.Now, cfg.Logger)
	return c
}

// Started is closed once Run has entered its loop.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// Deliver parses a raw device event and queues it for the loop. Malformed
// events are logged and dropped. Safe to call from any goroutine.
func (c *Coordinator) Deliver(kind string, data []byte) {
	ev, err := event.Parse(kind, data)
	if err != nil {
		metrics.EventsMalformed.Inc()
		c.log.Warn("dropping event", "kind", kind, "error", err)
		return
	}
	c.Submit(ev)
}

// Submit queues a parsed event for the loop, preserving arrival order.
func (c *Coordinator) Submit(ev event.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run runs the coordination loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	tick := c.cfg.TickC
	if tick == nil {
		t := time.NewTicker(c.cfg.Tick)
		defer t.Stop()
		tick = t.C
	}

	c.ctx = ctx
	go c.deviceWorker(ctx)

	c.log.Info("coordinator started", "enter", c.cfg.Enter, "exit", c.cfg.Exit, "mode", c.mode, "tick", c.cfg.Tick)
	c.refresh()
	close(c.started)
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopped")
			return nil

		case ev := <-c.events:
			c.ingest.Handle(ev)
			c.refresh()

		case now := <-tick:
			// Samples that arrived before this tick must be visible to it.
			c.drainEvents()
			c.tick(now)
			c.refresh()

		case f := <-c.wake:
			f()
			c.refresh()

		case cmd := <-c.cmds:
			// Commands see every event delivered before them.
			c.drainEvents()
			err := cmd.fn()
			c.refresh()
			cmd.done <- err
		}
	}
}

func (c *Coordinator) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			c.ingest.Handle(ev)
		default:
			return
		}
	}
}

// tick runs one detector step.
func (c *Coordinator) tick(now time.Time) {
	if !c.detector.Active() {
		c.detector.Step(0, false)
		return
	}

	s, ok := c.samples.Pop()
	changed := c.detector.Step(s.Level, ok)
	if ok {
		c.level = s.Level
		metrics.SignalLevel.Set(float64(s.Level))
	}
	// Every active tick charts a point; with no fresh sample the last level repeats.
	c.appendPoint(logic.Point{Time: now, Level: c.level, Crossing: c.detector.Crossing()})

	if changed {
		if c.detector.Crossing() {
			metrics.Crossings.Inc()
		}
		c.log.Debug("crossing state", "state", c.detector.State(), "level", c.level)
	}
}

func (c *Coordinator) appendPoint(p logic.Point) {
	c.series = append(c.series, p)
	if over := len(c.series) - c.cfg.SeriesLength; over > 0 {
		c.series = c.series[over:]
	}
}

// RecordLap appends a lap and announces it. Loop goroutine only.
func (c *Coordinator) RecordLap(seconds decimal.Decimal) {
	lap := c.ledger.Append(seconds, c.now())
	metrics.LapsRecorded.Inc()
	c.log.Info("lap", "index", lap.Index, "duration", lap.Duration.StringFixed(logic.LapPrecision), "race_id", c.seq.RaceID())

	if c.mode == logic.ModeTone {
		play(c.cfg.Toner, LapTone)
	} else if text, ok := logic.LapAnnouncement(c.mode, c.pilot, lap); ok {
		c.announcer.Enqueue(text)
	}

	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.PublishLap(mqtt.LapEvent{RaceID: c.seq.RaceID(), Pilot: c.pilot, Lap: lap}); err != nil {
			c.log.Warn("mqtt lap publish failed", "error", err)
		}
	}
}

// BatteryWarning sounds the battery alarm. Loop goroutine only.
func (c *Coordinator) BatteryWarning(voltage, percentage float64) {
	c.log.Warn("device battery low", "voltage", voltage, "percentage", percentage)
	play(c.cfg.Toner, BatteryTone)
	c.seqClock().AfterFunc(BatteryToneGap, func() { play(c.cfg.Toner, BatteryTone) })
	c.announcer.Enqueue(logic.BatteryAnnouncement(percentage))
	c.battery = &status.Battery{Voltage: voltage, Percentage: percentage, At: c.now()}
}

func (c *Coordinator) seqClock() race.Clock {
	if c.cfg.Clock != nil {
		return c.cfg.Clock
	}
	return loopClock{c: c}
}

func (c *Coordinator) onTransition(t race.Transition) {
	if c.cfg.Publisher == nil {
		return
	}
	err := c.cfg.Publisher.PublishRace(mqtt.RaceEvent{
		Timestamp: c.now(),
		RaceID:    t.RaceID,
		From:      t.From,
		To:        t.To,
		Remote:    t.Remote,
	})
	if err != nil {
		c.log.Warn("mqtt race publish failed", "error", err)
	}
}

// refresh pushes the current state to the status tracker.
func (c *Coordinator) refresh() {
	if c.cfg.Tracker == nil {
		return
	}
	laps := c.ledger.Laps()
	c.cfg.Tracker.UpdateCore(status.Core{
		Race:            c.seq.State(),
		RaceID:          c.seq.RaceID(),
		RaceStarted:     c.timer.started,
		RaceEnded:       c.timer.ended,
		CanStart:        c.seq.CanStart(),
		CanStop:         c.seq.CanStop(),
		Laps:            laps,
		Summary:         logic.Summarize(laps),
		Thresholds:      c.detector.Thresholds(),
		Crossing:        c.detector.State(),
		DetectionActive: c.detector.Active(),
		Level:           c.level,
		Bounds:          c.detector.DisplayBounds(),
		Series:          c.series,
		SamplesDropped:  c.samples.Dropped(),
		Battery:         c.battery,
		Announcer: status.Announcer{
			Enabled: c.announcer.Enabled(),
			Queued:  c.announcer.Len(),
			Mode:    c.mode,
			Rate:    c.announcer.Rate(),
			Pilot:   c.pilot,
		},
	})
}

// exec runs fn on the loop goroutine and returns its error.
func (c *Coordinator) exec(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// device queues an asynchronous device call. Calls run one at a time in
// submission order; if the queue is full the call is dropped.
func (c *Coordinator) device(name string, fn func(ctx context.Context) error) {
	if c.cfg.Device == nil {
		return
	}
	select {
	case c.calls <- deviceCall{name: name, fn: fn}:
	default:
		c.log.Warn("device call queue full, dropping", "call", name)
	}
}

func (c *Coordinator) deviceWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-c.calls:
			cctx, cancel := context.WithTimeout(ctx, c.cfg.DeviceTimeout)
			err := call.fn(cctx)
			cancel()
			if err != nil {
				c.log.Warn("device call failed", "call", call.name, "error", err)
			} else {
				c.log.Debug("device call ok", "call", call.name)
			}
		}
	}
}

// loopClock runs continuations on the coordinator loop.
type loopClock struct {
	c *Coordinator
}

func (l loopClock) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		select {
		case l.c.wake <- f:
		case <-l.c.done:
		}
	})
}

// raceTimer tracks the race timer and mirrors local starts and stops to the
// device. Starting a running timer or stopping a stopped one does nothing.
type raceTimer struct {
	c       *Coordinator
	running bool
	started time.Time
	ended   time.Time
}

func (t *raceTimer) StartTimer() {
	if t.observe(true) {
		t.c.device("start timer", func(ctx context.Context) error { return t.c.cfg.Device.StartTimer(ctx) })
	}
}

func (t *raceTimer) StopTimer() {
	if t.observe(false) {
		t.c.device("stop timer", func(ctx context.Context) error { return t.c.cfg.Device.StopTimer(ctx) })
	}
}

// observe records a timer state change without calling the device. It
// reports whether the state changed.
func (t *raceTimer) observe(running bool) bool {
	if t.running == running {
		return false
	}
	t.running = running
	if running {
		t.started = t.c.now()
		t.ended = time.Time{}
	} else {
		t.ended = t.c.now()
	}
	return true
}

// remoteRace applies device race signals. The device already owns its timer
// for these, so the local timer only follows.
type remoteRace struct {
	c *Coordinator
}

func (r remoteRace) RemoteCountdown(n int) {
	r.c.seq.RemoteCountdown(n)
}

func (r remoteRace) RemoteStart() {
	r.c.timer.observe(true)
	r.c.seq.RemoteStart()
}

func (r remoteRace) RemoteFinish() {
	r.c.timer.observe(false)
	r.c.seq.RemoteFinish()
}
