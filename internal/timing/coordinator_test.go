package timing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/gate-timer/internal/announce"
	"github.com/sweeney/gate-timer/internal/device"
	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/mqtt"
	"github.com/sweeney/gate-timer/internal/race"
	"github.com/sweeney/gate-timer/internal/status"
)

// fakeClock runs continuations when advanced. Advance must be called on
// the loop goroutine (through harness.advance).
type fakeClock struct {
	now     time.Duration
	seq     int
	pending []pendingFunc
}

type pendingFunc struct {
	at  time.Duration
	seq int
	f   func()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) {
	c.seq++
	c.pending = append(c.pending, pendingFunc{at: c.now + d, seq: c.seq, f: f})
}

func (c *fakeClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		sort.SliceStable(c.pending, func(i, j int) bool {
			if c.pending[i].at != c.pending[j].at {
				return c.pending[i].at < c.pending[j].at
			}
			return c.pending[i].seq < c.pending[j].seq
		})
		if len(c.pending) == 0 || c.pending[0].at > target {
			break
		}
		p := c.pending[0]
		c.pending = c.pending[1:]
		c.now = p.at
		p.f()
	}
	c.now = target
}

type fakeDevice struct {
	mu     sync.Mutex
	calls  []string
	cfg    device.Config
	saved  []device.Config
	getErr error
	onSave func()
}

func (d *fakeDevice) record(name string) error {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) StartTimer(context.Context) error  { return d.record("start timer") }
func (d *fakeDevice) StopTimer(context.Context) error   { return d.record("stop timer") }
func (d *fakeDevice) StartSignal(context.Context) error { return d.record("start signal") }
func (d *fakeDevice) StopSignal(context.Context) error  { return d.record("stop signal") }

func (d *fakeDevice) GetConfig(context.Context) (device.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.getErr
}

func (d *fakeDevice) SaveConfig(_ context.Context, cfg device.Config) error {
	d.mu.Lock()
	d.saved = append(d.saved, cfg)
	hook := d.onSave
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type harness struct {
	c       *Coordinator
	tick    chan time.Time
	clock   *fakeClock
	toner   *gpio.FakeBuzzer
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	dev     *fakeDevice
	speaker *announce.FakeSpeaker
	sched   *announce.Scheduler
	cancel  context.CancelFunc
	stopped chan struct{}
}

const holdForTests = time.Second

func newHarness(t *testing.T, mods ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		tick:    make(chan time.Time),
		clock:   &fakeClock{},
		toner:   gpio.NewFakeBuzzer(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
		dev:     &fakeDevice{},
		speaker: announce.NewFakeSpeaker(),
		stopped: make(chan struct{}),
	}
	h.sched = announce.NewScheduler(announce.Config{Speaker: h.speaker, Poll: time.Hour})

	cfg := Config{
		Device:     h.dev,
		Announcer:  h.sched,
		Toner:      h.toner,
		Publisher:  h.pub,
		Tracker:    h.tracker,
		Enter:      120,
		Exit:       100,
		Mode:       logic.ModeOneLap,
		TickC:      h.tick,
		Clock:      h.clock,
		RandomHold: func() time.Duration { return holdForTests },
	}
	for _, m := range mods {
		m(&cfg)
	}
	h.c = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.sched.Enable(ctx)
	go func() {
		_ = h.c.Run(ctx)
		close(h.stopped)
	}()
	<-h.c.Started()

	t.Cleanup(func() {
		cancel()
		<-h.stopped
		h.sched.Disable()
	})
	return h
}

// do runs fn on the loop after every previously delivered event.
func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.c.exec(context.Background(), func() error {
		fn()
		return nil
	}))
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.do(t, func() { h.clock.Advance(d) })
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	h.do(t, func() {})
}

func (h *harness) snapshot(t *testing.T) status.Snapshot {
	t.Helper()
	h.sync(t)
	return h.tracker.Snapshot()
}

// spoken drains the announcement queue and returns everything spoken so far.
func (h *harness) spoken(t *testing.T) []string {
	t.Helper()
	h.sync(t)
	for {
		if _, ok := h.sched.Poll(context.Background()); !ok {
			break
		}
	}
	return h.speaker.Spoken()
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.SetDetection(context.Background(), true))
}

func TestDetectorTickConsumesOneSamplePerTick(t *testing.T) {
	tests := []struct {
		name string
		exit int
		want []logic.CrossingState
	}{
		{"dead zone holds", 80, []logic.CrossingState{logic.Below, logic.Above, logic.Above, logic.Below}},
		{"below exit releases", 100, []logic.CrossingState{logic.Below, logic.Above, logic.Below, logic.Below}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.Exit = tt.exit })
			h.activate(t)

			levels := []string{"50", "150", "90", "40"}
			for _, l := range levels {
				h.c.Deliver("rssi", []byte(l))
			}

			base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
			for i := range levels {
				h.tick <- base.Add(time.Duration(i) * DefaultTick)
				snap := h.snapshot(t)
				assert.Equal(t, tt.want[i], snap.Crossing, "tick %d", i)
			}

			snap := h.snapshot(t)
			assert.Equal(t, 40, snap.Level)
			require.Len(t, snap.Series, 4)
			assert.Equal(t, 150, snap.Series[1].Level)
			assert.True(t, snap.Series[1].Crossing)
			assert.Equal(t, base.Add(3*DefaultTick), snap.Series[3].Time)
		})
	}
}

func TestTickWithEmptyBufferKeepsState(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.c.Deliver("rssi", []byte("200"))
	h.tick <- time.Now()
	h.tick <- time.Now()
	h.tick <- time.Now()

	snap := h.snapshot(t)
	assert.Equal(t, logic.Above, snap.Crossing)
	require.Len(t, snap.Series, 3, "every active tick charts a point")
	for i, p := range snap.Series {
		assert.Equal(t, 200, p.Level, "point %d repeats the last level", i)
		assert.True(t, p.Crossing, "point %d", i)
	}
}

func TestSampleDeliveredBeforeTickIsVisible(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	// No sync between delivery and tick: the tick must still see the sample.
	h.c.Deliver("rssi", []byte("180"))
	h.tick <- time.Now()

	assert.Equal(t, logic.Above, h.snapshot(t).Crossing)
}

func TestInactiveDetectionLeavesSamplesBuffered(t *testing.T) {
	h := newHarness(t)

	h.c.Deliver("rssi", []byte("250"))
	h.c.Deliver("rssi", []byte("10"))
	h.tick <- time.Now()

	snap := h.snapshot(t)
	assert.Equal(t, logic.Below, snap.Crossing)
	assert.False(t, snap.DetectionActive)
	assert.Equal(t, logic.Bounds{Min: 90, Max: 130}, snap.Bounds)
	assert.Empty(t, snap.Series)

	h.activate(t)
	h.tick <- time.Now()
	snap = h.snapshot(t)
	assert.Equal(t, 250, snap.Level, "oldest buffered sample is consumed first")
	assert.Equal(t, logic.Above, snap.Crossing)
	assert.Equal(t, 250, snap.Bounds.Max)
}

func TestSeriesIsBounded(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SeriesLength = 3 })
	h.activate(t)

	for _, l := range []string{"1", "2", "3", "4", "5"} {
		h.c.Deliver("rssi", []byte(l))
		h.tick <- time.Now()
	}

	snap := h.snapshot(t)
	require.Len(t, snap.Series, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{snap.Series[0].Level, snap.Series[1].Level, snap.Series[2].Level})
}

func TestDetectionTogglesDeviceStream(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.SetDetection(context.Background(), true))
	require.NoError(t, h.c.SetDetection(context.Background(), true))
	require.NoError(t, h.c.SetDetection(context.Background(), false))

	require.Eventually(t, func() bool { return len(h.dev.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start signal", "stop signal"}, h.dev.Calls())
}

func TestMalformedEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.c.Deliver("rssi", []byte("loud"))
	h.c.Deliver("rssi", []byte("300"))
	h.c.Deliver("telemetry", []byte("1"))
	h.c.Deliver("lapComplete", []byte(`{"lap":1}`))
	h.c.Deliver("rssi", []byte("140"))
	h.tick <- time.Now()

	snap := h.snapshot(t)
	assert.Equal(t, 140, snap.Level)
	assert.Empty(t, snap.Laps)
}

func TestLapAnnouncementsOneLap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Pilot = "ace" })

	for _, ms := range []string{"5000", "4500", "4200", "4000"} {
		h.c.Deliver("lap", []byte(ms))
	}

	assert.Equal(t, []string{
		"Hole Shot 5.00",
		"ace Lap 1, 4.50",
		"ace Lap 2, 4.20",
		"ace Lap 3, 4.00",
	}, h.spoken(t))
	assert.Empty(t, h.toner.Tones())

	snap := h.snapshot(t)
	require.Len(t, snap.Laps, 4)
	assert.Equal(t, "8.70", snap.Laps[2].TwoLap.Decimal.StringFixed(2))
	assert.False(t, snap.Laps[2].ThreeLap.Valid)
	assert.Equal(t, "12.70", snap.Laps[3].ThreeLap.Decimal.StringFixed(2))
	assert.Equal(t, 3, snap.Summary.Count)
	assert.Equal(t, 3, snap.Summary.BestAt)
}

func TestLapAnnouncementsRollingModes(t *testing.T) {
	tests := []struct {
		mode logic.AnnouncerMode
		want []string
	}{
		{logic.ModeTwoLap, []string{"Hole Shot 5.00", "2 laps 8.70", "2 laps 8.20"}},
		{logic.ModeThreeLap, []string{"Hole Shot 5.00", "3 laps 12.70"}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.Mode = tt.mode })
			for _, ms := range []string{"5000", "4500", "4200", "4000"} {
				h.c.Deliver("lap", []byte(ms))
			}
			assert.Equal(t, tt.want, h.spoken(t))
		})
	}
}

func TestLapToneMode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Mode = logic.ModeTone })

	h.c.Deliver("lap", []byte("5000"))
	h.c.Deliver("lap", []byte("4500"))

	assert.Empty(t, h.spoken(t))
	assert.Equal(t, []gpio.ToneCall{toneCall(LapTone), toneCall(LapTone)}, h.toner.Tones())
}

func TestLapCompleteIsSpokenInToneMode(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Mode = logic.ModeTone })

	h.c.Deliver("lapComplete", []byte(`{"lap":1,"time":4230}`))

	assert.Equal(t, []string{"Lap 1, 4 23"}, h.spoken(t))
	assert.Equal(t, []gpio.ToneCall{toneCall(LapCompleteTone), toneCall(LapTone)}, h.toner.Tones())
	laps := h.snapshot(t).Laps
	require.Len(t, laps, 1)
	assert.Equal(t, "4.23", laps[0].Duration.StringFixed(2))
}

func TestLapsArePublished(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Pilot = "ace" })
	require.NoError(t, h.c.StartRace(context.Background()))

	h.c.Deliver("lap", []byte("5000"))
	h.c.Deliver("lapComplete", []byte(`{"lap":1,"time":4500}`))
	h.sync(t)

	laps := h.pub.LapEvents()
	require.Len(t, laps, 2)
	assert.Equal(t, 0, laps[0].Lap.Index)
	assert.Equal(t, 1, laps[1].Lap.Index)
	assert.Equal(t, "ace", laps[1].Pilot)
	assert.NotEmpty(t, laps[0].RaceID)
	assert.Equal(t, h.snapshot(t).RaceID, laps[0].RaceID)
}

func TestStartRaceSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.True(t, h.snapshot(t).CanStart)
	require.NoError(t, h.c.StartRace(ctx))
	assert.ErrorIs(t, h.c.StartRace(ctx), race.ErrRaceActive)
	snap := h.snapshot(t)
	assert.Equal(t, logic.RaceArming, snap.Race)
	assert.False(t, snap.CanStart)
	assert.True(t, snap.CanStop)

	armSpeak := logic.SpeakDuration(logic.PhraseArm, 1)
	h.advance(t, armSpeak)
	assert.Equal(t, logic.RaceCountdown, h.snapshot(t).Race)

	countdownSpeak := logic.SpeakDuration(logic.PhraseCountdown, 1)
	h.advance(t, holdForTests+countdownSpeak-time.Millisecond)
	assert.Equal(t, logic.RaceCountdown, h.snapshot(t).Race)
	assert.Empty(t, h.toner.Tones(), "no tone before the countdown phrase has been spoken")

	h.advance(t, time.Millisecond)
	snap := h.snapshot(t)
	assert.Equal(t, logic.RaceRacing, snap.Race)
	assert.False(t, snap.RaceStarted.IsZero())
	assert.Equal(t, []gpio.ToneCall{{Duration: race.StartToneDuration, Frequency: race.StartToneFrequency, Wave: gpio.Square}}, h.toner.Tones())

	require.Eventually(t, func() bool { return len(h.dev.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start timer"}, h.dev.Calls())

	assert.Equal(t, []string{logic.PhraseArm, logic.PhraseCountdown}, h.spoken(t))

	var states []logic.RaceState
	for _, r := range h.pub.RaceEvents() {
		states = append(states, r.To)
	}
	assert.Equal(t, []logic.RaceState{logic.RaceArming, logic.RaceCountdown, logic.RaceRacing}, states)
}

func TestStopRaceCancelsPendingStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.StartRace(ctx))
	h.advance(t, logic.SpeakDuration(logic.PhraseArm, 1))
	require.NoError(t, h.c.StopRace(ctx))
	h.advance(t, time.Minute)

	snap := h.snapshot(t)
	assert.Equal(t, logic.RaceIdle, snap.Race)
	assert.Empty(t, h.toner.Tones())
	assert.True(t, snap.RaceStarted.IsZero())
	assert.Equal(t, []string{logic.PhraseArm, logic.PhraseCountdown, logic.PhraseStopped}, h.spoken(t))

	h.sync(t)
	assert.Empty(t, h.dev.Calls(), "the device timer was never started")
}

func TestStopRaceClearsLapsAndStopsTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.c.StartRace(ctx))
	h.advance(t, time.Minute)
	h.c.Deliver("lap", []byte("5000"))
	require.Len(t, h.snapshot(t).Laps, 1)

	require.NoError(t, h.c.StopRace(ctx))
	snap := h.snapshot(t)
	assert.Empty(t, snap.Laps)
	assert.Equal(t, logic.RaceIdle, snap.Race)
	assert.False(t, snap.RaceEnded.IsZero())

	require.Eventually(t, func() bool { return len(h.dev.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start timer", "stop timer"}, h.dev.Calls())
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.StopRace(context.Background()))

	snap := h.snapshot(t)
	assert.Equal(t, logic.RaceIdle, snap.Race)
	assert.Empty(t, snap.Laps)
	assert.Empty(t, h.pub.RaceEvents())
	assert.Empty(t, h.dev.Calls())
}

func TestRemoteRaceSignals(t *testing.T) {
	h := newHarness(t)

	h.c.Deliver("countdown", []byte("3"))
	assert.Equal(t, logic.RaceCountdown, h.snapshot(t).Race)

	h.c.Deliver("race", []byte("start"))
	h.c.Deliver("race", []byte("start"))
	snap := h.snapshot(t)
	assert.Equal(t, logic.RaceRacing, snap.Race)
	assert.False(t, snap.RaceStarted.IsZero())

	h.c.Deliver("lap", []byte("5000"))
	h.c.Deliver("race", []byte("finish"))
	h.c.Deliver("race", []byte("finish"))

	snap = h.snapshot(t)
	assert.Equal(t, logic.RaceIdle, snap.Race)
	assert.Len(t, snap.Laps, 1, "a device finish keeps the results")
	assert.False(t, snap.RaceEnded.IsZero())

	assert.Equal(t, []string{"Hole Shot 5.00", logic.PhraseFinish}, h.spoken(t))
	assert.Equal(t, []gpio.ToneCall{
		toneCall(CountdownTone),
		toneCall(RaceSignalTone),
		toneCall(RaceSignalTone),
		toneCall(RaceSignalTone),
		toneCall(RaceSignalTone),
	}, h.toner.Tones())

	h.sync(t)
	assert.Empty(t, h.dev.Calls(), "device-driven races are not echoed back to the device")

	for _, r := range h.pub.RaceEvents() {
		assert.True(t, r.Remote)
	}
}

func TestBatteryWarning(t *testing.T) {
	h := newHarness(t)

	h.c.Deliver("batteryWarning", []byte(`{"voltage":3.31,"percentage":8}`))
	h.sync(t)
	assert.Equal(t, []gpio.ToneCall{toneCall(BatteryTone)}, h.toner.Tones())

	h.advance(t, BatteryToneGap)
	assert.Equal(t, []gpio.ToneCall{toneCall(BatteryTone), toneCall(BatteryTone)}, h.toner.Tones())

	assert.Equal(t, []string{"Battery 8 percent"}, h.spoken(t))

	snap := h.snapshot(t)
	require.NotNil(t, snap.Battery)
	assert.Equal(t, 3.31, snap.Battery.Voltage)
	assert.Equal(t, 8.0, snap.Battery.Percentage)
}

func TestTonesDoNotWaitForSpeech(t *testing.T) {
	h := newHarness(t)
	h.speaker.HoldSpeaking = true

	for i := 0; i < 5; i++ {
		require.NoError(t, h.c.TestAudio(context.Background()))
	}
	h.c.Deliver("countdown", []byte("1"))
	h.sync(t)

	assert.Equal(t, []gpio.ToneCall{toneCall(CountdownTone)}, h.toner.Tones())
}

func TestSetThresholds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ip := func(v int) *int { return &v }

	th, err := h.c.SetThresholds(ctx, ip(90), nil)
	require.NoError(t, err)
	assert.Equal(t, logic.Thresholds{Enter: 90, Exit: 89}, th)

	th, err = h.c.SetThresholds(ctx, nil, ip(200))
	require.NoError(t, err)
	assert.Equal(t, logic.Thresholds{Enter: 201, Exit: 200}, th)

	th, err = h.c.SetThresholds(ctx, ip(50), ip(60))
	require.NoError(t, err)
	assert.Equal(t, logic.Thresholds{Enter: 61, Exit: 60}, th, "exit is applied last and wins")

	th, err = h.c.SetThresholds(ctx, ip(-5), ip(999))
	require.NoError(t, err)
	assert.Equal(t, logic.Thresholds{Enter: 255, Exit: 254}, th)

	assert.Equal(t, th, h.snapshot(t).Thresholds)
}

func TestConfigureAnnouncer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mode := logic.ModeTwoLap
	rate := 1.5
	pilot := "ace"
	off := false
	require.NoError(t, h.c.ConfigureAnnouncer(ctx, AnnouncerSettings{Mode: &mode, Rate: &rate, Pilot: &pilot, Enabled: &off}))

	snap := h.snapshot(t)
	assert.Equal(t, status.Announcer{Enabled: false, Mode: logic.ModeTwoLap, Rate: 1.5, Pilot: "ace"}, snap.Announcer)

	bad := 0.0
	assert.ErrorIs(t, h.c.ConfigureAnnouncer(ctx, AnnouncerSettings{Rate: &bad}), ErrInvalidRate)

	// disabled: announcements are not accepted
	h.c.Deliver("lap", []byte("5000"))
	assert.Equal(t, 0, h.snapshot(t).Announcer.Queued)
}

func TestTestAudio(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Pilot = "ace" })

	require.NoError(t, h.c.TestAudio(context.Background()))

	assert.Equal(t, []string{"testing sound for pilot ace", "1", "2", "3"}, h.spoken(t))
}

func TestSyncAndSaveDeviceConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dev.cfg = device.Config{
		Frequency:     5800,
		MinLapTenths:  100,
		AnnouncerType: 2,
		RateTenths:    15,
		EnterLevel:    140,
		ExitLevel:     110,
		PilotName:     "ace",
	}

	require.NoError(t, h.c.SyncDeviceConfig(ctx))
	snap := h.snapshot(t)
	assert.Equal(t, logic.Thresholds{Enter: 140, Exit: 110}, snap.Thresholds)
	assert.Equal(t, logic.ModeTwoLap, snap.Announcer.Mode)
	assert.Equal(t, 1.5, snap.Announcer.Rate)
	assert.Equal(t, "ace", snap.Announcer.Pilot)

	enter := 150
	_, err := h.c.SetThresholds(ctx, &enter, nil)
	require.NoError(t, err)
	require.NoError(t, h.c.SaveDeviceConfig(ctx))

	require.Len(t, h.dev.saved, 1)
	saved := h.dev.saved[0]
	assert.Equal(t, 5800, saved.Frequency, "unrelated device settings are preserved")
	assert.Equal(t, 100, saved.MinLapTenths)
	assert.Equal(t, 150, saved.EnterLevel)
	assert.Equal(t, 110, saved.ExitLevel)
	assert.Equal(t, 2, saved.AnnouncerType)
	assert.Equal(t, 15, saved.RateTenths)
}

func TestSaveDeviceConfigLogsWhenLoopStops(t *testing.T) {
	logs := &syncBuffer{}
	h := newHarness(t, func(c *Config) {
		c.Logger = slog.New(slog.NewTextHandler(logs, nil))
	})
	ctx := context.Background()
	h.dev.cfg = device.Config{EnterLevel: 140, ExitLevel: 110}
	require.NoError(t, h.c.SyncDeviceConfig(ctx))

	h.dev.onSave = func() {
		h.cancel()
		<-h.stopped
	}
	require.NoError(t, h.c.SaveDeviceConfig(ctx), "the device accepted the config")
	require.Len(t, h.dev.saved, 1)
	assert.Contains(t, logs.String(), "saved device config not recorded")
	assert.Contains(t, logs.String(), ErrStopped.Error())
}

func TestSyncDeviceConfigLowThresholds(t *testing.T) {
	h := newHarness(t)
	h.dev.cfg = device.Config{EnterLevel: 60, ExitLevel: 40}

	require.NoError(t, h.c.SyncDeviceConfig(context.Background()))
	assert.Equal(t, logic.Thresholds{Enter: 60, Exit: 40}, h.snapshot(t).Thresholds)
}

func TestSyncDeviceConfigFailure(t *testing.T) {
	h := newHarness(t)
	h.dev.getErr = errors.New("timeout")

	err := h.c.SyncDeviceConfig(context.Background())
	require.Error(t, err)
	assert.Equal(t, logic.Thresholds{Enter: 120, Exit: 100}, h.snapshot(t).Thresholds)
}

func TestSaveDeviceConfigNeedsRead(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.c.SaveDeviceConfig(context.Background()), ErrDeviceConfigUnknown)

	h2 := newHarness(t, func(c *Config) { c.Device = nil })
	assert.ErrorIs(t, h2.c.SaveDeviceConfig(context.Background()), ErrNoDevice)
	assert.ErrorIs(t, h2.c.SyncDeviceConfig(context.Background()), ErrNoDevice)
}

func TestRunsWithoutDevice(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Device = nil })
	ctx := context.Background()

	require.NoError(t, h.c.SetDetection(ctx, true))
	require.NoError(t, h.c.StartRace(ctx))
	h.advance(t, time.Minute)
	require.NoError(t, h.c.StopRace(ctx))
	assert.Equal(t, logic.RaceIdle, h.snapshot(t).Race)
}

func TestControlAfterStop(t *testing.T) {
	h := newHarness(t)
	h.cancel()
	<-h.stopped

	assert.ErrorIs(t, h.c.StartRace(context.Background()), ErrStopped)

	// delivering after the loop has gone must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventQueueSize*2; i++ {
			h.c.Deliver("rssi", []byte("1"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked after stop")
	}
}
