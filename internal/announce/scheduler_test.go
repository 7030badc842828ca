package announce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManualScheduler returns an enabled scheduler whose drain loop never
// fires on its own, so tests drive it through Poll.
func newManualScheduler(t *testing.T, sp Speaker) *Scheduler {
	t.Helper()
	s := NewScheduler(Config{Speaker: sp, Rate: 1.5, Poll: time.Hour})
	s.Enable(context.Background())
	t.Cleanup(s.Disable)
	return s
}

func TestEnqueueWhileDisabledIsNoop(t *testing.T) {
	s := NewScheduler(Config{Speaker: NewFakeSpeaker()})

	assert.False(t, s.Enqueue("hello"))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Enabled())
}

func TestFIFODispatchOrder(t *testing.T) {
	sp := NewFakeSpeaker()
	s := newManualScheduler(t, sp)

	require.True(t, s.Enqueue("A"))
	require.True(t, s.Enqueue("B"))
	require.True(t, s.Enqueue("C"))

	for range 3 {
		_, ok := s.Poll(context.Background())
		require.True(t, ok)
	}
	_, ok := s.Poll(context.Background())
	assert.False(t, ok, "empty queue dispatches nothing")

	assert.Equal(t, []string{"A", "B", "C"}, sp.Spoken())
	assert.Equal(t, []float64{1.5, 1.5, 1.5}, sp.Rates())
}

func TestPollWaitsWhileSpeaking(t *testing.T) {
	sp := NewFakeSpeaker()
	sp.HoldSpeaking = true
	s := newManualScheduler(t, sp)

	s.Enqueue("A")
	s.Enqueue("B")

	item, ok := s.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, "A", item.Text)

	_, ok = s.Poll(context.Background())
	assert.False(t, ok, "second item must wait for the first to finish")
	assert.Equal(t, 1, s.Len())

	sp.Finish()
	item, ok = s.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, "B", item.Text)
	assert.Equal(t, []string{"A", "B"}, sp.Spoken())
}

func TestDisableKeepsQueue(t *testing.T) {
	sp := NewFakeSpeaker()
	sp.HoldSpeaking = true
	s := NewScheduler(Config{Speaker: sp, Poll: time.Hour})
	s.Enable(context.Background())

	s.Enqueue("A")
	s.Enqueue("B")
	s.Disable()

	assert.False(t, s.Enabled())
	assert.Equal(t, 2, s.Len(), "disable pauses draining without clearing")
	assert.False(t, s.Enqueue("C"))

	s.Enable(context.Background())
	t.Cleanup(s.Disable)
	item, ok := s.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, "A", item.Text)
}

func TestNoSpeakerDropsAtDispatch(t *testing.T) {
	s := newManualScheduler(t, nil)

	require.True(t, s.Enqueue("A"), "queue still accepts without a backend")
	item, ok := s.Poll(context.Background())
	require.True(t, ok)
	assert.Equal(t, "A", item.Text)
	assert.Equal(t, 0, s.Len())
}

func TestUnavailableSpeakerDropsItems(t *testing.T) {
	sp := NewFakeSpeaker()
	sp.Unavailable = true
	s := newManualScheduler(t, sp)

	s.Enqueue("A")
	s.Enqueue("B")
	s.Poll(context.Background())
	s.Poll(context.Background())

	assert.Empty(t, sp.Spoken())
	assert.Equal(t, 0, s.Len())
}

func TestDrainLoopRunsOnInterval(t *testing.T) {
	sp := NewFakeSpeaker()
	s := NewScheduler(Config{Speaker: sp, Poll: 5 * time.Millisecond})
	s.Enable(context.Background())
	defer s.Disable()

	s.Enqueue("A")
	s.Enqueue("B")

	require.Eventually(t, func() bool { return len(sp.Spoken()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, sp.Spoken())
}

func TestDrainLoopStopsOnContextCancel(t *testing.T) {
	sp := NewFakeSpeaker()
	s := NewScheduler(Config{Speaker: sp, Poll: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	s.Enable(ctx)
	cancel()

	// Disable must still return promptly once the loop has exited.
	done := make(chan struct{})
	go func() {
		s.Disable()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Disable did not return")
	}
}

func TestContextCancelDisablesScheduler(t *testing.T) {
	sp := NewFakeSpeaker()
	s := NewScheduler(Config{Speaker: sp, Poll: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	s.Enable(ctx)
	cancel()

	require.Eventually(t, func() bool { return !s.Enabled() }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Enqueue("lost"), "nothing is accepted without a drain loop")

	s.Enable(context.Background())
	defer s.Disable()
	require.True(t, s.Enqueue("A"))
	require.Eventually(t, func() bool { return len(sp.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A"}, sp.Spoken())
}

func TestSetRate(t *testing.T) {
	sp := NewFakeSpeaker()
	s := newManualScheduler(t, sp)

	s.SetRate(2)
	s.SetRate(-1) // ignored
	assert.Equal(t, 2.0, s.Rate())

	s.Enqueue("A")
	s.Poll(context.Background())
	assert.Equal(t, []float64{2}, sp.Rates())
}

func TestEnqueueStampsTime(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(Config{Speaker: NewFakeSpeaker(), Poll: time.Hour, Now: func() time.Time { return at }})
	s.Enable(context.Background())
	defer s.Disable()

	s.Enqueue("A")
	item, ok := s.Poll(context.Background())
	require.True(t, ok)
	assert.True(t, item.Enqueued.Equal(at))
}

func TestExecSpeakerMissingCommand(t *testing.T) {
	sp := NewExecSpeaker("definitely-not-a-speech-program", nil)

	assert.False(t, sp.Available())
	assert.ErrorIs(t, sp.Speak(context.Background(), "hi", 1), ErrSpeechUnavailable)
	assert.False(t, sp.IsSpeaking())
}
