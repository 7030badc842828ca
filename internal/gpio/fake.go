package gpio

import (
	"sync"
	"time"
)

// ToneCall is one recorded tone.
type ToneCall struct {
	Duration  time.Duration
	Frequency int
	Wave      Waveform
}

// FakeBuzzer records tones for test assertions.
type FakeBuzzer struct {
	mu    sync.Mutex
	tones []ToneCall
}

// NewFakeBuzzer creates an empty FakeBuzzer.
func NewFakeBuzzer() *FakeBuzzer {
	return &FakeBuzzer{}
}

// Tone records the call.
func (f *FakeBuzzer) Tone(duration time.Duration, frequencyHz int, wave Waveform) {
	f.mu.Lock()
	f.tones = append(f.tones, ToneCall{Duration: duration, Frequency: frequencyHz, Wave: wave})
	f.mu.Unlock()
}

// Tones returns the recorded tones in order.
func (f *FakeBuzzer) Tones() []ToneCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ToneCall, len(f.tones))
	copy(out, f.tones)
	return out
}

// Reset clears recorded tones.
func (f *FakeBuzzer) Reset() {
	f.mu.Lock()
	f.tones = nil
	f.mu.Unlock()
}
