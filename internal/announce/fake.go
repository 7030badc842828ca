package announce

import (
	"context"
	"sync"
)

// FakeSpeaker records spoken text for test assertions.
type FakeSpeaker struct {
	mu sync.Mutex

	spoken   []string
	rates    []float64
	speaking bool

	// Unavailable makes Speak return ErrSpeechUnavailable.
	Unavailable bool

	// HoldSpeaking keeps IsSpeaking true after each Speak until Finish is called.
	HoldSpeaking bool
}

// NewFakeSpeaker creates an idle FakeSpeaker.
func NewFakeSpeaker() *FakeSpeaker {
	return &FakeSpeaker{}
}

// Speak records the text.
func (f *FakeSpeaker) Speak(_ context.Context, text string, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Unavailable {
		return ErrSpeechUnavailable
	}
	f.spoken = append(f.spoken, text)
	f.rates = append(f.rates, rate)
	if f.HoldSpeaking {
		f.speaking = true
	}
	return nil
}

// IsSpeaking reports the scripted speaking state.
func (f *FakeSpeaker) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking
}

// Finish ends the current utterance.
func (f *FakeSpeaker) Finish() {
	f.mu.Lock()
	f.speaking = false
	f.mu.Unlock()
}

// Spoken returns everything spoken so far, in order.
func (f *FakeSpeaker) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

// Rates returns the rate multiplier used for each utterance.
func (f *FakeSpeaker) Rates() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.rates))
	copy(out, f.rates)
	return out
}
