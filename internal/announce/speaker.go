// Package announce serialises spoken announcements against a speech backend.
package announce

import (
	"context"
	"errors"
)

// ErrSpeechUnavailable is returned by a Speaker with no working backend.
var ErrSpeechUnavailable = errors.New("speech backend unavailable")

// Speaker is the speech capability.
type Speaker interface {
	// Speak starts speaking text at the given rate multiplier and returns
	// without waiting for speech to finish.
	Speak(ctx context.Context, text string, rate float64) error

	// IsSpeaking reports whether speech is currently in progress.
	IsSpeaking() bool
}
