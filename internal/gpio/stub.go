//go:build !linux

package gpio

import (
	"errors"
	"log/slog"
	"time"
)

// RealBuzzer is not available on non-Linux platforms.
type RealBuzzer struct{}

// NewRealBuzzer returns an error on non-Linux platforms.
func NewRealBuzzer(chipName string, offset int, passive bool, logger *slog.Logger) (*RealBuzzer, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Tone is not implemented on non-Linux platforms.
func (b *RealBuzzer) Tone(duration time.Duration, frequencyHz int, wave Waveform) {}

// Close is not implemented on non-Linux platforms.
func (b *RealBuzzer) Close() error {
	return nil
}
