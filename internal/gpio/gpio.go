// Package gpio provides the tone capability on a GPIO-driven buzzer.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"log/slog"
	"time"
)

// Waveform is the requested tone shape. A GPIO line can only produce a
// square wave, so other shapes are approximated by one.
type Waveform string

const (
	Square Waveform = "square"
	Sine   Waveform = "sine"
)

// Toner plays tones. Tone is fire-and-forget: it never blocks the caller
// for the length of the tone.
type Toner interface {
	Tone(duration time.Duration, frequencyHz int, wave Waveform)
}

// Default buzzer location (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultLine = 27
)

// LogBuzzer is a Toner for setups with no buzzer; it only logs.
type LogBuzzer struct {
	Logger *slog.Logger
}

// Tone logs the tone at debug level.
func (b LogBuzzer) Tone(duration time.Duration, frequencyHz int, wave Waveform) {
	log := b.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("tone", "duration", duration, "hz", frequencyHz, "wave", wave)
}
