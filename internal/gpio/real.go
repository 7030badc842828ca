//go:build linux

package gpio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// lineWriter is the output side of a requested line.
type lineWriter interface {
	SetValue(value int) error
}

// RealBuzzer drives a buzzer on a GPIO output line.
// A passive buzzer is toggled at the tone frequency; an active buzzer is
// simply held on for the tone duration.
type RealBuzzer struct {
	chip    *gpiocdev.Chip
	line    *gpiocdev.Line
	out     lineWriter
	passive bool
	log     *slog.Logger

	mu     sync.Mutex
	stop   chan struct{} // closes to cut the current tone short
	done   chan struct{} // closed once the current player has released the line
	closed bool
}

// NewRealBuzzer requests the given line as an output, initially low.
func NewRealBuzzer(chipName string, offset int, passive bool, logger *slog.Logger) (*RealBuzzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request buzzer line %d: %w", offset, err)
	}

	return &RealBuzzer{
		chip:    chip,
		line:    line,
		out:     line,
		passive: passive,
		log:     logger,
	}, nil
}

// Tone starts a tone and returns immediately. A new tone replaces one that
// is still playing.
func (b *RealBuzzer) Tone(duration time.Duration, frequencyHz int, wave Waveform) {
	if duration <= 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.stop != nil {
		close(b.stop)
	}
	prev := b.done
	stop, done := make(chan struct{}), make(chan struct{})
	b.stop, b.done = stop, done
	b.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		b.play(duration, frequencyHz, stop)
	}()
}

// play owns the line until it returns. Only one player runs at a time.
func (b *RealBuzzer) play(duration time.Duration, frequencyHz int, stop <-chan struct{}) {
	defer b.set(0)

	select {
	case <-stop:
		return
	default:
	}

	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	if !b.passive || frequencyHz <= 0 {
		b.set(1)
		select {
		case <-deadline.C:
		case <-stop:
		}
		return
	}

	half := time.Second / time.Duration(2*frequencyHz)
	if half <= 0 {
		half = time.Microsecond
	}
	toggle := time.NewTicker(half)
	defer toggle.Stop()

	level := 1
	b.set(level)
	for {
		select {
		case <-deadline.C:
			return
		case <-stop:
			return
		case <-toggle.C:
			level ^= 1
			b.set(level)
		}
	}
}

func (b *RealBuzzer) set(v int) {
	if err := b.out.SetValue(v); err != nil {
		b.log.Warn("buzzer write failed", "error", err)
	}
}

// Close silences the buzzer and releases GPIO resources.
// The line is left as an input so the pin floats safely after exit.
func (b *RealBuzzer) Close() error {
	b.mu.Lock()
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	done := b.done
	b.done = nil
	b.closed = true
	b.mu.Unlock()

	if done != nil {
		<-done
	}

	var errs []error
	if b.line != nil {
		if err := b.line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure buzzer line: %w", err))
		}
		if err := b.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close buzzer line: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
