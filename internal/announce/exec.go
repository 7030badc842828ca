package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"sync/atomic"

	"github.com/sweeney/gate-timer/internal/logic"
)

// DefaultSpeechCommand is the text-to-speech program used when none is configured.
const DefaultSpeechCommand = "espeak"

// ExecSpeaker speaks by running an espeak-compatible command line program.
// The program receives "-s <words-per-minute>" followed by the text.
type ExecSpeaker struct {
	path     string
	log      *slog.Logger
	speaking atomic.Bool
}

// NewExecSpeaker resolves command on PATH. A missing program is not an error:
// the speaker reports ErrSpeechUnavailable on every Speak instead, so the
// rest of the system keeps running without speech.
func NewExecSpeaker(command string, logger *slog.Logger) *ExecSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	if command == "" {
		command = DefaultSpeechCommand
	}
	path, err := exec.LookPath(command)
	if err != nil {
		logger.Warn("speech command not found, announcements will be silent", "command", command, "error", err)
		path = ""
	}
	return &ExecSpeaker{path: path, log: logger}
}

// Available reports whether a speech program was found.
func (e *ExecSpeaker) Available() bool {
	return e.path != ""
}

// Speak starts the speech program and returns once it is running.
func (e *ExecSpeaker) Speak(ctx context.Context, text string, rate float64) error {
	if e.path == "" {
		return ErrSpeechUnavailable
	}
	if !e.speaking.CompareAndSwap(false, true) {
		return errors.New("speaker busy")
	}

	wpm := int(math.Round(logic.BaseWordsPerMinute * rate))
	cmd := exec.CommandContext(ctx, e.path, "-s", fmt.Sprint(wpm), logic.PlainText(text))
	if err := cmd.Start(); err != nil {
		e.speaking.Store(false)
		return fmt.Errorf("start %s: %w", e.path, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			e.log.Warn("speech command failed", "error", err)
		}
		e.speaking.Store(false)
	}()
	return nil
}

// IsSpeaking reports whether the speech program is still running.
func (e *ExecSpeaker) IsSpeaking() bool {
	return e.speaking.Load()
}
