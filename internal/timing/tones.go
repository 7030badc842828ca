package timing

import (
	"time"

	"github.com/sweeney/gate-timer/internal/gpio"
	"github.com/sweeney/gate-timer/internal/metrics"
)

// Tone is one buzzer beep.
type Tone struct {
	Duration  time.Duration
	Frequency int
	Wave      gpio.Waveform
}

// Tones played by the coordinator. The race start tone is played by the
// sequencer.
var (
	LapTone         = Tone{100 * time.Millisecond, 330, gpio.Square}
	CountdownTone   = Tone{250 * time.Millisecond, 500, gpio.Sine}
	RaceSignalTone  = Tone{500 * time.Millisecond, 800, gpio.Sine}
	LapCompleteTone = Tone{250 * time.Millisecond, 500, gpio.Sine}
	BatteryTone     = Tone{1000 * time.Millisecond, 300, gpio.Sine}
)

// BatteryToneGap separates the two battery warning tones.
const BatteryToneGap = 300 * time.Millisecond

func play(t gpio.Toner, tone Tone) {
	t.Tone(tone.Duration, tone.Frequency, tone.Wave)
	metrics.Tones.Inc()
}
