package logic

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fixed race protocol phrases.
const (
	PhraseArm       = "Arm your quad"
	PhraseCountdown = "Starting on the tone in less than five"
	PhraseStopped   = "Race stopped"
	PhraseFinish    = "FINISH"
)

// BaseWordsPerMinute is the nominal speech rate at a rate multiplier of 1.
const BaseWordsPerMinute = 150

var markupTag = regexp.MustCompile(`<[^>]*>`)

// PlainText strips markup tags from an announcement.
func PlainText(markup string) string {
	return strings.TrimSpace(markupTag.ReplaceAllString(markup, " "))
}

// SpeakDuration estimates how long text takes to speak at the given rate
// multiplier: word count divided by the words-per-second rate.
func SpeakDuration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(PlainText(text)))
	wordsPerSecond := BaseWordsPerMinute / 60.0 * rate
	ms := float64(words) / wordsPerSecond * 1000
	return time.Duration(math.Round(ms)) * time.Millisecond
}

// LapAnnouncement returns the phrase to speak for a recorded lap.
// speak is false when nothing should be spoken (tone mode, or the rolling sum
// for the mode is not defined yet).
func LapAnnouncement(mode AnnouncerMode, pilot string, lap Lap) (text string, speak bool) {
	if mode == ModeTone {
		return "", false
	}
	if lap.Holeshot() {
		return fmt.Sprintf("Hole Shot %s", lap.Duration.StringFixed(LapPrecision)), true
	}

	switch mode {
	case ModeOneLap:
		return withPilot(pilot, fmt.Sprintf("Lap %d, %s", lap.Index, lap.Duration.StringFixed(LapPrecision))), true
	case ModeTwoLap:
		if !lap.TwoLap.Valid {
			return "", false
		}
		return withPilot(pilot, "2 laps "+lap.TwoLap.Decimal.StringFixed(LapPrecision)), true
	case ModeThreeLap:
		if !lap.ThreeLap.Valid {
			return "", false
		}
		return withPilot(pilot, "3 laps "+lap.ThreeLap.Decimal.StringFixed(LapPrecision)), true
	}
	return "", false
}

// LapCompleteAnnouncement is spoken when the device reports a completed lap,
// reading the seconds and hundredths as two numbers ("Lap 1, 4 23").
func LapCompleteAnnouncement(lap int, seconds decimal.Decimal) string {
	whole := seconds.Truncate(0)
	hundredths := seconds.Sub(whole).Shift(LapPrecision).Round(0).IntPart()
	return fmt.Sprintf("Lap %d, %s %d", lap, whole.String(), hundredths)
}

// BatteryAnnouncement is spoken on a low battery warning.
func BatteryAnnouncement(percentage float64) string {
	return fmt.Sprintf("Battery %s percent", trimFloat(percentage))
}

// AudioTestPhrases are queued by the audio test.
func AudioTestPhrases(pilot string) []string {
	first := "testing sound for pilot"
	if pilot != "" {
		first += " " + pilot
	}
	return []string{first, "1", "2", "3"}
}

// FormatElapsed renders a race timer as MM:SS:hh with the minutes wrapping
// at 60, matching the on-device display.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hundredths := int(d/(10*time.Millisecond)) % 100
	seconds := int(d/time.Second) % 60
	minutes := int(d/time.Minute) % 60
	return fmt.Sprintf("%02d:%02d:%02ds", minutes, seconds, hundredths)
}

func withPilot(pilot, s string) string {
	if pilot == "" {
		return s
	}
	return pilot + " " + s
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.1f", f)
}
