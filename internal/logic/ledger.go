package logic

import (
	"time"

	"github.com/shopspring/decimal"
)

// LapPrecision is the number of decimal places lap durations are kept at.
const LapPrecision = 2

// Lap is one completed lap. Index 0 is the holeshot.
type Lap struct {
	Index     int
	Duration  decimal.Decimal
	TwoLap    decimal.NullDecimal // current + previous lap
	ThreeLap  decimal.NullDecimal // current + two previous laps
	Timestamp time.Time
}

// Holeshot reports whether this is the first lap, timed from the start.
func (l Lap) Holeshot() bool {
	return l.Index == 0
}

// Ledger is the append-only sequence of completed laps.
type Ledger struct {
	laps  []Lap
	index int
}

// NewLedger creates an empty ledger. The first appended lap gets index 0.
func NewLedger() *Ledger {
	return &Ledger{index: -1}
}

// Append records a lap and computes its rolling sums. Rolling sums are never
// defined for the holeshot and need at least two (or three) prior laps.
func (l *Ledger) Append(seconds decimal.Decimal, now time.Time) Lap {
	l.index++
	lap := Lap{
		Index:     l.index,
		Duration:  seconds.Round(LapPrecision),
		Timestamp: now,
	}

	prior := len(l.laps)
	if lap.Index != 0 && prior >= 2 {
		sum := lap.Duration.Add(l.laps[prior-1].Duration)
		lap.TwoLap = decimal.NewNullDecimal(sum)
	}
	if lap.Index != 0 && prior >= 3 {
		sum := lap.Duration.Add(l.laps[prior-1].Duration).Add(l.laps[prior-2].Duration)
		lap.ThreeLap = decimal.NewNullDecimal(sum)
	}

	l.laps = append(l.laps, lap)
	return lap
}

// Reset clears every lap; the next append is a holeshot again.
func (l *Ledger) Reset() {
	l.laps = nil
	l.index = -1
}

// Laps returns a copy of the recorded laps in order.
func (l *Ledger) Laps() []Lap {
	out := make([]Lap, len(l.laps))
	copy(out, l.laps)
	return out
}

// Len returns the number of recorded laps.
func (l *Ledger) Len() int {
	return len(l.laps)
}

// SecondsFromMillis converts a millisecond duration into seconds at lap precision.
func SecondsFromMillis(ms float64) decimal.Decimal {
	return decimal.NewFromFloat(ms).Div(decimal.NewFromInt(1000)).Round(LapPrecision)
}
