package logic

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the racing laps of a ledger. The holeshot is excluded.
type Summary struct {
	Count  int
	Best   decimal.NullDecimal
	BestAt int // lap index of the best lap, -1 if none
	Mean   float64
	StdDev float64
}

// Summarize computes best/mean/stddev over the non-holeshot laps.
func Summarize(laps []Lap) Summary {
	s := Summary{BestAt: -1}

	var durations []float64
	var racing []Lap
	for _, l := range laps {
		if l.Holeshot() {
			continue
		}
		durations = append(durations, l.Duration.InexactFloat64())
		racing = append(racing, l)
	}
	s.Count = len(durations)
	if s.Count == 0 {
		return s
	}

	best := floats.MinIdx(durations)
	s.BestAt = racing[best].Index
	s.Best = decimal.NewNullDecimal(racing[best].Duration)

	if s.Count == 1 {
		s.Mean = durations[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(durations, nil)
	return s
}
