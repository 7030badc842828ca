package logic

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func secs(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerHoleshotFirst(t *testing.T) {
	l := NewLedger()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	lap := l.Append(secs("5.00"), now)
	if lap.Index != 0 {
		t.Errorf("expected index 0, got %d", lap.Index)
	}
	if !lap.Holeshot() {
		t.Error("first lap should be the holeshot")
	}
	if lap.TwoLap.Valid || lap.ThreeLap.Valid {
		t.Error("holeshot must not carry rolling sums")
	}
	if !lap.Timestamp.Equal(now) {
		t.Errorf("unexpected timestamp %v", lap.Timestamp)
	}
}

func TestLedgerRollingSums(t *testing.T) {
	l := NewLedger()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l.Append(secs("5.00"), now)
	second := l.Append(secs("4.50"), now)
	if second.TwoLap.Valid {
		t.Error("two-lap sum needs two prior laps")
	}

	third := l.Append(secs("4.20"), now)
	if third.Index != 2 {
		t.Errorf("expected index 2, got %d", third.Index)
	}
	if !third.TwoLap.Valid || third.TwoLap.Decimal.StringFixed(2) != "8.70" {
		t.Errorf("two-lap after third append: got %v", third.TwoLap)
	}
	if third.ThreeLap.Valid {
		t.Error("three-lap sum should be undefined with only two prior laps")
	}

	fourth := l.Append(secs("4.00"), now)
	if fourth.Index != 3 {
		t.Errorf("expected index 3, got %d", fourth.Index)
	}
	if !fourth.TwoLap.Valid || fourth.TwoLap.Decimal.StringFixed(2) != "8.20" {
		t.Errorf("two-lap after fourth append: got %v", fourth.TwoLap)
	}
	if !fourth.ThreeLap.Valid || fourth.ThreeLap.Decimal.StringFixed(2) != "12.70" {
		t.Errorf("three-lap after fourth append: got %v", fourth.ThreeLap)
	}

	laps := l.Laps()
	if len(laps) != 4 {
		t.Fatalf("expected 4 laps, got %d", len(laps))
	}
	for i, lap := range laps {
		if lap.Index != i {
			t.Errorf("lap %d has index %d", i, lap.Index)
		}
	}
}

func TestLedgerReset(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.Append(secs("5"), now)
	l.Append(secs("6"), now)

	l.Reset()
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d laps", l.Len())
	}

	lap := l.Append(secs("7"), now)
	if lap.Index != 0 {
		t.Errorf("expected holeshot after reset, got index %d", lap.Index)
	}
}

func TestLedgerLapsIsCopy(t *testing.T) {
	l := NewLedger()
	l.Append(secs("5"), time.Now())

	laps := l.Laps()
	laps[0].Index = 42
	if l.Laps()[0].Index != 0 {
		t.Error("Laps must return a copy")
	}
}

func TestLedgerRoundsToPrecision(t *testing.T) {
	l := NewLedger()
	lap := l.Append(secs("4.236"), time.Now())
	if got := lap.Duration.String(); got != "4.24" {
		t.Errorf("expected 4.24, got %s", got)
	}
}

func TestSecondsFromMillis(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{5000, "5.00"},
		{4234, "4.23"},
		{4235, "4.24"},
		{999, "1.00"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		if got := SecondsFromMillis(tt.ms).StringFixed(2); got != tt.want {
			t.Errorf("SecondsFromMillis(%v) = %s, want %s", tt.ms, got, tt.want)
		}
	}
}
