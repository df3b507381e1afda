package bot

import (
	"math"
	"testing"

	"pairbot/internal/models"
)

func TestRoundLot(t *testing.T) {
	tests := []struct {
		lot, step, min float64
		want           float64
	}{
		{0.02, 0.01, 0.01, 0.02},
		{0.027, 0.01, 0.01, 0.02},
		{0.004, 0.01, 0.01, 0.01},
		{1.25, 0.1, 0.1, 1.2},
		{0.3, 0, 0.01, 0.3},
	}
	for _, tt := range tests {
		if got := roundLot(tt.lot, tt.step, tt.min); got != tt.want {
			t.Errorf("roundLot(%v, %v, %v) = %v, want %v", tt.lot, tt.step, tt.min, got, tt.want)
		}
	}
}

func TestFixedLevels(t *testing.T) {
	sl, tp := fixedLevels(models.SideBuy, 2000.12, 10, 8)
	if sl != 1990.12 || tp != 2008.12 {
		t.Fatalf("BUY levels = %v/%v", sl, tp)
	}
	sl, tp = fixedLevels(models.SideSell, 1.08512, 0.0015, 0.003)
	if sl != 1.08662 || tp != 1.08212 {
		t.Fatalf("SELL levels = %v/%v", sl, tp)
	}
}

func TestTightenSL(t *testing.T) {
	if got := tightenSL(models.SideBuy, 2000, 1990, 0.5); got != 1995 {
		t.Fatalf("BUY tight SL = %v, want 1995", got)
	}
	if got := tightenSL(models.SideSell, 2000, 2010, 0.5); got != 2005 {
		t.Fatalf("SELL tight SL = %v, want 2005", got)
	}
	if got := tightenSL(models.SideBuy, 2000, 1990, 1); got != 1990 {
		t.Fatalf("factor 1 must keep SL, got %v", got)
	}
}

func TestAdvanceStop(t *testing.T) {
	tests := []struct {
		name       string
		side       models.Side
		current    float64
		candidate  float64
		want       float64
		wantUpdate bool
	}{
		{"buy up", models.SideBuy, 2000, 2001, 2001, true},
		{"buy down rejected", models.SideBuy, 2000, 1999, 2000, false},
		{"sell down", models.SideSell, 2000, 1999, 1999, true},
		{"sell up rejected", models.SideSell, 2000, 2001, 2000, false},
		{"no candidate", models.SideBuy, 2000, 0, 2000, false},
		{"no current", models.SideSell, 0, 2005, 2005, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := advanceStop(tt.side, tt.current, tt.candidate)
			if got != tt.want || ok != tt.wantUpdate {
				t.Fatalf("advanceStop = %v/%v, want %v/%v", got, ok, tt.want, tt.wantUpdate)
			}
		})
	}
}

func TestProgressToTP(t *testing.T) {
	buy := &models.Pair{Side: models.SideBuy, EntryPrice: 2000, TP: 2008}
	if got := progressToTP(buy, 2004.10); math.Abs(got-0.5125) > 1e-9 {
		t.Fatalf("BUY progress = %v, want 0.5125", got)
	}
	sell := &models.Pair{Side: models.SideSell, EntryPrice: 2000, TP: 1992}
	if got := progressToTP(sell, 2002); got >= 0 {
		t.Fatalf("SELL progress against the trade = %v, want negative", got)
	}
	if got := progressToTP(&models.Pair{Side: models.SideBuy, EntryPrice: 2000}, 2010); got != 0 {
		t.Fatalf("progress without TP = %v, want 0", got)
	}
}

func TestStepTrailing(t *testing.T) {
	tr := StepTrailing{Trigger: 3, Step: 1}
	p := &models.Pair{Side: models.SideSell, InternalSL: 2000}

	if got := tr.Next(p, 1997); got != 0 {
		t.Fatalf("inside trigger: Next = %v, want 0", got)
	}
	if got := tr.Next(p, 1995.5); got != 1999 {
		t.Fatalf("one step: Next = %v, want 1999", got)
	}
	if got := (StaticTrailing{}).Next(p, 1900); got != 0 {
		t.Fatalf("static trailing must never move, got %v", got)
	}
}
