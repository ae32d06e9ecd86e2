package market

import (
	"math"
	"testing"
	"time"
)

func TestNewField_NonFinite(t *testing.T) {
	if f := NewField(math.NaN(), time.Now()); f.Valid {
		t.Error("expected NaN to yield invalid field")
	}
	if f := NewField(12.5, time.Now()); !f.Valid || f.Value != 12.5 {
		t.Errorf("unexpected field: %+v", f)
	}
}

func TestMarketCapConsistent(t *testing.T) {
	now := time.Now()
	s := Snapshot{
		Price:             NewField(100, now),
		SharesOutstanding: NewField(1e9, now),
		MarketCap:         NewField(1.02e11, now),
	}
	consistent, ok := s.MarketCapConsistent(0.05)
	if !ok || !consistent {
		t.Errorf("expected consistent, got consistent=%v ok=%v", consistent, ok)
	}

	s.MarketCap = NewField(2e11, now)
	if consistent, _ := s.MarketCapConsistent(0.05); consistent {
		t.Error("expected inconsistent market cap")
	}

	s.Price = Field{}
	if _, ok := s.MarketCapConsistent(0.05); ok {
		t.Error("expected ok=false with missing price")
	}
}

func TestValues_IncludesPercentYield(t *testing.T) {
	now := time.Now()
	s := Snapshot{Price: NewField(10, now), DividendYield: NewField(0.02, now)}
	vals := s.Values()
	if len(vals) != 3 {
		t.Fatalf("expected 3 values, got %v", vals)
	}
	if vals[2] != 2 {
		t.Errorf("expected percent yield 2, got %v", vals[2])
	}
}

func TestFormatCompact(t *testing.T) {
	tests := []struct {
		v        float64
		currency bool
		want     string
	}{
		{3.0234e12, true, "$3.02T"},
		{4.75e10, true, "$47.50B"},
		{2.46e9, false, "2.46B"},
		{950.1e6, true, "$950.10M"},
		{12.3, true, "$12.30"},
		{-1.5e9, true, "-$1.50B"},
	}
	for _, tt := range tests {
		if got := FormatCompact(tt.v, tt.currency); got != tt.want {
			t.Errorf("FormatCompact(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestLatestFetch(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	s := Snapshot{Price: NewField(1, t1), MarketCap: NewField(2, t2)}
	if !s.LatestFetch().Equal(t2) {
		t.Errorf("expected %v, got %v", t2, s.LatestFetch())
	}
}
