package filter

import "testing"

func TestBetween(t *testing.T) {
	tests := []struct {
		name    string
		lo, hi  float64
		wantErr bool
		wantLo  bool
		wantHi  bool
	}{
		{name: "closed", lo: 2020, hi: 2024, wantLo: true, wantHi: true},
		{name: "single year", lo: 2023, hi: 2023, wantLo: true, wantHi: true},
		{name: "open lower", hi: 2021, wantHi: true},
		{name: "open upper", lo: 2021, wantLo: true},
		{name: "fully open", wantErr: true},
		{name: "inverted", lo: 2024, hi: 2020, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Between("fiscal_year", tt.lo, tt.hi)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			lo, hi := c.Bounds()
			if (lo != nil) != tt.wantLo || (hi != nil) != tt.wantHi {
				t.Errorf("bounds = %v, %v", lo, hi)
			}
			if lo != nil && *lo != tt.lo || hi != nil && *hi != tt.hi {
				t.Errorf("bounds = %v, %v, want %v, %v", *lo, *hi, tt.lo, tt.hi)
			}
			if c.IsTag() {
				t.Error("range reported as tag")
			}
		})
	}
}

func TestTag(t *testing.T) {
	if _, err := Tag("", "NVDA"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := Tag("ticker", ""); err == nil {
		t.Error("expected error for empty value")
	}
	c, err := Tag("ticker", "NVDA")
	if err != nil || !c.IsTag() || c.TagValue() != "NVDA" || c.Key() != "ticker" {
		t.Errorf("unexpected condition %+v err=%v", c, err)
	}
}

func TestAll(t *testing.T) {
	ticker, _ := Tag("ticker", "AMD")
	years, _ := Between("fiscal_year", 2022, 2024)

	e, err := All(ticker, years)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Conditions()) != 2 || e.IsEmpty() {
		t.Errorf("conditions = %d", len(e.Conditions()))
	}

	if _, err := All(Condition{}); err == nil {
		t.Error("expected error for zero-value condition")
	}
	many := make([]Condition, MaxConditions+1)
	for i := range many {
		many[i] = ticker
	}
	if _, err := All(many...); err == nil {
		t.Error("expected error above the condition cap")
	}
	if !(Expression{}).IsEmpty() {
		t.Error("zero expression should be empty")
	}
}
