package matcher

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMatchingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"negative tolerance", func(c *MatchingConfig) { c.AmountTolerance = decimal.NewFromInt(-1) }, true},
		{"zero salary threshold", func(c *MatchingConfig) { c.SalaryThreshold = 0 }, true},
		{"common text above one", func(c *MatchingConfig) { c.CommonTextThreshold = 1.5 }, true},
		{"empty tie break", func(c *MatchingConfig) { c.TieBreakOrder = nil }, true},
		{"unknown tie break", func(c *MatchingConfig) { c.TieBreakOrder = []TieBreaker{"size"} }, true},
		{"duplicate tie break", func(c *MatchingConfig) { c.TieBreakOrder = []TieBreaker{TieBreakDate, TieBreakDate} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchingConfig_Presets(t *testing.T) {
	for name, config := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			if err := config.Validate(); err != nil {
				t.Errorf("preset should be valid: %v", err)
			}
		})
	}

	if !DefaultMatchingConfig().AmountTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Error("Expected default tolerance of 0.01")
	}
	if StrictMatchingConfig().EnableAmountOnly || !RelaxedMatchingConfig().EnableAmountOnly {
		t.Error("Amount-only fallback should be off in strict and on in relaxed")
	}
}

func TestMatchingConfig_Clone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()
	clone.TieBreakOrder[0] = TieBreakUID
	clone.SalaryThreshold = 0.9

	if original.TieBreakOrder[0] != TieBreakAmount {
		t.Error("Clone should not share the tie-break slice")
	}
	if original.SalaryThreshold != 0.3 {
		t.Error("Clone should not modify the original")
	}
	var nilConfig *MatchingConfig
	if nilConfig.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestMatchingConfig_WithinTolerance(t *testing.T) {
	config := DefaultMatchingConfig()
	tests := []struct {
		a, b string
		want bool
	}{
		{"100.00", "100.00", true},
		{"100.00", "100.01", true},
		{"100.01", "100.00", true},
		{"100.00", "100.02", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"-"+tt.b, func(t *testing.T) {
			got := config.WithinTolerance(decimal.RequireFromString(tt.a), decimal.RequireFromString(tt.b))
			if got != tt.want {
				t.Errorf("WithinTolerance(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseTieBreakOrder(t *testing.T) {
	order, err := ParseTieBreakOrder(" Date, amount ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != TieBreakDate || order[1] != TieBreakAmount {
		t.Errorf("unexpected order %v", order)
	}

	for _, bad := range []string{"", "date,date", "size"} {
		if _, err := ParseTieBreakOrder(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	config := DefaultMatchingConfig()
	config.TieBreakOrder = order
	tbs := config.effectiveTieBreaks()
	if tbs[len(tbs)-1] != TieBreakUID {
		t.Error("uid should always close the tie-break order")
	}
}

func TestMatchingConfig_String(t *testing.T) {
	s := DefaultMatchingConfig().String()
	if !strings.Contains(s, "amount,date,uid") || !strings.Contains(s, "0.01") {
		t.Errorf("unexpected description %s", s)
	}
}
