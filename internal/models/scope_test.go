package models

import (
	"testing"
	"time"
)

func TestParseMonth(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Month
		wantErr bool
	}{
		{"March", time.March, false},
		{"mar", time.March, false},
		{"MAR", time.March, false},
		{"Sept", time.September, false},
		{"3", time.March, false},
		{"03", time.March, false},
		{"12", time.December, false},
		{"13", 0, true},
		{"ma", 0, true},
		{"Marchy", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMonth(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMonth(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMonth(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScopeKeyIsDirectionIndependent(t *testing.T) {
	a, err := NewScope("ACME", "BETA", "March", 2024)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	b, err := NewScope("BETA", "ACME", "3", 2024)
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != "ACME|BETA|2024-03" {
		t.Errorf("unexpected key %s", a.Key())
	}
}

func TestScopeKeyFoldsCase(t *testing.T) {
	a, _ := NewScope("acme", " Beta", "March", 2024)
	b, _ := NewScope("BETA", "ACME", "March", 2024)
	if a.Key() != b.Key() {
		t.Errorf("case variants of one scope got different keys: %s vs %s", a.Key(), b.Key())
	}
}

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name     string
		lender   string
		borrower string
		month    string
		year     int
		wantErr  bool
	}{
		{"valid", "ACME", "BETA", "Jan", 2024, false},
		{"missing borrower", "ACME", "", "Jan", 2024, true},
		{"same company", "ACME", "acme", "Jan", 2024, true},
		{"bad month", "ACME", "BETA", "Foo", 2024, true},
		{"bad year", "ACME", "BETA", "Jan", 24, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScope(tt.lender, tt.borrower, tt.month, tt.year)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewScope error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScopeIncludes(t *testing.T) {
	scope, _ := NewScope("ACME", "BETA", "Mar", 2024)

	lenderSide := newEntry("U1", "ACME", "BETA", "100", "0")
	borrowerSide := newEntry("U2", "BETA", "ACME", "0", "100")
	reverse := newEntry("U3", "BETA", "ACME", "50", "0")
	other := newEntry("U4", "ACME", "GAMMA", "100", "0")
	later := newEntry("U5", "ACME", "BETA", "100", "0")
	later.Period = Period{Month: time.April, Year: 2024}

	tests := []struct {
		entry *LedgerEntry
		want  bool
	}{
		{lenderSide, true},
		{borrowerSide, true},
		{reverse, true},
		{other, false},
		{later, false},
	}
	for _, tt := range tests {
		t.Run(tt.entry.UID, func(t *testing.T) {
			if got := scope.Includes(tt.entry); got != tt.want {
				t.Errorf("Includes(%s) = %v, want %v", tt.entry.UID, got, tt.want)
			}
		})
	}
}
