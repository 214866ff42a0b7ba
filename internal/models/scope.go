package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a statement month and year.
type Period struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

// NewPeriod builds a period from a month name, abbreviation or number.
func NewPeriod(month string, year int) (Period, error) {
	m, err := ParseMonth(month)
	if err != nil {
		return Period{}, err
	}
	p := Period{Month: m, Year: year}
	return p, p.Validate()
}

// Validate checks the period is a real calendar month.
func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("invalid statement month: %d", p.Month)
	}
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("invalid statement year: %d", p.Year)
	}
	return nil
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Month == 0 && p.Year == 0
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParseMonth accepts "March", "Mar", "MAR", "3" or "03".
func ParseMonth(s string) (time.Month, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("invalid month number: %d", n)
		}
		return time.Month(n), nil
	}
	lower := strings.ToLower(s)
	if len(lower) >= 3 {
		for m := time.January; m <= time.December; m++ {
			if strings.HasPrefix(strings.ToLower(m.String()), lower) {
				return m, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid month: %q", s)
}

// CompanyPair identifies a lender/borrower relationship. Scoping treats it as
// unordered: entries recorded in either direction belong to the same pair.
type CompanyPair struct {
	Lender   string `json:"lender"`
	Borrower string `json:"borrower"`
}

// Validate requires two distinct, non-empty companies.
func (p CompanyPair) Validate() error {
	if strings.TrimSpace(p.Lender) == "" || strings.TrimSpace(p.Borrower) == "" {
		return fmt.Errorf("company pair requires both lender and borrower")
	}
	if strings.EqualFold(strings.TrimSpace(p.Lender), strings.TrimSpace(p.Borrower)) {
		return fmt.Errorf("company pair cannot pair %q with itself", p.Lender)
	}
	return nil
}

// Contains reports whether a lender/borrower combination falls in this pair.
func (p CompanyPair) Contains(lender, borrower string) bool {
	return (lender == p.Lender && borrower == p.Borrower) ||
		(lender == p.Borrower && borrower == p.Lender)
}

// Canonical orders the two companies so both directions share one key.
func (p CompanyPair) Canonical() CompanyPair {
	if p.Borrower < p.Lender {
		return CompanyPair{Lender: p.Borrower, Borrower: p.Lender}
	}
	return p
}

// String returns "lender<->borrower".
func (p CompanyPair) String() string {
	return p.Lender + "<->" + p.Borrower
}

// Scope confines a matching run to one company pair and statement period.
type Scope struct {
	Pair   CompanyPair `json:"pair"`
	Period Period      `json:"period"`
}

// NewScope builds and validates a scope.
func NewScope(lender, borrower string, month string, year int) (Scope, error) {
	period, err := NewPeriod(month, year)
	if err != nil {
		return Scope{}, err
	}
	s := Scope{Pair: CompanyPair{Lender: lender, Borrower: borrower}, Period: period}
	return s, s.Validate()
}

// Validate checks both the pair and the period.
func (s Scope) Validate() error {
	if err := s.Pair.Validate(); err != nil {
		return err
	}
	return s.Period.Validate()
}

// Key is stable across pair direction and company name case, and is used
// for locks, logs and metrics. Case is folded because SQL stores may compare
// company names case-insensitively.
func (s Scope) Key() string {
	c := CompanyPair{
		Lender:   strings.ToUpper(strings.TrimSpace(s.Pair.Lender)),
		Borrower: strings.ToUpper(strings.TrimSpace(s.Pair.Borrower)),
	}.Canonical()
	return fmt.Sprintf("%s|%s|%s", c.Lender, c.Borrower, s.Period)
}

// Includes reports whether the entry belongs to this scope.
func (s Scope) Includes(e *LedgerEntry) bool {
	return e.Period == s.Period && s.Pair.Contains(e.Lender, e.Borrower)
}

// String returns a human readable scope description
func (s Scope) String() string {
	return fmt.Sprintf("%s %s %d", s.Pair, s.Period.Month, s.Period.Year)
}

// PairPeriod is one entry in a company pair listing.
type PairPeriod struct {
	Pair      CompanyPair `json:"pair"`
	Period    Period      `json:"period"`
	Entries   int         `json:"entries"`
	Unmatched int         `json:"unmatched"`
	Matched   int         `json:"matched"`
	Confirmed int         `json:"confirmed"`
}

// Scope returns the scope this listing row describes.
func (pp PairPeriod) Scope() Scope {
	return Scope{Pair: pp.Pair, Period: pp.Period}
}
