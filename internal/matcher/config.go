// Package matcher pairs lender-side debit entries with borrower-side credit
// entries inside one company pair and statement period.
//
// Matching runs three passes in a fixed precedence order:
//  1. Reference: equal structured references (PO, LC, loan id, final
//     settlement) or a two-way interunit account cross-reference. These
//     matches are auto-accepted.
//  2. Similarity: Jaccard similarity of normalised narrations, typed SALARY
//     when both sides name a person and period, otherwise COMMON_TEXT.
//  3. Fallback: shared account reference, same data-entry operator, or
//     amount only.
//
// An entry claimed by an earlier pass is never reconsidered by a later one.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.SalaryThreshold = 0.4
//
//	engine := matcher.NewEngine(config, logger.GetGlobalLogger())
//	outcome := engine.Match(entries)
package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TieBreaker names one criterion used to choose between equally valid candidates.
type TieBreaker string

const (
	// TieBreakAmount prefers the candidate whose amount is closest.
	TieBreakAmount TieBreaker = "amount"
	// TieBreakDate prefers the earliest transaction date.
	TieBreakDate TieBreaker = "date"
	// TieBreakUID prefers the lexicographically smallest uid.
	TieBreakUID TieBreaker = "uid"
)

// DefaultTieBreakOrder is amount closeness, then earliest date, then smallest uid.
var DefaultTieBreakOrder = []TieBreaker{TieBreakAmount, TieBreakDate, TieBreakUID}

// ParseTieBreakOrder parses a comma separated list such as "amount,date,uid".
func ParseTieBreakOrder(s string) ([]TieBreaker, error) {
	var order []TieBreaker
	seen := make(map[TieBreaker]bool)
	for _, part := range strings.Split(s, ",") {
		tb := TieBreaker(strings.ToLower(strings.TrimSpace(part)))
		if tb == "" {
			continue
		}
		switch tb {
		case TieBreakAmount, TieBreakDate, TieBreakUID:
		default:
			return nil, fmt.Errorf("unknown tie-break criterion: %q", part)
		}
		if seen[tb] {
			return nil, fmt.Errorf("duplicate tie-break criterion: %q", tb)
		}
		seen[tb] = true
		order = append(order, tb)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("tie-break order cannot be empty")
	}
	return order, nil
}

// MatchingConfig holds the tolerances, thresholds and toggles for a matching run.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the documented defaults
//   - StrictMatchingConfig(): exact amounts, no amount-only fallback
//   - RelaxedMatchingConfig(): looser similarity thresholds, amount-only fallback on
type MatchingConfig struct {
	// AmountTolerance is the largest absolute difference between the debit and
	// credit sides that still counts as equal.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// SalaryThreshold is the minimum Jaccard score for a SALARY match when
	// person and period do not match exactly.
	SalaryThreshold float64 `json:"salary_threshold"`

	// CommonTextThreshold is the minimum Jaccard score for a COMMON_TEXT match.
	CommonTextThreshold float64 `json:"common_text_threshold"`

	// TieBreakOrder ranks equally valid candidates. uid is always appended
	// as the final criterion so the choice is deterministic.
	TieBreakOrder []TieBreaker `json:"tie_break_order"`

	// RequireDistinctOwners rejects pairs whose entries come from the same
	// company's ledger.
	RequireDistinctOwners bool `json:"require_distinct_owners"`

	EnableAccountReference   bool `json:"enable_account_reference"`
	EnableManualVerification bool `json:"enable_manual_verification"`
	EnableAmountOnly         bool `json:"enable_amount_only"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.RequireFromString("0.01"),
		SalaryThreshold:          0.3,
		CommonTextThreshold:      0.5,
		TieBreakOrder:            append([]TieBreaker(nil), DefaultTieBreakOrder...),
		RequireDistinctOwners:    true,
		EnableAccountReference:   true,
		EnableManualVerification: true,
		EnableAmountOnly:         false,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.Zero,
		SalaryThreshold:          0.5,
		CommonTextThreshold:      0.7,
		TieBreakOrder:            append([]TieBreaker(nil), DefaultTieBreakOrder...),
		RequireDistinctOwners:    true,
		EnableAccountReference:   true,
		EnableManualVerification: false,
		EnableAmountOnly:         false,
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:          decimal.RequireFromString("1.00"),
		SalaryThreshold:          0.25,
		CommonTextThreshold:      0.4,
		TieBreakOrder:            append([]TieBreaker(nil), DefaultTieBreakOrder...),
		RequireDistinctOwners:    true,
		EnableAccountReference:   true,
		EnableManualVerification: true,
		EnableAmountOnly:         true,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", mc.AmountTolerance)
	}

	if mc.SalaryThreshold <= 0.0 || mc.SalaryThreshold > 1.0 {
		return fmt.Errorf("salary threshold must be in (0.0, 1.0]: %f", mc.SalaryThreshold)
	}

	if mc.CommonTextThreshold <= 0.0 || mc.CommonTextThreshold > 1.0 {
		return fmt.Errorf("common text threshold must be in (0.0, 1.0]: %f", mc.CommonTextThreshold)
	}

	if len(mc.TieBreakOrder) == 0 {
		return fmt.Errorf("tie-break order cannot be empty")
	}
	seen := make(map[TieBreaker]bool)
	for _, tb := range mc.TieBreakOrder {
		switch tb {
		case TieBreakAmount, TieBreakDate, TieBreakUID:
		default:
			return fmt.Errorf("unknown tie-break criterion: %q", tb)
		}
		if seen[tb] {
			return fmt.Errorf("duplicate tie-break criterion: %q", tb)
		}
		seen[tb] = true
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	c.TieBreakOrder = append([]TieBreaker(nil), mc.TieBreakOrder...)
	return &c
}

// WithinTolerance reports whether two amounts are equal within AmountTolerance.
func (mc *MatchingConfig) WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(mc.AmountTolerance)
}

// effectiveTieBreaks returns the configured order with uid appended when absent.
func (mc *MatchingConfig) effectiveTieBreaks() []TieBreaker {
	order := append([]TieBreaker(nil), mc.TieBreakOrder...)
	for _, tb := range order {
		if tb == TieBreakUID {
			return order
		}
	}
	return append(order, TieBreakUID)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	order := make([]string, len(mc.TieBreakOrder))
	for i, tb := range mc.TieBreakOrder {
		order[i] = string(tb)
	}
	return fmt.Sprintf("MatchingConfig{AmountTolerance: %s, Salary: %.2f, CommonText: %.2f, TieBreak: %s, AccountRef: %t, Manual: %t, AmountOnly: %t}",
		mc.AmountTolerance, mc.SalaryThreshold, mc.CommonTextThreshold, strings.Join(order, ","),
		mc.EnableAccountReference, mc.EnableManualVerification, mc.EnableAmountOnly)
}
