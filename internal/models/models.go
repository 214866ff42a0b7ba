package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the side of a loan an entry represents, derived from its debit/credit columns.
type Role string

const (
	RoleLender   Role = "Lender"
	RoleBorrower Role = "Borrower"
)

// MatchStatus is the lifecycle state of a ledger entry.
type MatchStatus string

const (
	StatusUnmatched MatchStatus = "unmatched"
	StatusMatched   MatchStatus = "matched"
	StatusConfirmed MatchStatus = "confirmed"
	// StatusRejected is accepted as input only; rejecting a match returns both
	// entries to the unmatched pool.
	StatusRejected MatchStatus = "rejected"
)

// ParseMatchStatus normalises a stored or user supplied status value.
func ParseMatchStatus(s string) (MatchStatus, error) {
	switch MatchStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusUnmatched, StatusRejected:
		return StatusUnmatched, nil
	case StatusMatched:
		return StatusMatched, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	default:
		return "", fmt.Errorf("invalid match status: %q", s)
	}
}

// IsActive reports whether the entry currently participates in a match.
func (s MatchStatus) IsActive() bool {
	return s == StatusMatched || s == StatusConfirmed
}

// MatchType is the kind of evidence a match was made on.
type MatchType string

const (
	MatchTypePO                 MatchType = "PO"
	MatchTypeLC                 MatchType = "LC"
	MatchTypeLoanID             MatchType = "LOAN_ID"
	MatchTypeFinalSettlement    MatchType = "FINAL_SETTLEMENT"
	MatchTypeInterunitLoan      MatchType = "INTERUNIT_LOAN"
	MatchTypeSalary             MatchType = "SALARY"
	MatchTypeCommonText         MatchType = "COMMON_TEXT"
	MatchTypeAccountReference   MatchType = "ACCOUNT_REFERENCE"
	MatchTypeManualVerification MatchType = "MANUAL_VERIFICATION"
	MatchTypeAmountOnly         MatchType = "AMOUNT_ONLY"
)

// AllMatchTypes lists every match type in precedence order.
var AllMatchTypes = []MatchType{
	MatchTypePO, MatchTypeLC, MatchTypeLoanID, MatchTypeFinalSettlement, MatchTypeInterunitLoan,
	MatchTypeSalary, MatchTypeCommonText,
	MatchTypeAccountReference, MatchTypeManualVerification, MatchTypeAmountOnly,
}

// AutoAccepted reports whether matches of this type skip human review.
func (t MatchType) AutoAccepted() bool {
	switch t {
	case MatchTypePO, MatchTypeLC, MatchTypeLoanID, MatchTypeFinalSettlement, MatchTypeInterunitLoan:
		return true
	}
	return false
}

// Method returns the match method recorded for this type.
func (t MatchType) Method() MatchMethod {
	switch t {
	case MatchTypePO, MatchTypeLC, MatchTypeLoanID, MatchTypeFinalSettlement:
		return MethodReference
	case MatchTypeInterunitLoan, MatchTypeAccountReference:
		return MethodCrossReference
	case MatchTypeSalary, MatchTypeCommonText:
		return MethodSimilarity
	default:
		return MethodFallback
	}
}

// MatchMethod is the audit label for how a match was produced.
type MatchMethod string

const (
	MethodReference      MatchMethod = "reference_match"
	MethodSimilarity     MatchMethod = "similarity_match"
	MethodCrossReference MatchMethod = "cross_reference"
	MethodFallback       MatchMethod = "fallback_match"
)

// LedgerEntry is one accounting line from one company's ledger.
type LedgerEntry struct {
	UID          string          `json:"uid"`
	Company      string          `json:"company"`
	Counterparty string          `json:"counterparty"`
	Lender       string          `json:"lender"`
	Borrower     string          `json:"borrower"`
	Period       Period          `json:"period"`
	Date         time.Time       `json:"date"`
	Narration    string          `json:"narration"`
	VoucherType  string          `json:"voucher_type,omitempty"`
	VoucherNo    string          `json:"voucher_no,omitempty"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	EnteredBy    string          `json:"entered_by,omitempty"`
	InputDate    time.Time       `json:"input_date,omitempty"`
	PairID       string          `json:"pair_id,omitempty"`
	Role         Role            `json:"role"`

	MatchStatus MatchStatus `json:"match_status"`
	MatchedWith string      `json:"matched_with,omitempty"`
	MatchType   MatchType   `json:"match_type,omitempty"`
	MatchMethod MatchMethod `json:"match_method,omitempty"`
	Audit       AuditInfo   `json:"-"`
	DateMatched *time.Time  `json:"date_matched,omitempty"`
	ReviewedBy  string      `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
}

// IsDebit reports whether the entry is a debit line (lender side).
func (e *LedgerEntry) IsDebit() bool {
	return e.Debit.IsPositive()
}

// IsCredit reports whether the entry is a credit line (borrower side).
func (e *LedgerEntry) IsCredit() bool {
	return e.Credit.IsPositive()
}

// Amount returns whichever of debit or credit is populated.
func (e *LedgerEntry) Amount() decimal.Decimal {
	if e.IsDebit() {
		return e.Debit
	}
	return e.Credit
}

// DeriveRole fills Role, Lender and Borrower from the debit/credit columns.
// A debit in the owner's ledger means the owner lent to the counterparty.
func (e *LedgerEntry) DeriveRole() {
	if e.IsDebit() {
		e.Role = RoleLender
		e.Lender = e.Company
		e.Borrower = e.Counterparty
		return
	}
	e.Role = RoleBorrower
	e.Lender = e.Counterparty
	e.Borrower = e.Company
}

// Validate checks the invariants every stored entry must hold.
func (e *LedgerEntry) Validate() error {
	if strings.TrimSpace(e.UID) == "" {
		return fmt.Errorf("ledger entry uid cannot be empty")
	}
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return fmt.Errorf("entry %s: amounts cannot be negative", e.UID)
	}
	if e.IsDebit() == e.IsCredit() {
		return fmt.Errorf("entry %s: exactly one of debit or credit must be positive", e.UID)
	}
	if e.IsDebit() && e.Role != RoleLender || e.IsCredit() && e.Role != RoleBorrower {
		return fmt.Errorf("entry %s: role %q does not match debit/credit side", e.UID, e.Role)
	}
	if strings.TrimSpace(e.Lender) == "" || strings.TrimSpace(e.Borrower) == "" {
		return fmt.Errorf("entry %s: lender and borrower are required", e.UID)
	}
	if err := e.Period.Validate(); err != nil {
		return fmt.Errorf("entry %s: %w", e.UID, err)
	}
	if e.MatchStatus.IsActive() && e.MatchedWith == "" {
		return fmt.Errorf("entry %s: %s entry has no counterpart", e.UID, e.MatchStatus)
	}
	if e.MatchedWith == e.UID && e.UID != "" {
		return fmt.Errorf("entry %s: cannot be matched with itself", e.UID)
	}
	return nil
}

// ClearMatch resets every match field, returning the entry to the pool.
func (e *LedgerEntry) ClearMatch() {
	e.MatchStatus = StatusUnmatched
	e.MatchedWith = ""
	e.MatchType = ""
	e.MatchMethod = ""
	e.Audit = nil
	e.DateMatched = nil
}

// Clone returns a copy that shares no mutable pointers with e.
func (e *LedgerEntry) Clone() *LedgerEntry {
	c := *e
	if e.DateMatched != nil {
		t := *e.DateMatched
		c.DateMatched = &t
	}
	if e.ReviewedAt != nil {
		t := *e.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// String returns a string representation of the entry
func (e *LedgerEntry) String() string {
	side := "Cr"
	if e.IsDebit() {
		side = "Dr"
	}
	return fmt.Sprintf("LedgerEntry{UID: %s, %s->%s, %s %s %s, Status: %s}",
		e.UID, e.Lender, e.Borrower, e.Date.Format("2006-01-02"), side, e.Amount().StringFixed(2), e.MatchStatus)
}

// MarshalJSON encodes the audit payload with its match_type discriminant.
func (e LedgerEntry) MarshalJSON() ([]byte, error) {
	type Alias LedgerEntry
	audit, err := MarshalAudit(e.Audit)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&struct {
		Alias
		Audit json.RawMessage `json:"audit,omitempty"`
	}{
		Alias: Alias(e),
		Audit: audit,
	})
}

// UnmarshalJSON decodes the audit payload leniently.
func (e *LedgerEntry) UnmarshalJSON(data []byte) error {
	type Alias LedgerEntry
	aux := &struct {
		*Alias
		Audit json.RawMessage `json:"audit,omitempty"`
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	audit, err := UnmarshalAudit(aux.Audit)
	if err != nil {
		return fmt.Errorf("invalid audit payload: %w", err)
	}
	e.Audit = audit
	return nil
}

// Pass names one of the matching passes, in precedence order.
type Pass string

const (
	PassReference  Pass = "reference"
	PassSimilarity Pass = "similarity"
	PassFallback   Pass = "fallback"
)

// MatchResult is a pairing produced by a matching run before it is persisted.
type MatchResult struct {
	LenderUID      string          `json:"lender_uid"`
	BorrowerUID    string          `json:"borrower_uid"`
	Type           MatchType       `json:"match_type"`
	Method         MatchMethod     `json:"match_method"`
	Pass           Pass            `json:"pass"`
	Score          float64         `json:"score"`
	LenderAmount   decimal.Decimal `json:"lender_amount"`
	BorrowerAmount decimal.Decimal `json:"borrower_amount"`
	Audit          AuditInfo       `json:"-"`
}

// AutoAccepted reports whether the result is written straight to confirmed.
func (r *MatchResult) AutoAccepted() bool {
	return r.Type.AutoAccepted()
}

// Status returns the status both entries receive when the result is persisted.
func (r *MatchResult) Status() MatchStatus {
	if r.AutoAccepted() {
		return StatusConfirmed
	}
	return StatusMatched
}

// AmountDifference returns the absolute difference between the two sides.
func (r *MatchResult) AmountDifference() decimal.Decimal {
	return r.LenderAmount.Sub(r.BorrowerAmount).Abs()
}

// String returns a string representation of the result
func (r *MatchResult) String() string {
	return fmt.Sprintf("MatchResult{%s <-> %s, %s/%s, score %.2f}",
		r.LenderUID, r.BorrowerUID, r.Type, r.Method, r.Score)
}
