package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AuditInfo is the structured evidence stored on both entries of a match.
// Exactly one variant is populated per match; the JSON form carries a
// match_type discriminant.
type AuditInfo interface {
	Kind() MatchType
	Amounts() (lender, borrower decimal.Decimal)
	Describe() string
}

// ReferenceAudit backs PO, LC and LOAN_ID matches.
type ReferenceAudit struct {
	MatchType      MatchType       `json:"match_type"`
	Reference      string          `json:"reference"`
	LenderAmount   decimal.Decimal `json:"lender_amount"`
	BorrowerAmount decimal.Decimal `json:"borrower_amount"`
}

func (a ReferenceAudit) Kind() MatchType { return a.MatchType }

func (a ReferenceAudit) Amounts() (decimal.Decimal, decimal.Decimal) {
	return a.LenderAmount, a.BorrowerAmount
}

func (a ReferenceAudit) Describe() string {
	return fmt.Sprintf("%s %s", a.MatchType, a.Reference)
}

// PersonAudit backs SALARY and FINAL_SETTLEMENT matches.
type PersonAudit struct {
	MatchType       MatchType       `json:"match_type"`
	Person          string          `json:"person"`
	PersonID        string          `json:"person_id,omitempty"`
	Period          string          `json:"period,omitempty"`
	SimilarityScore float64         `json:"similarity_score"`
	Basis           string          `json:"basis,omitempty"`
	LenderAmount    decimal.Decimal `json:"lender_amount"`
	BorrowerAmount  decimal.Decimal `json:"borrower_amount"`
}

func (a PersonAudit) Kind() MatchType { return a.MatchType }

func (a PersonAudit) Amounts() (decimal.Decimal, decimal.Decimal) {
	return a.LenderAmount, a.BorrowerAmount
}

func (a PersonAudit) Describe() string {
	parts := []string{string(a.MatchType), a.Person}
	if a.PersonID != "" {
		parts = append(parts, "ID "+a.PersonID)
	}
	if a.Period != "" {
		parts = append(parts, a.Period)
	}
	if a.MatchType == MatchTypeSalary {
		parts = append(parts, fmt.Sprintf("score %.2f", a.SimilarityScore))
	}
	return strings.Join(parts, " ")
}

// CommonTextAudit backs COMMON_TEXT matches.
type CommonTextAudit struct {
	MatchType       MatchType       `json:"match_type"`
	Phrase          string          `json:"matched_phrase"`
	SimilarityScore float64         `json:"similarity_score"`
	LenderAmount    decimal.Decimal `json:"lender_amount"`
	BorrowerAmount  decimal.Decimal `json:"borrower_amount"`
}

func (a CommonTextAudit) Kind() MatchType { return MatchTypeCommonText }

func (a CommonTextAudit) Amounts() (decimal.Decimal, decimal.Decimal) {
	return a.LenderAmount, a.BorrowerAmount
}

func (a CommonTextAudit) Describe() string {
	return fmt.Sprintf("COMMON_TEXT %q score %.2f", a.Phrase, a.SimilarityScore)
}

// InterunitAudit backs INTERUNIT_LOAN cross-reference matches.
type InterunitAudit struct {
	MatchType         MatchType       `json:"match_type"`
	LenderReference   string          `json:"lender_reference"`
	BorrowerReference string          `json:"borrower_reference"`
	MatchedDigits     string          `json:"matched_digits,omitempty"`
	LenderAmount      decimal.Decimal `json:"lender_amount"`
	BorrowerAmount    decimal.Decimal `json:"borrower_amount"`
}

func (a InterunitAudit) Kind() MatchType { return MatchTypeInterunitLoan }

func (a InterunitAudit) Amounts() (decimal.Decimal, decimal.Decimal) {
	return a.LenderAmount, a.BorrowerAmount
}

func (a InterunitAudit) Describe() string {
	return fmt.Sprintf("INTERUNIT_LOAN %s <-> %s", a.LenderReference, a.BorrowerReference)
}

// FallbackAudit backs the loose fallback matches and any unrecognised type.
type FallbackAudit struct {
	MatchType      MatchType       `json:"match_type"`
	Reference      string          `json:"reference,omitempty"`
	Keywords       []string        `json:"keywords,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	LenderAmount   decimal.Decimal `json:"lender_amount"`
	BorrowerAmount decimal.Decimal `json:"borrower_amount"`
}

func (a FallbackAudit) Kind() MatchType { return a.MatchType }

func (a FallbackAudit) Amounts() (decimal.Decimal, decimal.Decimal) {
	return a.LenderAmount, a.BorrowerAmount
}

func (a FallbackAudit) Describe() string {
	s := string(a.MatchType)
	if a.Reference != "" {
		s += " " + a.Reference
	}
	if a.Reason != "" {
		s += ": " + a.Reason
	}
	return s
}

// MarshalAudit encodes an audit payload, stamping the match_type discriminant.
// A nil payload encodes to nil.
func MarshalAudit(a AuditInfo) ([]byte, error) {
	switch v := a.(type) {
	case nil:
		return nil, nil
	case ReferenceAudit:
		return json.Marshal(v)
	case PersonAudit:
		return json.Marshal(v)
	case CommonTextAudit:
		v.MatchType = MatchTypeCommonText
		return json.Marshal(v)
	case InterunitAudit:
		v.MatchType = MatchTypeInterunitLoan
		return json.Marshal(v)
	case FallbackAudit:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported audit payload %T", a)
	}
}

// UnmarshalAudit decodes a payload by its match_type. Unknown types decode
// as FallbackAudit and missing keys are left at their zero values.
func UnmarshalAudit(data []byte) (AuditInfo, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var head struct {
		MatchType MatchType `json:"match_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.MatchType {
	case MatchTypePO, MatchTypeLC, MatchTypeLoanID:
		var a ReferenceAudit
		err := json.Unmarshal(data, &a)
		return a, err
	case MatchTypeSalary, MatchTypeFinalSettlement:
		var a PersonAudit
		err := json.Unmarshal(data, &a)
		return a, err
	case MatchTypeCommonText:
		var a CommonTextAudit
		err := json.Unmarshal(data, &a)
		return a, err
	case MatchTypeInterunitLoan:
		var a InterunitAudit
		err := json.Unmarshal(data, &a)
		return a, err
	default:
		var a FallbackAudit
		err := json.Unmarshal(data, &a)
		return a, err
	}
}
