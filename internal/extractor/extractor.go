// Package extractor parses ledger narrations into structured references.
//
// Every function in this package is pure: the same narration always yields
// the same reference and nothing is retained between calls.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"interunit-loan-recon/internal/models"
)

// Reference is the single structured reference found in a narration.
type Reference struct {
	Kind  models.MatchType `json:"kind"`
	Value string           `json:"value"`
	Raw   string           `json:"raw,omitempty"`

	Person   string `json:"person,omitempty"`
	PersonID string `json:"person_id,omitempty"`
	Period   string `json:"period,omitempty"`

	Account    string   `json:"account,omitempty"`
	LastDigits string   `json:"last_digits,omitempty"`
	ShortRefs  []string `json:"short_refs,omitempty"`

	Keywords []string `json:"keywords,omitempty"`
}

// String returns a compact description
func (r *Reference) String() string {
	if r == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.Value)
}

// Deterministic reports whether the reference kind is matched by key equality.
func (r *Reference) Deterministic() bool {
	return r != nil && r.Kind.AutoAccepted()
}

type rule struct {
	kind    models.MatchType
	extract func(string) *Reference
}

// rules run in precedence order; the first hit wins.
var rules = []rule{
	{models.MatchTypePO, ExtractPO},
	{models.MatchTypeLC, ExtractLC},
	{models.MatchTypeLoanID, ExtractLoanID},
	{models.MatchTypeFinalSettlement, ExtractFinalSettlement},
	{models.MatchTypeInterunitLoan, ExtractInterunit},
	{models.MatchTypeSalary, ExtractSalary},
}

// Extract returns the highest-precedence reference in the narration, or nil.
func Extract(narration string) *Reference {
	if strings.TrimSpace(narration) == "" {
		return nil
	}
	for _, r := range rules {
		if ref := r.extract(narration); ref != nil {
			return ref
		}
	}
	return nil
}

// ExtractAll returns every rule that fires, in precedence order. Extract
// resolves the ambiguity by taking the first.
func ExtractAll(narration string) []*Reference {
	var refs []*Reference
	for _, r := range rules {
		if ref := r.extract(narration); ref != nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

var (
	poFullPattern  = regexp.MustCompile(`\b[A-Z]{2,4}/PO/\d+/\d+\b`)
	poShortPattern = regexp.MustCompile(`\bP\.?O\.?\s*(?:NO\.?|#|-)?\s*(\d+)\b`)

	lcPattern = regexp.MustCompile(`\b(?:L/C|LC)[-\s]?(\d+)(?:[/\s](\d+))?\b`)

	timeLoanPhrase = regexp.MustCompile(`(?i)amount\s+being\s+paid\s+as\s*principal\s*&?\s*interest(?:\s+repayment)?\s+(?:of\s+)?time\s+loan`)
	loanIDPattern  = regexp.MustCompile(`\b(LD|ID|LOAN)[-\s]?(\d+)\b`)
	interunitTail  = regexp.MustCompile(`INTER\s?UNIT\s+$`)
	personIDTail   = regexp.MustCompile(`(?:EMPLOYEE|EMP\.?|STAFF)\s*$|-\s*$`)
)

// ExtractPO finds purchase-order numbers such as ABC/PO/123/456 or PO-4521.
func ExtractPO(narration string) *Reference {
	upper := strings.ToUpper(narration)
	if m := poFullPattern.FindString(upper); m != "" {
		return &Reference{Kind: models.MatchTypePO, Value: m, Raw: m}
	}
	if m := poShortPattern.FindStringSubmatch(upper); m != nil {
		return &Reference{Kind: models.MatchTypePO, Value: "PO-" + m[1], Raw: strings.TrimSpace(m[0])}
	}
	return nil
}

// ExtractLC finds letter-of-credit numbers, normalising L/C to LC.
func ExtractLC(narration string) *Reference {
	upper := strings.ToUpper(narration)
	m := lcPattern.FindStringSubmatch(upper)
	if m == nil {
		return nil
	}
	value := "LC-" + m[1]
	if m[2] != "" {
		value += "/" + m[2]
	}
	return &Reference{Kind: models.MatchTypeLC, Value: value, Raw: m[0]}
}

// ExtractLoanID prefers the id following a time-loan repayment phrase and
// otherwise takes the first LD/ID/LOAN number.
func ExtractLoanID(narration string) *Reference {
	if loc := timeLoanPhrase.FindStringIndex(narration); loc != nil {
		after := strings.ToUpper(narration[loc[1]:])
		if m := loanIDPattern.FindStringSubmatch(after); m != nil {
			return &Reference{
				Kind:     models.MatchTypeLoanID,
				Value:    "LD-" + m[2],
				Raw:      m[0],
				Keywords: []string{"time loan"},
			}
		}
	}

	upper := strings.ToUpper(narration)
	for _, idx := range loanIDPattern.FindAllStringSubmatchIndex(upper, -1) {
		prefix := upper[idx[2]:idx[3]]
		// "Interunit Loan 1234567890" names an account, not a loan id.
		if prefix == "LOAN" && interunitTail.MatchString(upper[:idx[0]]) {
			continue
		}
		// "Employee ID 4411" and "Name-ID 4411" identify people.
		if prefix == "ID" && personIDTail.MatchString(upper[:idx[0]]) {
			continue
		}
		digits := upper[idx[4]:idx[5]]
		return &Reference{
			Kind:  models.MatchTypeLoanID,
			Value: prefix + "-" + digits,
			Raw:   upper[idx[0]:idx[1]],
		}
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
