package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newEntry(uid, company, counterparty string, debit, credit string) *LedgerEntry {
	e := &LedgerEntry{
		UID:          uid,
		Company:      company,
		Counterparty: counterparty,
		Period:       Period{Month: time.March, Year: 2024},
		Date:         time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Debit:        decimal.RequireFromString(debit),
		Credit:       decimal.RequireFromString(credit),
		MatchStatus:  StatusUnmatched,
	}
	e.DeriveRole()
	return e
}

func TestParseMatchStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    MatchStatus
		wantErr bool
	}{
		{"", StatusUnmatched, false},
		{"unmatched", StatusUnmatched, false},
		{"Rejected", StatusUnmatched, false},
		{"matched", StatusMatched, false},
		{" CONFIRMED ", StatusConfirmed, false},
		{"pending", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMatchStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMatchStatus(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMatchStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatchTypeMethodAndAutoAccept(t *testing.T) {
	tests := []struct {
		matchType MatchType
		method    MatchMethod
		auto      bool
	}{
		{MatchTypePO, MethodReference, true},
		{MatchTypeLC, MethodReference, true},
		{MatchTypeLoanID, MethodReference, true},
		{MatchTypeFinalSettlement, MethodReference, true},
		{MatchTypeInterunitLoan, MethodCrossReference, true},
		{MatchTypeSalary, MethodSimilarity, false},
		{MatchTypeCommonText, MethodSimilarity, false},
		{MatchTypeAccountReference, MethodCrossReference, false},
		{MatchTypeManualVerification, MethodFallback, false},
		{MatchTypeAmountOnly, MethodFallback, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.matchType), func(t *testing.T) {
			if got := tt.matchType.Method(); got != tt.method {
				t.Errorf("Method() = %s, want %s", got, tt.method)
			}
			if got := tt.matchType.AutoAccepted(); got != tt.auto {
				t.Errorf("AutoAccepted() = %v, want %v", got, tt.auto)
			}
		})
	}
}

func TestDeriveRole(t *testing.T) {
	lender := newEntry("U1", "ACME", "BETA", "10000", "0")
	if lender.Role != RoleLender || lender.Lender != "ACME" || lender.Borrower != "BETA" {
		t.Errorf("debit entry derived %s %s->%s", lender.Role, lender.Lender, lender.Borrower)
	}

	borrower := newEntry("U2", "BETA", "ACME", "0", "10000")
	if borrower.Role != RoleBorrower || borrower.Lender != "ACME" || borrower.Borrower != "BETA" {
		t.Errorf("credit entry derived %s %s->%s", borrower.Role, borrower.Lender, borrower.Borrower)
	}
}

func TestLedgerEntryValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *LedgerEntry)
		wantErr string
	}{
		{"valid", func(e *LedgerEntry) {}, ""},
		{"empty uid", func(e *LedgerEntry) { e.UID = " " }, "uid cannot be empty"},
		{"both sides", func(e *LedgerEntry) { e.Credit = decimal.NewFromInt(5) }, "exactly one"},
		{"neither side", func(e *LedgerEntry) { e.Debit = decimal.Zero }, "exactly one"},
		{"negative", func(e *LedgerEntry) { e.Credit = decimal.NewFromInt(-5) }, "negative"},
		{"wrong role", func(e *LedgerEntry) { e.Role = RoleBorrower }, "role"},
		{"bad period", func(e *LedgerEntry) { e.Period.Month = 13 }, "statement month"},
		{"matched without counterpart", func(e *LedgerEntry) { e.MatchStatus = StatusMatched }, "no counterpart"},
		{"matched with itself", func(e *LedgerEntry) {
			e.MatchStatus = StatusMatched
			e.MatchedWith = e.UID
		}, "itself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEntry("U1", "ACME", "BETA", "100", "0")
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClearMatchAndClone(t *testing.T) {
	now := time.Now()
	e := newEntry("U1", "ACME", "BETA", "100", "0")
	e.MatchStatus = StatusMatched
	e.MatchedWith = "U2"
	e.MatchType = MatchTypeSalary
	e.MatchMethod = MethodSimilarity
	e.Audit = PersonAudit{MatchType: MatchTypeSalary, Person: "JOHN DOE"}
	e.DateMatched = &now

	c := e.Clone()
	*c.DateMatched = now.Add(time.Hour)
	if !e.DateMatched.Equal(now) {
		t.Error("clone shares DateMatched with original")
	}

	e.ClearMatch()
	if e.MatchStatus != StatusUnmatched || e.MatchedWith != "" || e.Audit != nil || e.DateMatched != nil || e.MatchType != "" {
		t.Errorf("ClearMatch left state behind: %+v", e)
	}
	if c.MatchedWith != "U2" {
		t.Error("ClearMatch mutated the clone")
	}
}

func TestLedgerEntryJSON(t *testing.T) {
	e := newEntry("U1", "ACME", "BETA", "10000", "0")
	e.Narration = "PO-4521 advance"
	e.MatchStatus = StatusConfirmed
	e.MatchedWith = "U2"
	e.MatchType = MatchTypePO
	e.MatchMethod = MethodReference
	e.Audit = ReferenceAudit{
		MatchType:      MatchTypePO,
		Reference:      "PO-4521",
		LenderAmount:   decimal.NewFromInt(10000),
		BorrowerAmount: decimal.NewFromInt(10000),
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"match_type":"PO"`) || !strings.Contains(string(data), `"reference":"PO-4521"`) {
		t.Errorf("audit payload missing from %s", data)
	}

	var decoded LedgerEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	ref, ok := decoded.Audit.(ReferenceAudit)
	if !ok {
		t.Fatalf("expected ReferenceAudit, got %T", decoded.Audit)
	}
	if ref.Reference != "PO-4521" || !ref.LenderAmount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected audit %+v", ref)
	}
	if !decoded.Debit.Equal(e.Debit) || decoded.Period != e.Period {
		t.Errorf("entry fields lost: %+v", decoded)
	}
}

func TestUnmarshalAuditVariants(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType string
		wantKind MatchType
	}{
		{"lc", `{"match_type":"LC","reference":"LC-123/456"}`, "models.ReferenceAudit", MatchTypeLC},
		{"salary", `{"match_type":"SALARY","person":"JOHN DOE","period":"MAR","similarity_score":1}`, "models.PersonAudit", MatchTypeSalary},
		{"final settlement", `{"match_type":"FINAL_SETTLEMENT","person":"KARIM","person_id":"4411"}`, "models.PersonAudit", MatchTypeFinalSettlement},
		{"common text", `{"match_type":"COMMON_TEXT","matched_phrase":"office rent"}`, "models.CommonTextAudit", MatchTypeCommonText},
		{"interunit", `{"match_type":"INTERUNIT_LOAN","lender_reference":"12345"}`, "models.InterunitAudit", MatchTypeInterunitLoan},
		{"fallback", `{"match_type":"AMOUNT_ONLY","reason":"amount"}`, "models.FallbackAudit", MatchTypeAmountOnly},
		{"unknown type", `{"match_type":"SOMETHING_NEW","extra":true}`, "models.FallbackAudit", "SOMETHING_NEW"},
		{"missing keys", `{"match_type":"PO"}`, "models.ReferenceAudit", MatchTypePO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := UnmarshalAudit([]byte(tt.payload))
			if err != nil {
				t.Fatalf("UnmarshalAudit: %v", err)
			}
			if got := typeName(a); got != tt.wantType {
				t.Errorf("decoded %s, want %s", got, tt.wantType)
			}
			if a.Kind() != tt.wantKind {
				t.Errorf("Kind() = %s, want %s", a.Kind(), tt.wantKind)
			}
			lender, borrower := a.Amounts()
			if tt.name == "missing keys" && (!lender.IsZero() || !borrower.IsZero()) {
				t.Errorf("missing amounts should decode to zero")
			}
		})
	}

	if a, err := UnmarshalAudit([]byte("null")); a != nil || err != nil {
		t.Errorf("null payload should decode to nil, got %v, %v", a, err)
	}
	if _, err := UnmarshalAudit([]byte("{")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestMarshalAuditStampsDiscriminant(t *testing.T) {
	data, err := MarshalAudit(CommonTextAudit{Phrase: "office rent", SimilarityScore: 0.6})
	if err != nil {
		t.Fatalf("MarshalAudit: %v", err)
	}
	if !strings.Contains(string(data), `"match_type":"COMMON_TEXT"`) {
		t.Errorf("expected discriminant in %s", data)
	}
	if data, _ := MarshalAudit(nil); data != nil {
		t.Errorf("nil audit should encode to nil, got %s", data)
	}
}

func typeName(a AuditInfo) string {
	switch a.(type) {
	case ReferenceAudit:
		return "models.ReferenceAudit"
	case PersonAudit:
		return "models.PersonAudit"
	case CommonTextAudit:
		return "models.CommonTextAudit"
	case InterunitAudit:
		return "models.InterunitAudit"
	case FallbackAudit:
		return "models.FallbackAudit"
	}
	return "unknown"
}

func TestMatchResultStatus(t *testing.T) {
	po := MatchResult{Type: MatchTypePO, LenderAmount: decimal.NewFromInt(100), BorrowerAmount: decimal.RequireFromString("99.995")}
	if po.Status() != StatusConfirmed {
		t.Errorf("PO result should be confirmed, got %s", po.Status())
	}
	if !po.AmountDifference().Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("unexpected difference %s", po.AmountDifference())
	}

	salary := MatchResult{Type: MatchTypeSalary}
	if salary.Status() != StatusMatched {
		t.Errorf("SALARY result should be matched, got %s", salary.Status())
	}
}
