package extractor

import (
	"math"
	"testing"

	"interunit-loan-recon/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		narration string
		wantKind  models.MatchType
		wantValue string
	}{
		{"short po", "PO-4521 advance", models.MatchTypePO, "PO-4521"},
		{"po in sentence", "Advance against PO-4521", models.MatchTypePO, "PO-4521"},
		{"po number form", "Payment ref PO No. 4521", models.MatchTypePO, "PO-4521"},
		{"dotted po", "p.o.#4521 settled", models.MatchTypePO, "PO-4521"},
		{"full po", "Against ABC/PO/123/456 dated 01.03.2024", models.MatchTypePO, "ABC/PO/123/456"},
		{"lc with slash", "Margin for L/C-123/456", models.MatchTypeLC, "LC-123/456"},
		{"lc with space", "LC 123/456 retirement", models.MatchTypeLC, "LC-123/456"},
		{"lc single number", "lc-789 acceptance", models.MatchTypeLC, "LC-789"},
		{
			"time loan",
			"Amount being paid as Principal & Interest repayment of Time Loan LD 2435445106 to bank",
			models.MatchTypeLoanID, "LD-2435445106",
		},
		{
			"time loan id prefix normalised",
			"amount being paid as principal & interest of time loan ID-778899",
			models.MatchTypeLoanID, "LD-778899",
		},
		{"generic loan id", "Loan disbursed ref LD123", models.MatchTypeLoanID, "LD-123"},
		{"generic id", "Transfer ID-456 to sister concern", models.MatchTypeLoanID, "ID-456"},
		{
			"final settlement lender side",
			"Amount paid as Inter Unit Loan for final dues (Md. Karim Hossain-ID: 4411)",
			models.MatchTypeFinalSettlement, "MD. KARIM HOSSAIN-ID:4411",
		},
		{
			"final settlement borrower side",
			"Payable to Md. Karim Hossain-ID : 4411 against final settlement",
			models.MatchTypeFinalSettlement, "MD. KARIM HOSSAIN-ID:4411",
		},
		{
			"interunit loan",
			"Amount paid as Interunit Loan from Midland Bank-0011234567890123 to #55678",
			models.MatchTypeInterunitLoan, "0011234567890123",
		},
		{"salary", "Salary John Doe March", models.MatchTypeSalary, "JOHN DOE|MAR"},
		{"salary reversed", "John Doe salary Mar", models.MatchTypeSalary, "JOHN DOE|MAR"},
		{"salary of", "Salary of Jane Roe for January 2024", models.MatchTypeSalary, "JANE ROE|JAN-2024"},
		{"plain text", "Office rent for head office", "", ""},
		{"empty", "   ", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := Extract(tt.narration)
			if tt.wantKind == "" {
				if ref != nil {
					t.Fatalf("expected no reference, got %s", ref)
				}
				return
			}
			if ref == nil {
				t.Fatalf("expected %s reference, got none", tt.wantKind)
			}
			if ref.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ref.Kind, tt.wantKind)
			}
			if ref.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", ref.Value, tt.wantValue)
			}
		})
	}
}

func TestExtractPrecedence(t *testing.T) {
	// Both a PO and an LC appear; PO wins and both are visible to ExtractAll.
	narration := "PO-100 shipped under LC-200/1"
	ref := Extract(narration)
	if ref == nil || ref.Kind != models.MatchTypePO {
		t.Fatalf("expected PO to win, got %v", ref)
	}
	all := ExtractAll(narration)
	if len(all) < 2 || all[1].Kind != models.MatchTypeLC {
		t.Errorf("expected LC as second candidate, got %v", all)
	}
}

func TestExtractLoanIDSkipsAccountsAndPeople(t *testing.T) {
	tests := []struct {
		narration string
		want      bool
	}{
		{"Interunit Loan 1234567890123 transfer", false},
		{"Salary paid, employee ID 4411", false},
		{"Karim-ID 4411 salary", false},
		{"Loan 5521 disbursement", true},
	}
	for _, tt := range tests {
		t.Run(tt.narration, func(t *testing.T) {
			got := ExtractLoanID(tt.narration) != nil
			if got != tt.want {
				t.Errorf("ExtractLoanID(%q) found = %v, want %v", tt.narration, got, tt.want)
			}
		})
	}
}

func TestExtractSalary(t *testing.T) {
	tests := []struct {
		name       string
		narration  string
		wantNil    bool
		wantPerson string
		wantPeriod string
	}{
		{"with year", "Salary of John Doe for March 2024", false, "JOHN DOE", "MAR-2024"},
		{"numeric period", "Payroll for Jane Roe 03/2024", false, "JANE ROE", "MAR-2024"},
		{"iso period", "Wages Rahim Uddin 2024-02", false, "RAHIM UDDIN", "FEB-2024"},
		{"no person", "Salary disbursement", false, "DISBURSEMENT", ""},
		{"person with id", "Salary Md. Karim-ID: 4411 June", false, "MD. KARIM", "JUN"},
		{"non salary indicator", "Salary account maintenance charges", true, "", ""},
		{"rent", "Rent and salary advance", true, "", ""},
		{"sales is not salary", "Sales proceeds transfer", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := ExtractSalary(tt.narration)
			if tt.wantNil {
				if ref != nil {
					t.Fatalf("expected no salary reference, got %+v", ref)
				}
				return
			}
			if ref == nil {
				t.Fatal("expected salary reference")
			}
			if ref.Person != tt.wantPerson {
				t.Errorf("Person = %q, want %q", ref.Person, tt.wantPerson)
			}
			if ref.Period != tt.wantPeriod {
				t.Errorf("Period = %q, want %q", ref.Period, tt.wantPeriod)
			}
		})
	}
}

func TestCrossReferenced(t *testing.T) {
	lenderText := "Amount paid as Interunit Loan from MDBL A/C 0011234567890123 to OBL#67890"
	borrowerText := "Amount received as Interunit Loan in OBL 123-4567867890 from MDBL#90123"

	lender := ExtractInterunit(lenderText)
	borrower := ExtractInterunit(borrowerText)
	if lender == nil || borrower == nil {
		t.Fatalf("expected interunit references, got %v and %v", lender, borrower)
	}
	if lender.LastDigits != "90123" || borrower.LastDigits != "67890" {
		t.Fatalf("unexpected trailing digits %s / %s", lender.LastDigits, borrower.LastDigits)
	}

	ok, digits := CrossReferenced(lender, lenderText, borrower, borrowerText)
	if !ok {
		t.Fatal("expected narrations to cross-reference")
	}
	if digits != "90123<->67890" {
		t.Errorf("unexpected matched digits %s", digits)
	}

	unrelated := "Amount received as Interunit Loan in OBL 123-4567811111 from MDBL#22222"
	other := ExtractInterunit(unrelated)
	if ok, _ := CrossReferenced(lender, lenderText, other, unrelated); ok {
		t.Error("unrelated accounts should not cross-reference")
	}
}

func TestExtractAccountReference(t *testing.T) {
	tests := []struct {
		narration string
		wantBank  string
		wantNum   string
		wantNil   bool
	}{
		{"Transfer to OBL#8826", "ONE BANK", "8826", false},
		{"Deposit mdbl#11026 cash", "MIDLAND BANK", "11026", false},
		{"Paid to Midland Bank#11026", "MIDLAND BANK", "11026", false},
		{"Ref #55123", "", "55123", false},
		{"No reference here", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.narration, func(t *testing.T) {
			ref := ExtractAccountReference(tt.narration)
			if tt.wantNil {
				if ref != nil {
					t.Fatalf("expected nil, got %+v", ref)
				}
				return
			}
			if ref == nil {
				t.Fatal("expected account reference")
			}
			if ref.Bank != tt.wantBank || ref.Number != tt.wantNum {
				t.Errorf("got %s#%s, want %s#%s", ref.Bank, ref.Number, tt.wantBank, tt.wantNum)
			}
		})
	}

	a := ExtractAccountReference("OBL#8826")
	b := ExtractAccountReference("One Bank#8826")
	c := ExtractAccountReference("#8826")
	d := ExtractAccountReference("BBL#8826")
	if !a.SameAccount(b) || !a.SameAccount(c) || a.SameAccount(d) {
		t.Error("unexpected SameAccount results")
	}
}

func TestTokensAndJaccard(t *testing.T) {
	tokens := Tokens("Salary, John Doe: MARCH!")
	want := []string{"salary", "john", "doe", "mar"}
	if len(tokens) != len(want) {
		t.Fatalf("Tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("Tokens[%d] = %s, want %s", i, tokens[i], want[i])
		}
	}

	tests := []struct {
		a, b string
		want float64
	}{
		{"Salary John Doe March", "John Doe salary Mar", 1.0},
		{"office rent march", "office rent april", 0.5},
		{"the of and", "to by", 0},
		{"", "", 0},
		{"alpha beta", "gamma delta", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCommonPhrase(t *testing.T) {
	got := CommonPhrase(
		"Insurance premium for vehicle Dhaka Metro 11-2233 paid",
		"Reimbursed insurance premium for vehicle Dhaka Metro 11-2233",
	)
	if got != "insurance premium vehicle dhaka metro 2233" {
		t.Errorf("CommonPhrase = %q", got)
	}
	if CommonPhrase("alpha", "") != "" {
		t.Error("expected empty phrase for empty input")
	}
}

func TestBankName(t *testing.T) {
	if BankName("mdbl") != "MIDLAND BANK" {
		t.Error("expected MDBL alias")
	}
	if BankName(" Brac  Bank ") != "BRAC BANK" {
		t.Error("expected whitespace-normalised alias")
	}
	if BankName("XYZ") != "XYZ" {
		t.Error("unknown codes pass through")
	}
}
