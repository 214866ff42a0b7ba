package extractor

import (
	"regexp"
	"strings"

	"interunit-loan-recon/internal/models"
)

var interunitKeywords = []string{
	"amount paid as interunit loan",
	"amount received as interunit loan",
	"interunit fund transfer",
	"inter unit fund transfer",
	"interunit loan",
}

var (
	accountHyphenated = regexp.MustCompile(`\b\d{3}-\d{10}\b`)
	accountStandard   = regexp.MustCompile(`\d{13,16}`)
	accountFallback   = regexp.MustCompile(`\d{10,}`)
	shortRefPattern   = regexp.MustCompile(`#(\d{4,5})\b`)
)

// IsInterunit reports whether the narration uses interunit loan wording.
func IsInterunit(narration string) bool {
	return len(interunitMatches(strings.ToLower(narration))) > 0
}

func interunitMatches(lower string) []string {
	var out []string
	for _, k := range interunitKeywords {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	return out
}

// ExtractInterunit finds an interunit loan narration that names a bank
// account. The account's trailing digits are what the counterpart narration
// is expected to quote back.
func ExtractInterunit(narration string) *Reference {
	keywords := interunitMatches(strings.ToLower(narration))
	if len(keywords) == 0 {
		return nil
	}

	account := accountHyphenated.FindString(narration)
	if account == "" {
		account = accountStandard.FindString(narration)
	}
	if account == "" {
		account = accountFallback.FindString(narration)
	}
	if account == "" {
		return nil
	}

	ref := &Reference{
		Kind:       models.MatchTypeInterunitLoan,
		Value:      account,
		Raw:        account,
		Account:    account,
		LastDigits: LastDigits(account),
		Keywords:   keywords,
	}
	for _, m := range shortRefPattern.FindAllStringSubmatch(narration, -1) {
		ref.ShortRefs = append(ref.ShortRefs, m[1])
	}
	return ref
}

// LastDigits returns the last five digits of an account, or four when the
// account is shorter.
func LastDigits(account string) string {
	digits := strings.ReplaceAll(account, "-", "")
	switch {
	case len(digits) >= 5:
		return digits[len(digits)-5:]
	case len(digits) >= 4:
		return digits[len(digits)-4:]
	default:
		return digits
	}
}

// CrossReferenced reports whether each narration quotes the other side's
// account: the lender's trailing digits appear in the borrower narration (or
// a borrower #short ref is a suffix of them) and vice versa.
func CrossReferenced(lender *Reference, lenderNarration string, borrower *Reference, borrowerNarration string) (bool, string) {
	if lender == nil || borrower == nil || lender.LastDigits == "" || borrower.LastDigits == "" {
		return false, ""
	}
	forward := quotes(borrowerNarration, borrower.ShortRefs, lender.LastDigits)
	backward := quotes(lenderNarration, lender.ShortRefs, borrower.LastDigits)
	if forward && backward {
		return true, lender.LastDigits + "<->" + borrower.LastDigits
	}
	return false, ""
}

func quotes(narration string, shortRefs []string, digits string) bool {
	if strings.Contains(narration, digits) {
		return true
	}
	for _, s := range shortRefs {
		if strings.HasSuffix(digits, s) {
			return true
		}
	}
	return false
}

// AccountReference is a short bank account reference such as OBL#8826.
type AccountReference struct {
	BankCode string `json:"bank_code,omitempty"`
	Bank     string `json:"bank,omitempty"`
	Number   string `json:"number"`
	Raw      string `json:"raw"`
}

// Key is the comparison form: "ONE BANK#8826" or "#8826" without a bank.
func (a *AccountReference) Key() string {
	return a.Bank + "#" + a.Number
}

// SameAccount treats a missing bank on either side as compatible.
func (a *AccountReference) SameAccount(b *AccountReference) bool {
	if a == nil || b == nil || a.Number != b.Number {
		return false
	}
	return a.Bank == "" || b.Bank == "" || a.Bank == b.Bank
}

var accountReferencePattern = regexp.MustCompile(`(?:([A-Z][A-Z ]*[A-Z])(\s*))?#(\d{4,6})\b`)

// ExtractAccountReference finds the first bank#number reference. The bank is
// the longest known alias ending right before the '#', or a bare two to four
// letter code attached to it.
func ExtractAccountReference(narration string) *AccountReference {
	upper := strings.ToUpper(narration)
	m := accountReferencePattern.FindStringSubmatch(upper)
	if m == nil {
		return nil
	}

	ref := &AccountReference{Number: m[3], Raw: strings.TrimSpace(m[0])}
	words := strings.Fields(m[1])
	for i := range words {
		candidate := strings.Join(words[i:], " ")
		if name, ok := bankAliases[candidate]; ok {
			ref.BankCode, ref.Bank = candidate, name
			break
		}
	}
	if ref.Bank == "" && len(words) > 0 && m[2] == "" {
		if last := words[len(words)-1]; len(last) >= 2 && len(last) <= 4 {
			ref.BankCode, ref.Bank = last, last
		}
	}
	if ref.BankCode != "" {
		ref.Raw = ref.BankCode + m[2] + "#" + ref.Number
	} else {
		ref.Raw = "#" + ref.Number
	}
	return ref
}

var bankAliases = map[string]string{
	"MDBL": "MIDLAND BANK", "MDB": "MIDLAND BANK", "MIDLAND": "MIDLAND BANK",
	"MIDLAND BANK": "MIDLAND BANK", "MIDLAND BANK PLC": "MIDLAND BANK", "MIDLAND BANK LIMITED": "MIDLAND BANK",

	"BBL": "BRAC BANK", "BRAC": "BRAC BANK", "BRAC BANK": "BRAC BANK",
	"BRAC BANK PLC": "BRAC BANK", "BRAC BANK LIMITED": "BRAC BANK",

	"OBL": "ONE BANK", "ONE BANK": "ONE BANK", "ONE BANK PLC": "ONE BANK", "ONE BANK LIMITED": "ONE BANK",

	"EBL": "EASTERN BANK", "EASTERN BANK": "EASTERN BANK",
	"EASTERN BANK PLC": "EASTERN BANK", "EASTERN BANK LIMITED": "EASTERN BANK",

	"DBL": "DUTCH BANGLA BANK", "DUTCH BANGLA": "DUTCH BANGLA BANK",
	"DUTCH BANGLA BANK PLC": "DUTCH BANGLA BANK", "DUTCH BANGLA BANK LIMITED": "DUTCH BANGLA BANK",

	"PBL": "PRIME BANK", "PRIME": "PRIME BANK", "PRIME BANK": "PRIME BANK",
	"PRIME BANK PLC": "PRIME BANK", "PRIME BANK LIMITED": "PRIME BANK",

	"MTBL": "MUTUAL TRUST BANK", "MUTUAL TRUST": "MUTUAL TRUST BANK", "MUTUAL TRUST BANK": "MUTUAL TRUST BANK",
	"MUTUAL TRUST BANK PLC": "MUTUAL TRUST BANK", "MUTUAL TRUST BANK LIMITED": "MUTUAL TRUST BANK",

	"NBL": "NATIONAL BANK",
	"SBL": "STANDARD BANK",
	"UBL": "UNITED BANK",
	"CBL": "CITY BANK",
}

// BankName resolves a bank code or spelled-out name to its canonical name.
// Unknown codes come back upper-cased unchanged.
func BankName(code string) string {
	code = strings.ToUpper(normalizeSpace(code))
	if name, ok := bankAliases[code]; ok {
		return name
	}
	return code
}
