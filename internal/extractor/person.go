package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"interunit-loan-recon/internal/models"
)

var (
	settlementLenderPattern   = regexp.MustCompile(`(?i)\(\s*([^()]+?)\s*-\s*ID\s*[:：]\s*(\d+)\s*\)`)
	settlementBorrowerPattern = regexp.MustCompile(`(?is)payable\s+to\s+([^\r\n\-]+?)\s*-\s*ID\s*[:：]\s*(\d+)`)

	salaryKeywordPattern = regexp.MustCompile(`\b(?:salary|salaries|sal|wages?|payroll|remuneration|compensation)\b|final settlement`)
	nonSalaryPattern     = regexp.MustCompile(`\b(?:payment for|purchase of|rent|electricity|transportation|marketing|` +
		`maintenance|equipment|insurance|legal|consulting|training|travel|software|security|cleaning|` +
		`bank charges|interest|loan repayment|tax payment|bill payment|expenses for|fees for|vendor payment|` +
		`po no|work order|invoice|challan|tds deduction|vds deduction|duty|taxes|port|shipping|carrying charges|` +
		`letter of credit|margin|collateral|acceptance commission|retirement value|principal|time loan|usance loan)\b|l/c`)

	monthAlternation = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

	personPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bsalary\s+of\s+([a-z][a-z\s.]*?)(?:\s+(?:for|month|period)\b|\s+(?:` + monthAlternation + `)\b|\s*\d|\s*[,;(]|$)`),
		regexp.MustCompile(`\bpayroll\s+for\s+([a-z][a-z\s.]*?)(?:\s+(?:for|month|period)\b|\s+(?:` + monthAlternation + `)\b|\s*\d|\s*[,;(]|$)`),
		regexp.MustCompile(`\b(?:salary|payroll|wages?)\s+(?:to\s+|for\s+)?([a-z][a-z\s.]*?)(?:\s+(?:for|month|period)\b|\s+(?:` + monthAlternation + `)\b|\s*\d|\s*[,;(]|$)`),
		regexp.MustCompile(`([a-z][a-z\s.]*?)\s+(?:salary|payroll|wages?)\b`),
	}
	personIDPattern = regexp.MustCompile(`([a-z]+\.?\s+[a-z][a-z\s.]*?)\s*-\s*id\s*[:：]?\s*(\d+)`)

	periodMonthYear   = regexp.MustCompile(`\b(` + monthAlternation + `)[a-z]*\.?[\s,'-]*(\d{4})\b`)
	periodNumeric     = regexp.MustCompile(`\b(\d{1,2})/(\d{4})\b`)
	periodISO         = regexp.MustCompile(`\b(\d{4})-(\d{2})\b`)
	periodMonthOnly   = regexp.MustCompile(`\b(` + monthAlternation + `)\b`)
	salaryKeywords    = compileKeywords("salary", "sal", "wage", "wages", "payroll", "remuneration", "compensation", "final settlement")
)

type keyword struct {
	word    string
	pattern *regexp.Regexp
}

func compileKeywords(words ...string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		out = append(out, keyword{word: w, pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)})
	}
	return out
}

// filler words dropped from the edges of an extracted person name
var personFiller = map[string]bool{
	"amount": true, "paid": true, "being": true, "to": true, "for": true, "the": true,
	"of": true, "month": true, "monthly": true, "period": true, "advance": true, "against": true,
	"salary": true, "sal": true, "wage": true, "wages": true, "payroll": true, "final": true, "settlement": true,
}

// ExtractFinalSettlement recognises the two final-settlement narration forms:
// "... amount paid as inter unit loan ... (Name-ID: 123)" on the lender side
// and "payable to Name-ID: 123 ... final settlement" on the borrower side.
func ExtractFinalSettlement(narration string) *Reference {
	lower := strings.ToLower(narration)

	var m []string
	if strings.Contains(lower, "amount paid as inter unit loan") {
		m = settlementLenderPattern.FindStringSubmatch(narration)
	}
	if m == nil && strings.Contains(lower, "payable to") && strings.Contains(lower, "final settlement") {
		m = settlementBorrowerPattern.FindStringSubmatch(narration)
	}
	if m == nil {
		return nil
	}

	person := strings.ToUpper(normalizeSpace(m[1]))
	if person == "" {
		return nil
	}
	return &Reference{
		Kind:     models.MatchTypeFinalSettlement,
		Value:    fmt.Sprintf("%s-ID:%s", person, m[2]),
		Raw:      strings.TrimSpace(m[0]),
		Person:   person,
		PersonID: m[2],
		Keywords: []string{"final settlement"},
	}
}

// ExtractSalary recognises salary-like narrations and pulls out the person
// and statement period when present. Narrations carrying a non-salary
// indicator (rent, invoice, interest and so on) are rejected.
func ExtractSalary(narration string) *Reference {
	lower := strings.ToLower(narration)
	if !salaryKeywordPattern.MatchString(lower) {
		return nil
	}
	if nonSalaryPattern.MatchString(lower) {
		return nil
	}

	ref := &Reference{
		Kind:     models.MatchTypeSalary,
		Period:   ExtractPeriod(narration),
		Keywords: matchedKeywords(lower),
	}
	ref.Person, ref.PersonID = extractPerson(lower)
	ref.Value = ref.Person + "|" + ref.Period
	return ref
}

func extractPerson(lower string) (string, string) {
	if m := personIDPattern.FindStringSubmatch(lower); m != nil {
		if name := cleanPerson(m[1]); name != "" {
			return name, m[2]
		}
	}
	for _, p := range personPatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if name := cleanPerson(m[1]); name != "" {
			return name, ""
		}
	}
	return "", ""
}

// cleanPerson drops filler and month words from the edges and upper-cases.
func cleanPerson(raw string) string {
	words := strings.Fields(strings.Trim(raw, " .,-"))
	for len(words) > 0 && isFillerWord(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isFillerWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.ToUpper(strings.Join(words, " "))
}

func isFillerWord(w string) bool {
	w = strings.Trim(w, ".,")
	if w == "" || personFiller[w] {
		return true
	}
	_, isMonth := CanonicalMonth(w)
	return isMonth
}

// ExtractPeriod returns a canonical period such as "MAR-2024", or "MAR" when
// only a month is named, or "" when there is none.
func ExtractPeriod(narration string) string {
	lower := strings.ToLower(narration)

	if m := periodMonthYear.FindStringSubmatch(lower); m != nil {
		if month, ok := CanonicalMonth(m[1]); ok {
			return month + "-" + m[2]
		}
	}
	if m := periodNumeric.FindStringSubmatch(lower); m != nil {
		if month := monthFromNumber(m[1]); month != "" {
			return month + "-" + m[2]
		}
	}
	if m := periodISO.FindStringSubmatch(lower); m != nil {
		if month := monthFromNumber(m[2]); month != "" {
			return month + "-" + m[1]
		}
	}
	if m := periodMonthOnly.FindStringSubmatch(lower); m != nil {
		if month, ok := CanonicalMonth(m[1]); ok {
			return month
		}
	}
	return ""
}

func monthFromNumber(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 12 {
		return ""
	}
	return strings.ToUpper(time.Month(n).String()[:3])
}

// CanonicalMonth maps "March", "mar" or "Sept" to the three-letter form "MAR".
func CanonicalMonth(word string) (string, bool) {
	w := strings.ToLower(strings.TrimSuffix(word, "."))
	if len(w) < 3 {
		return "", false
	}
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if w == name || w == name[:3] || (m == time.September && w == "sept") {
			return strings.ToUpper(name[:3]), true
		}
	}
	return "", false
}

func matchedKeywords(lower string) []string {
	var out []string
	for _, k := range salaryKeywords {
		if k.pattern.MatchString(lower) {
			out = append(out, k.word)
		}
	}
	if p := periodMonthOnly.FindString(lower); p != "" {
		out = append(out, p)
	}
	return out
}
