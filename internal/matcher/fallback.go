package matcher

import (
	"strings"

	"interunit-loan-recon/internal/models"
)

// fallbackPass runs the loose rules in order, each over every open lender
// before the next rule starts: shared account reference, same data-entry
// operator, then amount alone. Each rule is behind its own toggle.
type fallbackPass struct {
	config *MatchingConfig
}

func (fallbackPass) Name() models.Pass { return models.PassFallback }

type fallbackRule struct {
	matchType models.MatchType
	enabled   bool
	// textFree rules ignore narration evidence, conflicting references included.
	textFree bool
	accept   func(lender, borrower *Candidate) bool
	audit    func(lender, borrower *Candidate) models.FallbackAudit
}

func (p fallbackPass) rules() []fallbackRule {
	return []fallbackRule{
		{
			matchType: models.MatchTypeAccountReference,
			enabled:   p.config.EnableAccountReference,
			accept: func(l, b *Candidate) bool {
				return l.Account.SameAccount(b.Account)
			},
			audit: func(l, b *Candidate) models.FallbackAudit {
				ref := l.Account.Raw
				if l.Account.Bank == "" && b.Account.Bank != "" {
					ref = b.Account.Raw
				}
				return models.FallbackAudit{
					Reference: ref,
					Reason:    "both narrations cite account #" + l.Account.Number,
				}
			},
		},
		{
			matchType: models.MatchTypeManualVerification,
			enabled:   p.config.EnableManualVerification,
			accept: func(l, b *Candidate) bool {
				op := strings.TrimSpace(l.Entry.EnteredBy)
				return op != "" && strings.EqualFold(op, strings.TrimSpace(b.Entry.EnteredBy))
			},
			audit: func(l, b *Candidate) models.FallbackAudit {
				return models.FallbackAudit{
					Reference: strings.TrimSpace(l.Entry.EnteredBy),
					Reason:    "same data-entry operator and amount; needs manual verification",
				}
			},
		},
		{
			matchType: models.MatchTypeAmountOnly,
			enabled:   p.config.EnableAmountOnly,
			textFree:  true,
			accept:    func(l, b *Candidate) bool { return true },
			audit: func(l, b *Candidate) models.FallbackAudit {
				return models.FallbackAudit{
					Reason: "amount and period agree; no narration evidence",
				}
			},
		},
	}
}

func (p fallbackPass) Run(ci *CandidateIndex, stats *PassStats) []*models.MatchResult {
	var results []*models.MatchResult

	for _, rule := range p.rules() {
		if !rule.enabled {
			continue
		}
		for _, lender := range ci.OpenLenders() {
			var eligible []*Candidate
			for _, c := range ci.GetCandidates(lender) {
				if (rule.textFree || !contradicts(lender, c)) && rule.accept(lender, c) {
					eligible = append(eligible, c)
				}
			}
			if len(eligible) == 0 {
				continue
			}

			borrower, tied := p.config.pickBest(lender, eligible)
			if tied {
				stats.Ambiguous++
			}
			audit := rule.audit(lender, borrower)
			audit.MatchType = rule.matchType
			audit.LenderAmount = lender.Entry.Debit
			audit.BorrowerAmount = borrower.Entry.Credit
			results = append(results, newResult(ci, lender, borrower, rule.matchType, 0, audit))
		}
	}

	stats.NoCandidate = len(ci.OpenLenders())
	return results
}
