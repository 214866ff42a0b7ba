package matcher

import (
	"interunit-loan-recon/internal/extractor"
	"interunit-loan-recon/internal/models"
)

// similarityPass scores narration pairs by Jaccard similarity of their
// normalised tokens. Salary narrations that name the same person and period
// score 1.0 regardless of wording.
type similarityPass struct {
	config *MatchingConfig
}

func (similarityPass) Name() models.Pass { return models.PassSimilarity }

func (p similarityPass) Run(ci *CandidateIndex, stats *PassStats) []*models.MatchResult {
	var proposals []*scoredPair

	for _, lender := range ci.OpenLenders() {
		found := false
		for _, borrower := range ci.GetCandidates(lender) {
			if contradicts(lender, borrower) {
				continue
			}
			if sp := p.score(lender, borrower); sp != nil {
				proposals = append(proposals, sp)
				found = true
			}
		}
		if !found {
			stats.NoCandidate++
		}
	}

	return assignGreedy(ci, proposals, stats)
}

func (p similarityPass) score(lender, borrower *Candidate) *scoredPair {
	jaccard := extractor.Jaccard(lender.Tokens, borrower.Tokens)

	if isSalary(lender) && isSalary(borrower) {
		lr, br := lender.Ref, borrower.Ref
		exact := lr.Person != "" && lr.Person == br.Person && lr.Period == br.Period
		if !exact && jaccard < p.config.SalaryThreshold {
			return nil
		}
		score, basis := jaccard, "jaccard"
		if exact {
			score, basis = 1.0, "exact"
		}
		return &scoredPair{
			lender:   lender,
			borrower: borrower,
			score:    score,
			build: func() (models.MatchType, models.AuditInfo) {
				person, period := lr.Person, lr.Period
				if person == "" {
					person = br.Person
				}
				if period == "" {
					period = br.Period
				}
				return models.MatchTypeSalary, models.PersonAudit{
					MatchType:       models.MatchTypeSalary,
					Person:          person,
					PersonID:        lr.PersonID,
					Period:          period,
					SimilarityScore: jaccard,
					Basis:           basis,
					LenderAmount:    lender.Entry.Debit,
					BorrowerAmount:  borrower.Entry.Credit,
				}
			},
		}
	}

	if jaccard < p.config.CommonTextThreshold {
		return nil
	}
	return &scoredPair{
		lender:   lender,
		borrower: borrower,
		score:    jaccard,
		build: func() (models.MatchType, models.AuditInfo) {
			return models.MatchTypeCommonText, models.CommonTextAudit{
				MatchType:       models.MatchTypeCommonText,
				Phrase:          extractor.CommonPhrase(lender.Entry.Narration, borrower.Entry.Narration),
				SimilarityScore: jaccard,
				LenderAmount:    lender.Entry.Debit,
				BorrowerAmount:  borrower.Entry.Credit,
			}
		},
	}
}

func isSalary(c *Candidate) bool {
	return c.Ref != nil && c.Ref.Kind == models.MatchTypeSalary
}
