package matcher

import (
	"interunit-loan-recon/internal/extractor"
	"interunit-loan-recon/internal/models"
)

// referencePass pairs entries carrying the same structured reference, and
// interunit loan entries whose narrations quote each other's accounts.
type referencePass struct {
	config *MatchingConfig
}

func (referencePass) Name() models.Pass { return models.PassReference }

func (p referencePass) Run(ci *CandidateIndex, stats *PassStats) []*models.MatchResult {
	var results []*models.MatchResult

	for _, lender := range ci.OpenLenders() {
		ref := lender.Ref
		if !ref.Deterministic() {
			continue
		}

		var r *models.MatchResult
		if ref.Kind == models.MatchTypeInterunitLoan {
			r = p.matchInterunit(ci, lender, stats)
		} else {
			r = p.matchKey(ci, lender, ref, stats)
		}
		if r != nil {
			results = append(results, r)
		}
	}

	return results
}

// matchKey pairs on kind and value equality.
func (p referencePass) matchKey(ci *CandidateIndex, lender *Candidate, ref *extractor.Reference, stats *PassStats) *models.MatchResult {
	sameRef := ci.GetByReference(lender, ref)
	if len(sameRef) == 0 {
		stats.NoCandidate++
		return nil
	}

	var eligible []*Candidate
	for _, c := range sameRef {
		if p.config.WithinTolerance(lender.Entry.Debit, c.Entry.Credit) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		stats.AmountMismatch++
		return nil
	}

	borrower, tied := p.config.pickBest(lender, eligible)
	if tied {
		stats.Ambiguous++
	}
	return newResult(ci, lender, borrower, ref.Kind, 1.0, referenceAudit(lender, borrower, ref))
}

// matchInterunit pairs interunit loan narrations that cross-reference.
func (p referencePass) matchInterunit(ci *CandidateIndex, lender *Candidate, stats *PassStats) *models.MatchResult {
	var eligible []*Candidate
	digits := make(map[string]string)
	for _, c := range ci.GetCandidates(lender) {
		if c.Ref == nil || c.Ref.Kind != models.MatchTypeInterunitLoan {
			continue
		}
		ok, matched := extractor.CrossReferenced(lender.Ref, lender.Entry.Narration, c.Ref, c.Entry.Narration)
		if !ok {
			continue
		}
		eligible = append(eligible, c)
		digits[c.Entry.UID] = matched
	}
	if len(eligible) == 0 {
		stats.NoCandidate++
		return nil
	}

	borrower, tied := p.config.pickBest(lender, eligible)
	if tied {
		stats.Ambiguous++
	}
	audit := models.InterunitAudit{
		MatchType:         models.MatchTypeInterunitLoan,
		LenderReference:   lender.Ref.Account,
		BorrowerReference: borrower.Ref.Account,
		MatchedDigits:     digits[borrower.Entry.UID],
		LenderAmount:      lender.Entry.Debit,
		BorrowerAmount:    borrower.Entry.Credit,
	}
	return newResult(ci, lender, borrower, models.MatchTypeInterunitLoan, 1.0, audit)
}

func referenceAudit(lender, borrower *Candidate, ref *extractor.Reference) models.AuditInfo {
	if ref.Kind == models.MatchTypeFinalSettlement {
		return models.PersonAudit{
			MatchType:       models.MatchTypeFinalSettlement,
			Person:          ref.Person,
			PersonID:        ref.PersonID,
			SimilarityScore: 1.0,
			Basis:           "exact",
			LenderAmount:    lender.Entry.Debit,
			BorrowerAmount:  borrower.Entry.Credit,
		}
	}
	return models.ReferenceAudit{
		MatchType:      ref.Kind,
		Reference:      ref.Value,
		LenderAmount:   lender.Entry.Debit,
		BorrowerAmount: borrower.Entry.Credit,
	}
}
