package matcher

import (
	"fmt"
	"sort"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/logger"

	"github.com/shopspring/decimal"
)

// PassStats counts what one pass did.
type PassStats struct {
	Pass       models.Pass `json:"pass"`
	Considered int         `json:"considered"`
	Matched    int         `json:"matched"`
	// NoCandidate counts lenders for which nothing eligible was found.
	NoCandidate int `json:"no_candidate"`
	// AmountMismatch counts lenders whose reference matched a counterpart
	// whose amount fell outside tolerance.
	AmountMismatch int `json:"amount_mismatch"`
	// Ambiguous counts matches chosen by tie-break among equally valid candidates.
	Ambiguous int                      `json:"ambiguous"`
	ByType    map[models.MatchType]int `json:"by_type,omitempty"`
	Duration  time.Duration            `json:"duration"`
}

func (ps *PassStats) record(r *models.MatchResult) {
	ps.Matched++
	if ps.ByType == nil {
		ps.ByType = make(map[models.MatchType]int)
	}
	ps.ByType[r.Type]++
}

// MatchOutcome is the result of matching one scope.
type MatchOutcome struct {
	Results []*models.MatchResult `json:"results"`
	Passes  []PassStats           `json:"passes"`
	Index   IndexStats            `json:"index"`
}

// MatchesFound returns the number of pairs produced.
func (o *MatchOutcome) MatchesFound() int {
	return len(o.Results)
}

// ByType totals results per match type.
func (o *MatchOutcome) ByType() map[models.MatchType]int {
	out := make(map[models.MatchType]int)
	for _, r := range o.Results {
		out[r.Type]++
	}
	return out
}

// Confirmed returns how many results are auto-accepted.
func (o *MatchOutcome) Confirmed() int {
	n := 0
	for _, r := range o.Results {
		if r.AutoAccepted() {
			n++
		}
	}
	return n
}

// pass is one matching strategy. Run must Claim every pair it returns.
type pass interface {
	Name() models.Pass
	Run(ci *CandidateIndex, stats *PassStats) []*models.MatchResult
}

// Engine runs the matching passes over the entries of one scope. It holds
// no per-run state and is safe for concurrent use.
type Engine struct {
	config *MatchingConfig
	logger logger.Logger
	passes []pass
}

// NewEngine creates an engine. A nil config selects DefaultMatchingConfig and
// a nil logger discards output.
func NewEngine(config *MatchingConfig, log logger.Logger) *Engine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if log == nil {
		log = logger.Discard()
	}
	config = config.Clone()
	return &Engine{
		config: config,
		logger: log.WithComponent("matcher"),
		passes: []pass{
			referencePass{config: config},
			similarityPass{config: config},
			fallbackPass{config: config},
		},
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Match pairs the unmatched lender and borrower entries. Entries already
// matched or confirmed are ignored, so running Match again over the same
// stored state only pairs what is still open.
func (e *Engine) Match(entries []*models.LedgerEntry) *MatchOutcome {
	ci := NewCandidateIndex(entries, e.config)
	outcome := &MatchOutcome{}

	for _, p := range e.passes {
		start := time.Now()
		stats := PassStats{Pass: p.Name(), Considered: len(ci.OpenLenders())}
		results := p.Run(ci, &stats)
		for _, r := range results {
			r.Pass = p.Name()
			stats.record(r)
		}
		stats.Duration = time.Since(start)
		outcome.Results = append(outcome.Results, results...)
		outcome.Passes = append(outcome.Passes, stats)

		e.logger.WithFields(logger.Fields{
			"pass":            p.Name(),
			"considered":      stats.Considered,
			"matched":         stats.Matched,
			"no_candidate":    stats.NoCandidate,
			"amount_mismatch": stats.AmountMismatch,
			"ambiguous":       stats.Ambiguous,
		}).Debug("Matching pass complete")
	}

	outcome.Index = ci.GetIndexStats()
	return outcome
}

// newResult assembles a result and claims both entries.
func newResult(ci *CandidateIndex, lender, borrower *Candidate, t models.MatchType, score float64, audit models.AuditInfo) *models.MatchResult {
	ci.Claim(lender, borrower)
	return &models.MatchResult{
		LenderUID:      lender.Entry.UID,
		BorrowerUID:    borrower.Entry.UID,
		Type:           t,
		Method:         t.Method(),
		Score:          score,
		LenderAmount:   lender.Entry.Debit,
		BorrowerAmount: borrower.Entry.Credit,
		Audit:          audit,
	}
}

// compareBorrowers orders two candidates for the same lender by the
// configured tie-break criteria. It returns a negative number when a wins.
func (mc *MatchingConfig) compareBorrowers(lender, a, b *Candidate) int {
	amount := lender.Entry.Debit
	for _, tb := range mc.effectiveTieBreaks() {
		var c int
		switch tb {
		case TieBreakAmount:
			c = diff(amount, a.Entry.Credit).Cmp(diff(amount, b.Entry.Credit))
		case TieBreakDate:
			c = compareTime(a.Entry.Date, b.Entry.Date)
		case TieBreakUID:
			c = compareString(a.Entry.UID, b.Entry.UID)
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// pickBest returns the preferred borrower and whether a tie-break was needed.
func (mc *MatchingConfig) pickBest(lender *Candidate, candidates []*Candidate) (*Candidate, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	sorted := append([]*Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return mc.compareBorrowers(lender, sorted[i], sorted[j]) < 0
	})
	return sorted[0], len(sorted) > 1
}

// scoredPair is a lender/borrower pairing proposed by a scoring pass.
type scoredPair struct {
	lender   *Candidate
	borrower *Candidate
	score    float64
	build    func() (models.MatchType, models.AuditInfo)
}

// comparePairs orders proposals by score descending, then by tie-break.
func (mc *MatchingConfig) comparePairs(a, b *scoredPair) int {
	if a.score != b.score {
		if a.score > b.score {
			return -1
		}
		return 1
	}
	for _, tb := range mc.effectiveTieBreaks() {
		var c int
		switch tb {
		case TieBreakAmount:
			c = diff(a.lender.Entry.Debit, a.borrower.Entry.Credit).Cmp(diff(b.lender.Entry.Debit, b.borrower.Entry.Credit))
		case TieBreakDate:
			c = compareTime(a.borrower.Entry.Date, b.borrower.Entry.Date)
			if c == 0 {
				c = compareTime(a.lender.Entry.Date, b.lender.Entry.Date)
			}
		case TieBreakUID:
			c = compareString(a.lender.Entry.UID, b.lender.Entry.UID)
			if c == 0 {
				c = compareString(a.borrower.Entry.UID, b.borrower.Entry.UID)
			}
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// assignGreedy takes proposals best-first, skipping any whose entries are
// already claimed. Each lender is counted once towards Ambiguous when
// another proposal for it had the same score.
func assignGreedy(ci *CandidateIndex, proposals []*scoredPair, stats *PassStats) []*models.MatchResult {
	sort.SliceStable(proposals, func(i, j int) bool {
		return ci.config.comparePairs(proposals[i], proposals[j]) < 0
	})

	bestScore := make(map[string]float64)
	tied := make(map[string]int)
	for _, p := range proposals {
		uid := p.lender.Entry.UID
		if s, ok := bestScore[uid]; !ok || p.score > s {
			bestScore[uid] = p.score
			tied[uid] = 1
		} else if p.score == s {
			tied[uid]++
		}
	}

	var results []*models.MatchResult
	for _, p := range proposals {
		if !ci.Open(p.lender.Entry.UID) || !ci.Open(p.borrower.Entry.UID) {
			continue
		}
		t, audit := p.build()
		results = append(results, newResult(ci, p.lender, p.borrower, t, p.score, audit))
		if tied[p.lender.Entry.UID] > 1 {
			stats.Ambiguous++
		}
	}
	return results
}

// contradicts reports whether the two entries carry keyed references (PO,
// LC, loan id, final settlement) of the same kind with different values.
// Interunit account numbers differ between the two ledgers as a rule, so
// they are never taken as conflicting evidence.
func contradicts(a, b *Candidate) bool {
	for _, ra := range a.Refs {
		if !ra.Deterministic() || ra.Kind.Method() != models.MethodReference {
			continue
		}
		for _, rb := range b.Refs {
			if rb.Kind == ra.Kind && rb.Value != ra.Value {
				return true
			}
		}
	}
	return false
}

func diff(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String returns a one-line summary of the outcome
func (o *MatchOutcome) String() string {
	return fmt.Sprintf("MatchOutcome{matches: %d, confirmed: %d, lenders: %d, borrowers: %d}",
		len(o.Results), o.Confirmed(), o.Index.Lenders, o.Index.Borrowers)
}
