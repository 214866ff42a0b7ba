// Package reconciler runs matching over the ledger store and applies review
// decisions.
//
// A run covers one scope (company pair and statement period). It takes the
// scope lock, reads the unmatched entries, runs the matching passes and
// persists every proposed pairing in one store transaction, so a failed run
// leaves nothing behind. Accept and reject move both sides of a pairing
// together.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(st, matcher.DefaultMatchingConfig(), nil,
//		reconciler.WithLocker(scopelock.NewLocalLocker()))
//	result, err := service.RunMatching(ctx, "ACME", "BETA", "March", 2024)
//	err = service.AcceptMatch(ctx, "U3", "Auditor1")
package reconciler

import (
	"context"
	"fmt"
	"time"

	"interunit-loan-recon/internal/matcher"
	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/scopelock"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/google/uuid"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	// MaxConcurrentScopes bounds RunAllScopes.
	MaxConcurrentScopes int `json:"max_concurrent_scopes" mapstructure:"max_concurrent_scopes"`

	// DetectDuplicates logs suspected double postings found before a run.
	DetectDuplicates bool `json:"detect_duplicates" mapstructure:"detect_duplicates"`

	// ProgressInterval is how often RunAllScopes logs progress.
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentScopes: 4,
		DetectDuplicates:    true,
		ProgressInterval:    5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrentScopes <= 0 {
		return fmt.Errorf("max concurrent scopes must be positive, got %d", c.MaxConcurrentScopes)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Metrics receives run and review outcomes.
type Metrics interface {
	ObserveRun(scope models.Scope, result *RunResult, err error)
	ObserveReview(action string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(models.Scope, *RunResult, error) {}
func (nopMetrics) ObserveReview(string, error)                {}

// ReconciliationService owns matching runs and review decisions.
type ReconciliationService struct {
	store   store.Store
	locker  scopelock.Locker
	engine  *matcher.Engine
	config  *Config
	metrics Metrics
	logger  logger.Logger
	now     func() time.Time
}

// Option customises a ReconciliationService.
type Option func(*ReconciliationService)

// WithLocker sets the scope locker. The default is an in-process locker.
func WithLocker(l scopelock.Locker) Option {
	return func(rs *ReconciliationService) { rs.locker = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(rs *ReconciliationService) { rs.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(rs *ReconciliationService) { rs.logger = l }
}

// WithClock overrides the time source used for match and review stamps.
func WithClock(now func() time.Time) Option {
	return func(rs *ReconciliationService) { rs.now = now }
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	st store.Store,
	matchingConfig *matcher.MatchingConfig,
	config *Config,
	opts ...Option,
) (*ReconciliationService, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("Provide a ledger store")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconcile", config, err)
	}
	if matchingConfig == nil {
		matchingConfig = matcher.DefaultMatchingConfig()
	}
	if err := matchingConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", matchingConfig.String(), err)
	}

	rs := &ReconciliationService{
		store:   st,
		config:  config.Clone(),
		metrics: nopMetrics{},
		logger:  logger.GetGlobalLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rs)
	}
	if rs.locker == nil {
		rs.locker = scopelock.NewLocalLocker()
	}
	rs.logger = rs.logger.WithComponent("reconciler")
	rs.engine = matcher.NewEngine(matchingConfig, rs.logger)
	return rs, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config.Clone()
}

// GetMatchingConfig returns the matching configuration in use.
func (rs *ReconciliationService) GetMatchingConfig() *matcher.MatchingConfig {
	return rs.engine.Config()
}

// RunResult summarises one matching run.
type RunResult struct {
	RunID        string                   `json:"run_id"`
	Scope        models.Scope             `json:"scope"`
	PairID       string                   `json:"pair_id,omitempty"`
	Considered   int                      `json:"considered"`
	MatchesFound int                      `json:"matches_found"`
	Confirmed    int                      `json:"confirmed"`
	Pending      int                      `json:"pending"`
	ByType       map[models.MatchType]int `json:"by_type"`
	ByPass       map[models.Pass]int      `json:"by_pass"`
	Passes       []matcher.PassStats      `json:"passes"`
	Duplicates   []matcher.DuplicateGroup `json:"duplicates,omitempty"`
	Results      []*models.MatchResult    `json:"results,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	Duration     time.Duration            `json:"duration"`
}

// RunMatching matches the unmatched entries of one company pair and period.
// Month accepts a name, an abbreviation or a number.
func (rs *ReconciliationService) RunMatching(ctx context.Context, lender, borrower, month string, year int) (*RunResult, error) {
	scope, err := models.NewScope(lender, borrower, month, year)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidData, "scope", fmt.Sprintf("%s/%s %s %d", lender, borrower, month, year), err)
	}
	return rs.RunScope(ctx, scope)
}

// RunScope is RunMatching for an already built scope.
func (rs *ReconciliationService) RunScope(ctx context.Context, scope models.Scope) (*RunResult, error) {
	result, err := rs.runScope(ctx, scope, "")
	rs.observe(ctx, scope, result, err)
	return result, err
}

// RunPair matches the unmatched entries of one upload pair. The entries of
// the pair must lie in a single scope; the run holds that scope's lock.
func (rs *ReconciliationService) RunPair(ctx context.Context, pairID string) (*RunResult, error) {
	scope, err := rs.PairScope(ctx, pairID)
	if err != nil {
		return nil, err
	}
	result, err := rs.runScope(ctx, scope, pairID)
	rs.observe(ctx, scope, result, err)
	return result, err
}

// PairScope returns the scope the entries of an upload pair belong to.
func (rs *ReconciliationService) PairScope(ctx context.Context, pairID string) (models.Scope, error) {
	if pairID == "" {
		return models.Scope{}, errors.ValidationError(errors.CodeMissingField, "pair_id", pairID, nil)
	}
	entries, err := rs.list(ctx, "pair entries", store.Filter{PairID: pairID})
	if err != nil {
		return models.Scope{}, err
	}
	if len(entries) == 0 {
		return models.Scope{}, errors.PairNotFound(pairID)
	}

	scope := entryScope(entries[0])
	for _, e := range entries[1:] {
		if other := entryScope(e); other.Key() != scope.Key() {
			return models.Scope{}, errors.ValidationError(errors.CodeInvalidData, "pair_id", pairID,
				fmt.Errorf("entries span scopes %s and %s", scope.Key(), other.Key()))
		}
	}
	return scope, nil
}

func entryScope(e *models.LedgerEntry) models.Scope {
	pair := models.CompanyPair{Lender: e.Lender, Borrower: e.Borrower}.Canonical()
	return models.Scope{Pair: pair, Period: e.Period}
}

func (rs *ReconciliationService) observe(ctx context.Context, scope models.Scope, result *RunResult, err error) {
	rs.metrics.ObserveRun(scope, result, err)
	if session := SessionFrom(ctx); session != nil {
		session.record(scope, result, err)
	}
}

// runScope matches one scope. A non-empty pairID narrows the candidates to
// the entries of that upload pair.
func (rs *ReconciliationService) runScope(ctx context.Context, scope models.Scope, pairID string) (*RunResult, error) {
	log := rs.logger.WithScope(scope.Key())
	if pairID != "" {
		log = log.WithField("pair_id", pairID)
	}
	started := rs.now()

	release, err := rs.locker.Acquire(ctx, scope.Key())
	if err != nil {
		log.WithError(err).Warn("Scope is locked by another run")
		return nil, err
	}
	defer release()

	var entries []*models.LedgerEntry
	if pairID == "" {
		entries, err = rs.store.FetchUnmatched(ctx, scope)
	} else {
		entries, err = rs.store.List(ctx, store.Filter{PairID: pairID, Statuses: []models.MatchStatus{models.StatusUnmatched}})
	}
	if err != nil {
		log.WithError(err).Error("Failed to read unmatched entries")
		return nil, wrapStorage("fetch unmatched", err)
	}

	result := &RunResult{
		RunID:      uuid.NewString(),
		Scope:      scope,
		PairID:     pairID,
		Considered: len(entries),
		ByType:     make(map[models.MatchType]int),
		ByPass:     make(map[models.Pass]int),
		StartedAt:  started,
	}

	if rs.config.DetectDuplicates {
		if dups := matcher.DetectDuplicates(entries); len(dups.Groups) > 0 {
			result.Duplicates = dups.Groups
			for _, g := range dups.Groups {
				log.WithFields(logger.Fields{
					"group_id":   g.GroupID,
					"entries":    len(g.Entries),
					"confidence": g.Confidence,
				}).Warn("Possible duplicate postings")
			}
		}
	}

	outcome := rs.engine.Match(entries)
	if err := rs.persist(ctx, outcome.Results, started); err != nil {
		log.WithError(err).Error("Failed to persist matches, nothing committed")
		return nil, err
	}

	result.Results = outcome.Results
	result.Passes = outcome.Passes
	result.MatchesFound = outcome.MatchesFound()
	result.Confirmed = outcome.Confirmed()
	result.Pending = result.MatchesFound - result.Confirmed
	for _, r := range outcome.Results {
		result.ByType[r.Type]++
		result.ByPass[r.Pass]++
	}
	result.Duration = rs.now().Sub(started)

	log.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"considered": result.Considered,
		"matches":    result.MatchesFound,
		"confirmed":  result.Confirmed,
		"pending":    result.Pending,
	}).Info("Matching run completed")
	return result, nil
}

// persist writes every result in one transaction. Auto-accepted kinds go
// straight to confirmed.
func (rs *ReconciliationService) persist(ctx context.Context, results []*models.MatchResult, at time.Time) error {
	if len(results) == 0 {
		return nil
	}
	return rs.store.Update(ctx, func(tx store.Tx) error {
		for _, r := range results {
			sides := [2][2]string{{r.LenderUID, r.BorrowerUID}, {r.BorrowerUID, r.LenderUID}}
			for _, side := range sides {
				e, err := tx.Get(ctx, side[0])
				if err != nil {
					return err
				}
				if e.MatchStatus != models.StatusUnmatched {
					return errors.ReconciliationError(errors.CodeDataInconsistent, "persist",
						fmt.Errorf("entry %s changed to %s during the run", e.UID, e.MatchStatus))
				}
				stamp := at
				e.MatchStatus = r.Status()
				e.MatchedWith = side[1]
				e.MatchType = r.Type
				e.MatchMethod = r.Method
				e.Audit = r.Audit
				e.DateMatched = &stamp
				e.ReviewedBy, e.ReviewedAt = "", nil
				if err := tx.Save(ctx, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// wrapStorage keeps reconciler errors as they are and wraps anything else
// as a storage failure.
func wrapStorage(operation string, err error) error {
	if errors.IsReconcilerError(err) {
		return err
	}
	return errors.StorageError(errors.CodeStorageFailure, operation, err)
}
