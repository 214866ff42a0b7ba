package reconciler

import (
	"context"
	"sort"
	"sync"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"
)

// ScopeOutcome is the result of one scope inside a batch.
type ScopeOutcome struct {
	Scope  models.Scope `json:"scope"`
	Result *RunResult   `json:"result,omitempty"`
	Err    error        `json:"-"`
	Error  string       `json:"error,omitempty"`
}

// BatchResult summarises RunAllScopes.
type BatchResult struct {
	Scopes       []ScopeOutcome           `json:"scopes"`
	MatchesFound int                      `json:"matches_found"`
	Failed       int                      `json:"failed"`
	ByType       map[models.MatchType]int `json:"by_type"`
	Duration     time.Duration            `json:"duration"`
}

// BatchProgress is reported after every finished scope.
type BatchProgress struct {
	Total        int          `json:"total"`
	Completed    int          `json:"completed"`
	MatchesFound int          `json:"matches_found"`
	LastScope    models.Scope `json:"last_scope"`
}

// ProgressCallback is called as scopes finish. Calls are serialised.
type ProgressCallback func(BatchProgress)

// ScopesToRun lists the scopes that still hold unmatched entries.
func (rs *ReconciliationService) ScopesToRun(ctx context.Context) ([]models.Scope, error) {
	pairs, err := rs.CompanyPairs(ctx, store.PairFilter{Unreconciled: true})
	if err != nil {
		return nil, err
	}
	scopes := make([]models.Scope, 0, len(pairs))
	for _, pp := range pairs {
		scopes = append(scopes, pp.Scope())
	}
	return scopes, nil
}

// RunAllScopes runs every scope with unmatched entries. Scopes are
// independent and run in parallel up to MaxConcurrentScopes. A failing scope
// does not stop the others; the returned error summarises the failures.
func (rs *ReconciliationService) RunAllScopes(ctx context.Context, callbacks ...ProgressCallback) (*BatchResult, error) {
	scopes, err := rs.ScopesToRun(ctx)
	if err != nil {
		return nil, err
	}
	return rs.RunScopes(ctx, scopes, callbacks...)
}

// RunScopes runs the given scopes in parallel.
func (rs *ReconciliationService) RunScopes(ctx context.Context, scopes []models.Scope, callbacks ...ProgressCallback) (*BatchResult, error) {
	start := time.Now()
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "run_all_scopes",
		Total:       int64(len(scopes)),
		LogInterval: rs.config.ProgressInterval,
		Logger:      rs.logger,
	})

	outcomes := make([]ScopeOutcome, len(scopes))
	jobs := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	progress := BatchProgress{Total: len(scopes)}

	workers := rs.config.MaxConcurrentScopes
	if workers > len(scopes) {
		workers = len(scopes)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := rs.RunScope(ctx, scopes[i])
				outcomes[i] = ScopeOutcome{Scope: scopes[i], Result: result, Err: err}
				if err != nil {
					outcomes[i].Error = err.Error()
				}

				matches := 0
				if result != nil {
					matches = result.MatchesFound
				}
				tracker.ScopeDone(matches, err)

				mu.Lock()
				progress.Completed++
				progress.MatchesFound += matches
				progress.LastScope = scopes[i]
				for _, cb := range callbacks {
					cb(progress)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range scopes {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	tracker.Complete()

	batch := &BatchResult{ByType: make(map[models.MatchType]int)}
	var failures []*errors.ReconcilerError
	for i, o := range outcomes {
		if o.Result == nil && o.Err == nil {
			// Never dispatched because the context ended.
			o = ScopeOutcome{Scope: scopes[i], Err: ctx.Err()}
			if o.Err != nil {
				o.Error = o.Err.Error()
			}
		}
		if o.Err != nil {
			batch.Failed++
			failures = append(failures, errors.WrapIfNeeded(o.Err, errors.CategoryReconciliation,
				errors.CodeProcessingError, "scope "+o.Scope.Key()+" failed"))
		}
		if o.Result != nil {
			batch.MatchesFound += o.Result.MatchesFound
			for t, n := range o.Result.ByType {
				batch.ByType[t] += n
			}
		}
		batch.Scopes = append(batch.Scopes, o)
	}
	sort.SliceStable(batch.Scopes, func(i, j int) bool {
		return batch.Scopes[i].Scope.Key() < batch.Scopes[j].Scope.Key()
	})
	batch.Duration = time.Since(start)

	if len(failures) > 0 {
		return batch, errors.NewErrorSummary(failures)
	}
	return batch, nil
}
