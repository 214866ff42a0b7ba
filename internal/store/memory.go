package store

import (
	"context"
	"sort"
	"sync"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"
)

// MemoryStore keeps entries in a map. Readers get clones; Update stages
// changes in an overlay and swaps them in only on success.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.LedgerEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.LedgerEntry)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return 0, errors.ValidationError(errors.CodeInvalidData, "entry", e.UID, err)
		}
		if _, exists := s.entries[e.UID]; exists || seen[e.UID] {
			return 0, errors.ValidationError(errors.CodeDuplicateUID, "uid", e.UID, nil)
		}
		seen[e.UID] = true
	}
	for _, e := range entries {
		s.entries[e.UID] = e.Clone()
	}
	return len(entries), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, uid string) (*models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[uid]
	if !ok {
		return nil, errors.EntryNotFound(uid)
	}
	return e.Clone(), nil
}

// FetchUnmatched implements Store.
func (s *MemoryStore) FetchUnmatched(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error) {
	return s.List(ctx, ScopeFilter(scope, models.StatusUnmatched))
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()

	sortEntries(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{base: s.entries, staged: make(map[string]*models.LedgerEntry)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	before := func(uid string) *models.LedgerEntry { return s.entries[uid] }
	if err := checkSymmetry(tx.order, before, tx.lookup); err != nil {
		return err
	}
	for uid, e := range tx.staged {
		s.entries[uid] = e
	}
	return nil
}

// ResetScope implements Store.
func (s *MemoryStore) ResetScope(ctx context.Context, scope models.Scope) (int, error) {
	return s.reset(ctx, ScopeFilter(scope, models.StatusMatched, models.StatusConfirmed))
}

// ResetAll implements Store.
func (s *MemoryStore) ResetAll(ctx context.Context) (int, error) {
	return s.reset(ctx, Filter{Statuses: []models.MatchStatus{models.StatusMatched, models.StatusConfirmed}})
}

// reset releases the selected entries together with their counterparts so
// a pairing that straddles the filter is never left half open.
func (s *MemoryStore) reset(ctx context.Context, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	release := make(map[string]bool)
	for uid, e := range s.entries {
		if filter.Matches(e) {
			release[uid] = true
			if e.MatchedWith != "" {
				release[e.MatchedWith] = true
			}
		}
	}
	n := 0
	for uid := range release {
		e, ok := s.entries[uid]
		if !ok {
			continue
		}
		c := e.Clone()
		c.ClearMatch()
		c.ReviewedBy, c.ReviewedAt = "", nil
		s.entries[uid] = c
		n++
	}
	return n, nil
}

// Truncate implements Store.
func (s *MemoryStore) Truncate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = make(map[string]*models.LedgerEntry)
	s.mu.Unlock()
	return nil
}

// CompanyPairs implements Store.
func (s *MemoryStore) CompanyPairs(ctx context.Context, filter PairFilter) ([]models.PairPeriod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	counts := make([]pairCount, 0, len(s.entries))
	for _, e := range s.entries {
		counts = append(counts, pairCount{Lender: e.Lender, Borrower: e.Borrower, Period: e.Period, Status: e.MatchStatus, N: 1})
	}
	s.mu.RUnlock()
	return summarizePairs(counts, filter), nil
}

// PairIDs implements Store.
func (s *MemoryStore) PairIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	seen := make(map[string]bool)
	for _, e := range s.entries {
		if e.PairID != "" {
			seen[e.PairID] = true
		}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// memoryTx stages clones; the base map is never written until commit.
type memoryTx struct {
	base   map[string]*models.LedgerEntry
	staged map[string]*models.LedgerEntry
	order  []string
}

func (tx *memoryTx) lookup(uid string) *models.LedgerEntry {
	if e, ok := tx.staged[uid]; ok {
		return e
	}
	return tx.base[uid]
}

func (tx *memoryTx) Get(ctx context.Context, uid string) (*models.LedgerEntry, error) {
	e := tx.lookup(uid)
	if e == nil {
		return nil, errors.EntryNotFound(uid)
	}
	return e.Clone(), nil
}

func (tx *memoryTx) Save(ctx context.Context, entry *models.LedgerEntry) error {
	current := tx.lookup(entry.UID)
	if current == nil {
		return errors.EntryNotFound(entry.UID)
	}
	updated := current.Clone()
	copyMatchFields(updated, entry)
	if err := updated.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "entry", entry.UID, err)
	}
	if _, staged := tx.staged[entry.UID]; !staged {
		tx.order = append(tx.order, entry.UID)
	}
	tx.staged[entry.UID] = updated
	return nil
}
