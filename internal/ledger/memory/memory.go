package memory

import (
	"context"
	"slices"
	"sync"

	"finledger/internal/core"
	"finledger/internal/ledger"
)

type dedupKey struct {
	hash string
	user string
}

// Store keeps the ledger in process memory. Reads copy records out so
// callers never share a slice with the store.
type Store struct {
	mu    sync.RWMutex
	items []core.TransactionRecord
	byKey map[dedupKey]int
}

func New() *Store {
	return &Store{byKey: make(map[dedupKey]int)}
}

// Seed appends records as-is, keeping their ids. Useful for tests and
// demo data.
func (s *Store) Seed(recs ...core.TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.byKey[dedupKey{r.SourceHash, r.SubmittedBy}] = len(s.items)
		s.items = append(s.items, clone(r))
	}
}

// Append stores the record under the next id.
func (s *Store) Append(ctx context.Context, rec core.TransactionRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey{rec.SourceHash, rec.SubmittedBy}
	if _, ok := s.byKey[key]; ok {
		return 0, ledger.ErrDuplicateKey
	}
	var next int64 = 1
	if n := len(s.items); n > 0 {
		next = s.items[n-1].ID + 1
	}
	rec = clone(rec)
	rec.ID = next
	s.byKey[key] = len(s.items)
	s.items = append(s.items, rec)
	return next, nil
}

func (s *Store) ReadRange(ctx context.Context, r core.DateRange) ([]core.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.TransactionRecord, 0)
	for _, rec := range s.items {
		if r.Contains(rec.Date) {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *Store) LookupByDedupKey(ctx context.Context, sourceHash, submittedBy string) (core.TransactionRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.TransactionRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[dedupKey{sourceHash, submittedBy}]
	if !ok {
		return core.TransactionRecord{}, false, nil
	}
	return clone(s.items[idx]), true, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func clone(r core.TransactionRecord) core.TransactionRecord {
	r.Flags = slices.Clone(r.Flags)
	return r
}
