// Package ledgertest holds the behaviour every ledger.Store backend must
// share, runnable from each backend's tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"finledger/internal/core"
	"finledger/internal/ledger"
)

// Record returns a valid record for the given day of June 2025.
func Record(hash, user string, day int, minor int64) core.TransactionRecord {
	return core.TransactionRecord{
		SourceHash:    hash,
		Date:          core.NewDate(2025, 6, day),
		Merchant:      "Corner Café",
		Amount:        core.Money{Minor: minor, Currency: "EUR"},
		Category:      "Food",
		RawExtraction: `{"total":"` + fmt.Sprint(minor) + `"}`,
		IngestedAt:    time.Date(2025, 6, day, 10, 0, 0, 0, time.UTC),
		SubmittedBy:   user,
	}
}

// RunStoreContract exercises append, lookup and range reads against a
// fresh store returned by newStore.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("ids start at one and increase", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 3; i++ {
			id, err := s.Append(ctx, Record(fmt.Sprintf("h%d", i), "alice", i, int64(i*100)))
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if id != int64(i) {
				t.Errorf("Append() id = %d, want %d", id, i)
			}
		}
	})

	t.Run("lookup by dedup key", func(t *testing.T) {
		s := newStore(t)
		rec := Record("h1", "alice", 5, 1250)
		rec.Flags = []core.Flag{core.FlagRefund}
		rec.Amount.Minor = -1250
		id, err := s.Append(ctx, rec)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}

		got, ok, err := s.LookupByDedupKey(ctx, "h1", "alice")
		if err != nil || !ok {
			t.Fatalf("LookupByDedupKey() = %v, %v, want found", ok, err)
		}
		if got.ID != id || got.Amount != rec.Amount || got.Merchant != rec.Merchant || got.Date != rec.Date {
			t.Errorf("LookupByDedupKey() = %+v, want %+v with id %d", got, rec, id)
		}
		if !got.HasFlag(core.FlagRefund) {
			t.Errorf("Flags = %v, want refund", got.Flags)
		}
		if !got.IngestedAt.Equal(rec.IngestedAt) {
			t.Errorf("IngestedAt = %v, want %v", got.IngestedAt, rec.IngestedAt)
		}

		if _, ok, _ := s.LookupByDedupKey(ctx, "h1", "bob"); ok {
			t.Error("same hash from another user must not match")
		}
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Append(ctx, Record("h1", "alice", 1, 100)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		_, err := s.Append(ctx, Record("h1", "alice", 2, 200))
		if !errors.Is(err, ledger.ErrDuplicateKey) {
			t.Errorf("Append() error = %v, want ErrDuplicateKey", err)
		}
		if _, err := s.Append(ctx, Record("h1", "bob", 2, 200)); err != nil {
			t.Errorf("Append() for another user error = %v", err)
		}
	})

	t.Run("read range is inclusive and ordered by id", func(t *testing.T) {
		s := newStore(t)
		days := []int{10, 1, 30, 15, 16}
		for i, d := range days {
			if _, err := s.Append(ctx, Record(fmt.Sprintf("h%d", i), "alice", d, 100)); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}
		got, err := s.ReadRange(ctx, core.DateRange{Start: core.NewDate(2025, 6, 10), End: core.NewDate(2025, 6, 15)})
		if err != nil {
			t.Fatalf("ReadRange() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ReadRange() len = %d, want 2", len(got))
		}
		if got[0].ID != 1 || got[1].ID != 4 {
			t.Errorf("ReadRange() ids = %d,%d, want 1,4", got[0].ID, got[1].ID)
		}
	})

	t.Run("empty range", func(t *testing.T) {
		s := newStore(t)
		got, err := s.ReadRange(ctx, core.DateRange{Start: core.NewDate(2030, 1, 1), End: core.NewDate(2030, 1, 31)})
		if err != nil {
			t.Fatalf("ReadRange() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("ReadRange() len = %d, want 0", len(got))
		}
	})

	t.Run("concurrent appends get distinct ids", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		ids := make([]int64, n)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := s.Append(ctx, Record(fmt.Sprintf("c%d", i), "alice", 1+i%28, 100))
				mu.Lock()
				defer mu.Unlock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				ids[i] = id
			}()
		}
		wg.Wait()
		if firstErr != nil {
			t.Fatalf("Append() error = %v", firstErr)
		}
		seen := map[int64]bool{}
		for _, id := range ids {
			if id < 1 || id > n || seen[id] {
				t.Fatalf("ids = %v, want a permutation of 1..%d", ids, n)
			}
			seen[id] = true
		}
	})
}
