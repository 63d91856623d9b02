package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"finledger/internal/core"
	"finledger/internal/ledger"
	applog "finledger/internal/log"
	"finledger/internal/retry"
)

// ReconcileStatus tells a caller whether a record was new.
type ReconcileStatus int

const (
	Appended ReconcileStatus = iota
	DuplicateSkipped
)

func (s ReconcileStatus) String() string {
	if s == DuplicateSkipped {
		return "duplicate_skipped"
	}
	return "appended"
}

// ReconcileResult carries the stored record. For DuplicateSkipped it is the
// record that was already in the ledger.
type ReconcileResult struct {
	Status ReconcileStatus
	Record core.TransactionRecord
}

// Reconciler is the single write path into the ledger. Every call runs
// lookup and append inside one critical section, so concurrent submissions
// of the same document produce exactly one record and ids follow
// reconciliation order.
type Reconciler struct {
	store  ledger.Store
	policy retry.Policy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	lastIngested time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithStoreRetry sets how transient store failures are retried.
func WithStoreRetry(p retry.Policy) ReconcilerOption {
	return func(r *Reconciler) { r.policy = p }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) ReconcilerOption {
	return func(r *Reconciler) { r.sleep = fn }
}

func NewReconciler(store ledger.Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  store,
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile stores v unless its dedup key is already present. A transient
// store failure that outlasts the retry policy is returned wrapping
// core.ErrStorageUnavailable; nothing is written in that case.
func (r *Reconciler) Reconcile(ctx context.Context, v core.ValidatedRecord) (ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing core.TransactionRecord
	var found bool
	err := r.withRetry(ctx, applog.OpLookup, func(ctx context.Context) error {
		var err error
		existing, found, err = r.store.LookupByDedupKey(ctx, v.SourceHash, v.SubmittedBy)
		return err
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("lookup dedup key: %w", err)
	}
	if found {
		slog.InfoContext(ctx, "Duplicate document skipped",
			applog.FieldComponent, applog.ComponentReconciler,
			applog.FieldRecordID, existing.ID,
			applog.FieldDocHash, v.SourceHash,
			applog.FieldSubmittedBy, v.SubmittedBy)
		return ReconcileResult{Status: DuplicateSkipped, Record: existing}, nil
	}

	rec := core.TransactionRecord{
		SourceHash:    v.SourceHash,
		Date:          v.Date,
		Merchant:      v.Merchant,
		Amount:        v.Amount,
		Category:      v.Category,
		Flags:         v.Flags,
		RawExtraction: v.RawExtraction,
		IngestedAt:    r.ingestedAt(),
		SubmittedBy:   v.SubmittedBy,
	}

	var id int64
	err = r.withRetry(ctx, applog.OpAppend, func(ctx context.Context) error {
		var err error
		id, err = r.store.Append(ctx, rec)
		return err
	})
	if errors.Is(err, ledger.ErrDuplicateKey) {
		existing, found, lerr := r.store.LookupByDedupKey(ctx, v.SourceHash, v.SubmittedBy)
		switch {
		case lerr != nil || !found:
		case existing.IngestedAt.Equal(rec.IngestedAt):
			// An earlier attempt of this append was applied but its
			// response was lost; the row is ours.
			id, err = existing.ID, nil
		default:
			// Another writer outside this process won the race.
			return ReconcileResult{Status: DuplicateSkipped, Record: existing}, nil
		}
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("append record: %w", err)
	}

	rec.ID = id
	r.lastIngested = rec.IngestedAt
	slog.InfoContext(ctx, "Transaction recorded",
		applog.FieldComponent, applog.ComponentReconciler,
		applog.FieldRecordID, id,
		applog.FieldDocHash, v.SourceHash,
		applog.FieldAmountMinor, rec.Amount.Minor,
		applog.FieldCurrency, rec.Amount.Currency,
		applog.FieldCategory, rec.Category)
	return ReconcileResult{Status: Appended, Record: rec}, nil
}

// ingestedAt clamps the clock so ingestion timestamps never go backwards,
// even if the wall clock does. Caller holds r.mu.
func (r *Reconciler) ingestedAt() time.Time {
	now := r.now().UTC()
	if now.Before(r.lastIngested) {
		return r.lastIngested
	}
	return now
}

func (r *Reconciler) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	opts := []retry.Option{
		retry.WithRetryable(func(err error) bool { return errors.Is(err, core.ErrStorageUnavailable) }),
		retry.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			slog.WarnContext(ctx, "Ledger store unavailable, retrying",
				applog.FieldComponent, applog.ComponentReconciler,
				applog.FieldOperation, op,
				applog.FieldAttempt, attempt,
				"wait", wait,
				applog.FieldError, err)
		}),
	}
	if r.sleep != nil {
		opts = append(opts, retry.WithSleep(r.sleep))
	}
	_, err := retry.Do(ctx, r.policy, fn, opts...)
	return err
}
