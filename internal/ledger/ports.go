// Package ledger defines the storage boundary the reconciler and the
// analysis engine depend on.
package ledger

import (
	"context"
	"errors"

	"finledger/internal/core"
)

// ErrDuplicateKey is returned by Append when a record with the same
// (source hash, submitter) pair is already stored. The reconciler looks the
// key up first, so seeing it means another process wrote concurrently.
var ErrDuplicateKey = errors.New("duplicate dedup key")

// Ports for outbound adapters.
type (
	// Appender persists one record. The record's ID is ignored; the store
	// assigns the next id and returns it.
	Appender interface {
		Append(ctx context.Context, rec core.TransactionRecord) (int64, error)
	}

	// RangeReader returns a consistent snapshot of every record whose date
	// lies in the range, ordered by id.
	RangeReader interface {
		ReadRange(ctx context.Context, r core.DateRange) ([]core.TransactionRecord, error)
	}

	// DedupLookup finds the record stored for a dedup key.
	DedupLookup interface {
		LookupByDedupKey(ctx context.Context, sourceHash, submittedBy string) (core.TransactionRecord, bool, error)
	}

	Store interface {
		Appender
		RangeReader
		DedupLookup
	}
)
