// Package storage is the SQLite ledger backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"finledger/internal/core"
	"finledger/internal/ledger"
	applog "finledger/internal/log"
)

const selectColumns = `id, source_hash, submitted_by, date, merchant, amount_minor, currency,
	category, flags, raw_extraction, ingested_at`

// SQLiteRepository implements ledger.Store on a single SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time keeps id assignment free of SQLITE_BUSY races.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append inserts rec under MAX(id)+1 inside one transaction.
func (r *SQLiteRepository) Append(ctx context.Context, rec core.TransactionRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin append", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM transactions`).Scan(&id); err != nil {
		return 0, classify("next id", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO transactions (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.SourceHash, rec.SubmittedBy, rec.Date.String(), rec.Merchant,
		rec.Amount.Minor, rec.Amount.Currency, rec.Category, joinFlags(rec.Flags),
		rec.RawExtraction, rec.IngestedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ledger.ErrDuplicateKey
		}
		return 0, classify("insert transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit append", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldRecordID, id,
		applog.FieldAmountMinor, rec.Amount.Minor,
		applog.FieldCurrency, rec.Amount.Currency)
	return id, nil
}

func (r *SQLiteRepository) ReadRange(ctx context.Context, dr core.DateRange) ([]core.TransactionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM transactions
		WHERE date BETWEEN ? AND ? ORDER BY id`, dr.Start.String(), dr.End.String())
	if err != nil {
		return nil, classify("read range", err)
	}
	defer rows.Close()

	out := make([]core.TransactionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate range", err)
	}
	return out, nil
}

func (r *SQLiteRepository) LookupByDedupKey(ctx context.Context, sourceHash, submittedBy string) (core.TransactionRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transactions
		WHERE source_hash = ? AND submitted_by = ?`, sourceHash, submittedBy)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionRecord{}, false, nil
	}
	if err != nil {
		return core.TransactionRecord{}, false, err
	}
	return rec, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (core.TransactionRecord, error) {
	var (
		rec        core.TransactionRecord
		date       string
		flags      string
		ingestedAt string
	)
	err := s.Scan(&rec.ID, &rec.SourceHash, &rec.SubmittedBy, &date, &rec.Merchant,
		&rec.Amount.Minor, &rec.Amount.Currency, &rec.Category, &flags,
		&rec.RawExtraction, &ingestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, classify("scan transaction", err)
	}

	if rec.Date, err = core.ParseDate(date); err != nil {
		return rec, fmt.Errorf("transaction %d: %w", rec.ID, err)
	}
	if rec.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt); err != nil {
		return rec, fmt.Errorf("transaction %d: parse ingested_at: %w", rec.ID, err)
	}
	rec.Flags = splitFlags(flags)
	return rec, nil
}

func joinFlags(flags []core.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

func splitFlags(s string) []core.Flag {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	flags := make([]core.Flag, len(parts))
	for i, p := range parts {
		flags[i] = core.Flag(p)
	}
	return flags
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// classify marks lock contention and context expiry as transient so the
// reconciler can retry.
func classify(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
