package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finledger/internal/core"
)

// LastRun returns when the report schedule for (user, period) last fired.
func (r *SQLiteRepository) LastRun(ctx context.Context, user string, period core.PeriodKind) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT last_run FROM schedule_runs
		WHERE user_id = ? AND period = ?`, user, string(period)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, classify("read schedule run", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule run %s/%s: parse last_run: %w", user, period, err)
	}
	return at, true, nil
}

// SaveRun records that the schedule for (user, period) fired at at.
func (r *SQLiteRepository) SaveRun(ctx context.Context, user string, period core.PeriodKind, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO schedule_runs (user_id, period, last_run)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, period) DO UPDATE SET last_run = excluded.last_run`,
		user, string(period), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return classify("save schedule run", err)
	}
	return nil
}
