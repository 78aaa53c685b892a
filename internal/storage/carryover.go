package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tally/internal/core"
)

// CarryOverRunExists reports whether carry-over was already applied for the
// source month.
func (r *SQLiteRepository) CarryOverRunExists(ctx context.Context, year, month int) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM carryover_runs WHERE from_year = ? AND from_month = ?`,
		year, month).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check carry-over run: %w", err)
	}
	return true, nil
}

// GetCarryOverRun returns the recorded run for a source month.
func (r *SQLiteRepository) GetCarryOverRun(ctx context.Context, year, month int) (core.CarryOverRun, error) {
	var run core.CarryOverRun
	err := r.db.QueryRowContext(ctx, `
		SELECT from_year, from_month, total_cents, applied_at
		FROM carryover_runs WHERE from_year = ? AND from_month = ?`,
		year, month).Scan(&run.FromYear, &run.FromMonth, &run.Total.Cents, &run.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CarryOverRun{}, ErrNotFound
	}
	if err != nil {
		return core.CarryOverRun{}, fmt.Errorf("get carry-over run: %w", err)
	}
	return run, nil
}

// ApplyCarryOver writes the savings transaction and the run record in one
// SQL transaction, so a failure cannot leave a "ghost" applied state: either
// both rows exist afterwards or neither does, and a retry is safe.
//
// The unique index on carryover_runs(from_year, from_month) makes a
// concurrent second apply fail with ErrCarryOverAlreadyApplied instead of
// silently doubling the savings entry.
func (r *SQLiteRepository) ApplyCarryOver(ctx context.Context, run core.CarryOverRun, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin carry-over: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (description, amount_cents, direction, category_id, year, month, day)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Description, t.Amount.Cents, string(t.Direction), t.Category.ID,
		t.Date.Year(), t.Date.Month(), t.Date.Day())
	if err != nil {
		return 0, fmt.Errorf("insert savings transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("savings transaction id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carryover_runs (from_year, from_month, total_cents, applied_at)
		VALUES (?, ?, ?, ?)`,
		run.FromYear, run.FromMonth, run.Total.Cents, run.AppliedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrCarryOverAlreadyApplied
		}
		return 0, fmt.Errorf("record carry-over run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit carry-over: %w", err)
	}

	slog.InfoContext(ctx, "Carry-over applied",
		"from_year", run.FromYear,
		"from_month", run.FromMonth,
		"total_cents", run.Total.Cents,
		"transaction_id", id)

	return id, nil
}

// isUniqueViolation detects SQLite unique-constraint failures. The modernc
// driver surfaces them as plain errors, so we match on the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
