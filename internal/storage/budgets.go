package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
)

// BudgetChange is one entry of the budget change-history log.
type BudgetChange struct {
	CategoryID int64
	Year       int
	Month      int
	OldAmount  *core.Money
	NewAmount  core.Money
	ChangedAt  time.Time
}

// SetMonthlyBudget upserts the budget amount for (category, year, month)
// and appends a history row recording the change.
func (r *SQLiteRepository) SetMonthlyBudget(ctx context.Context, categoryID int64, year, month int, amount core.Money) error {
	if !core.ValidMonth(year, month) {
		return core.ErrInvalidMonth
	}
	if amount.Cents < 0 {
		return core.ErrInvalidAmount
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set budget: %w", err)
	}
	defer tx.Rollback()

	var old sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT amount_cents FROM monthly_budgets
		WHERE category_id = ? AND year = ? AND month = ?`,
		categoryID, year, month).Scan(&old.Int64)
	switch {
	case err == nil:
		old.Valid = true
	case errors.Is(err, sql.ErrNoRows):
		// first budget for this key
	default:
		return fmt.Errorf("read current budget: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO monthly_budgets (category_id, year, month, amount_cents)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (category_id, year, month) DO UPDATE SET amount_cents = excluded.amount_cents`,
		categoryID, year, month, amount.Cents); err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_history (category_id, year, month, old_amount_cents, new_amount_cents)
		VALUES (?, ?, ?, ?, ?)`,
		categoryID, year, month, old, amount.Cents); err != nil {
		return fmt.Errorf("append budget history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set budget: %w", err)
	}

	slog.InfoContext(ctx, "Monthly budget set",
		"category_id", categoryID,
		"year", year,
		"month", month,
		"amount_cents", amount.Cents)

	return nil
}

// MonthlyBudgetAmount looks up the budget for (category, year, month).
// The boolean is false when no budget row exists; absence is not zero.
func (r *SQLiteRepository) MonthlyBudgetAmount(ctx context.Context, categoryID int64, year, month int) (core.Money, bool, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT amount_cents FROM monthly_budgets
		WHERE category_id = ? AND year = ? AND month = ?`,
		categoryID, year, month).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, false, nil
	}
	if err != nil {
		return core.Money{}, false, fmt.Errorf("get budget: %w", err)
	}
	return core.Money{Cents: cents}, true, nil
}

// ListBudgets returns all budgets of a month ordered by category name.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, year, month int) ([]core.MonthlyBudget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT b.category_id, b.year, b.month, b.amount_cents
		FROM monthly_budgets b JOIN categories c ON c.id = b.category_id
		WHERE b.year = ? AND b.month = ?
		ORDER BY c.name`, year, month)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyBudget
	for rows.Next() {
		var b core.MonthlyBudget
		if err := rows.Scan(&b.CategoryID, &b.Year, &b.Month, &b.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BudgetHistory returns the change log for one category, newest first.
func (r *SQLiteRepository) BudgetHistory(ctx context.Context, categoryID int64) ([]BudgetChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, year, month, old_amount_cents, new_amount_cents, changed_at
		FROM budget_history
		WHERE category_id = ?
		ORDER BY id DESC`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("budget history: %w", err)
	}
	defer rows.Close()

	var out []BudgetChange
	for rows.Next() {
		var (
			bc  BudgetChange
			old sql.NullInt64
		)
		if err := rows.Scan(&bc.CategoryID, &bc.Year, &bc.Month, &old, &bc.NewAmount.Cents, &bc.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan budget change: %w", err)
		}
		if old.Valid {
			bc.OldAmount = &core.Money{Cents: old.Int64}
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}
