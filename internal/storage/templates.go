package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// CreateTemplate persists a validated recurring template and returns its id.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, rt core.RecurringTemplate) (int64, error) {
	if err := rt.Validate(); err != nil {
		return 0, err
	}

	var dayOfMonth sql.NullInt64
	if rt.Frequency == core.Monthly {
		dayOfMonth = sql.NullInt64{Int64: int64(rt.DayOfMonth), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_templates
			(description, amount_cents, direction, category_id, start_date, frequency, day_of_month, next_run, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.Description, rt.Amount.Cents, string(rt.Direction), rt.Category.ID,
		rt.StartDate.ISO(), string(rt.Frequency), dayOfMonth, rt.NextRun.ISO(),
		boolToInt(rt.Active))
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("template insert id: %w", err)
	}

	slog.InfoContext(ctx, "Recurring template created",
		"id", id,
		"description", rt.Description,
		"frequency", rt.Frequency,
		"next_run", rt.NextRun.ISO())

	return id, nil
}

const templateColumns = `
	rt.id, rt.description, rt.amount_cents, rt.direction,
	rt.category_id, c.name, rt.start_date, rt.frequency, rt.day_of_month,
	rt.next_run, rt.active`

func scanTemplate(scan func(dest ...any) error) (core.RecurringTemplate, error) {
	var (
		rt                 core.RecurringTemplate
		direction, freq    string
		startDate, nextRun string
		dayOfMonth         sql.NullInt64
		active             int
	)
	err := scan(&rt.ID, &rt.Description, &rt.Amount.Cents, &direction,
		&rt.Category.ID, &rt.Category.Name, &startDate, &freq, &dayOfMonth,
		&nextRun, &active)
	if err != nil {
		return core.RecurringTemplate{}, err
	}

	rt.Direction = core.Direction(direction)
	rt.Frequency = core.Frequency(freq)
	if dayOfMonth.Valid {
		rt.DayOfMonth = int(dayOfMonth.Int64)
	}
	rt.Active = active != 0

	if rt.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse start date: %w", err)
	}
	if rt.NextRun, err = core.ParseDate(nextRun); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse next run: %w", err)
	}
	return rt, nil
}

// GetTemplate returns a single template by id.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, id int64) (core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates rt JOIN categories c ON c.id = rt.category_id
		WHERE rt.id = ?`, id)

	rt, err := scanTemplate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTemplate{}, ErrNotFound
	}
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return rt, nil
}

// ListTemplates returns all templates: active first, then next-run date
// ascending, ties broken by id (creation order).
func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates rt JOIN categories c ON c.id = rt.category_id
		ORDER BY rt.active DESC, rt.next_run, rt.id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// DueTemplates returns active templates with next_run <= asOf, ordered by
// next-run date ascending then id ascending for deterministic processing.
func (r *SQLiteRepository) DueTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates rt JOIN categories c ON c.id = rt.category_id
		WHERE rt.active = 1 AND rt.next_run <= ?
		ORDER BY rt.next_run, rt.id`, asOf.ISO())
	if err != nil {
		return nil, fmt.Errorf("due templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func collectTemplates(rows *sql.Rows) ([]core.RecurringTemplate, error) {
	var out []core.RecurringTemplate
	for rows.Next() {
		rt, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// DeactivateTemplate soft-deletes a template. Missing ids are a silent
// no-op; templates are never hard-deleted so history stays auditable.
func (r *SQLiteRepository) DeactivateTemplate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_templates SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		slog.DebugContext(ctx, "Deactivate of unknown template ignored", "id", id)
	}
	return nil
}

// MaterializeOccurrence inserts one ledger transaction for a due template
// and advances its next-run date, atomically: a failure leaves neither the
// transaction nor a partially-advanced template behind.
func (r *SQLiteRepository) MaterializeOccurrence(ctx context.Context, templateID int64, t core.Transaction, nextRun core.Date) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin materialize: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (description, amount_cents, direction, category_id, year, month, day)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Description, t.Amount.Cents, string(t.Direction), t.Category.ID,
		t.Date.Year(), t.Date.Month(), t.Date.Day())
	if err != nil {
		return 0, fmt.Errorf("insert materialized transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("materialized transaction id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recurring_templates SET next_run = ? WHERE id = ?`,
		nextRun.ISO(), templateID); err != nil {
		return 0, fmt.Errorf("advance next run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit materialize: %w", err)
	}

	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
