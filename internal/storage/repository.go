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

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup expects a row that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCarryOverAlreadyApplied is returned when a carry-over run already
	// exists for the source month. The unique index on carryover_runs turns
	// a racing double-apply into this error instead of a silent duplicate.
	ErrCarryOverAlreadyApplied = errors.New("carry-over already applied for month")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ResolveCategory returns the category with the given name, creating it if
// it does not exist yet. Matching is exact after trimming whitespace.
func (r *SQLiteRepository) ResolveCategory(ctx context.Context, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.ErrEmptyCategory
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return core.Category{ID: id, Name: name}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("lookup category: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category insert id: %w", err)
	}

	slog.InfoContext(ctx, "Category created", "id", id, "name", name)
	return core.Category{ID: id, Name: name}, nil
}

// ListCategories returns all categories ordered by name.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// RenameCategory updates a category's display name. Transactions and
// templates pick up the new name on the next read since names are joined
// from the categories table.
func (r *SQLiteRepository) RenameCategory(ctx context.Context, id int64, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return core.ErrEmptyCategory
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ? WHERE id = ?`, newName, id)
	if err != nil {
		return fmt.Errorf("rename category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename category rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTransaction validates and persists a ledger transaction.
func (r *SQLiteRepository) AddTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (description, amount_cents, direction, category_id, year, month, day)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Description, t.Amount.Cents, string(t.Direction), t.Category.ID,
		t.Date.Year(), t.Date.Month(), t.Date.Day())
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction insert id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", id,
		"description", t.Description,
		"amount_cents", t.Amount.Cents,
		"direction", t.Direction,
		"date", t.Date.ISO())

	return id, nil
}

const transactionColumns = `
	t.id, t.description, t.amount_cents, t.direction,
	t.category_id, c.name, t.year, t.month, t.day`

func scanTransaction(scan func(dest ...any) error) (core.Transaction, error) {
	var (
		t                core.Transaction
		direction        string
		year, month, day int
	)
	err := scan(&t.ID, &t.Description, &t.Amount.Cents, &direction,
		&t.Category.ID, &t.Category.Name, &year, &month, &day)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Direction = core.Direction(direction)
	t.Date = core.NewDate(year, month, day)
	return t, nil
}

// GetTransaction returns a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t JOIN categories c ON c.id = t.category_id
		WHERE t.id = ?`, id)

	t, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns all transactions of the given month, newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, year, month int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t JOIN categories c ON c.id = t.category_id
		WHERE t.year = ? AND t.month = ?
		ORDER BY t.year DESC, t.month DESC, t.day DESC, t.id DESC`,
		year, month)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TotalExpensesForCategoryMonth sums expense amounts for one category-month.
func (r *SQLiteRepository) TotalExpensesForCategoryMonth(ctx context.Context, categoryID int64, year, month int) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE category_id = ? AND year = ? AND month = ? AND direction = 'expense'`,
		categoryID, year, month).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum expenses: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

// MonthOverview aggregates a month's ledger for the dashboard endpoint.
type MonthOverview struct {
	Year         int
	Month        int
	TotalIncome  core.Money
	TotalExpense core.Money
	ByCategory   []CategoryTotal
}

type CategoryTotal struct {
	CategoryID   int64
	CategoryName string
	Expense      core.Money
}

// GetMonthOverview returns income/expense totals and per-category expense
// sums for a month, largest categories first.
func (r *SQLiteRepository) GetMonthOverview(ctx context.Context, year, month int) (MonthOverview, error) {
	overview := MonthOverview{Year: year, Month: month}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions WHERE year = ? AND month = ?`,
		year, month).Scan(&overview.TotalIncome.Cents, &overview.TotalExpense.Cents)
	if err != nil {
		return overview, fmt.Errorf("month totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT t.category_id, c.name, SUM(t.amount_cents)
		FROM transactions t JOIN categories c ON c.id = t.category_id
		WHERE t.year = ? AND t.month = ? AND t.direction = 'expense'
		GROUP BY t.category_id, c.name
		ORDER BY SUM(t.amount_cents) DESC, c.name`,
		year, month)
	if err != nil {
		return overview, fmt.Errorf("category sums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.CategoryName, &ct.Expense.Cents); err != nil {
			return overview, fmt.Errorf("scan category sum: %w", err)
		}
		overview.ByCategory = append(overview.ByCategory, ct)
	}
	return overview, rows.Err()
}

// PendingExportTransactions returns transactions not yet exported, oldest first.
func (r *SQLiteRepository) PendingExportTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t JOIN categories c ON c.id = t.category_id
		WHERE t.exported = 0 AND t.export_error = 0
		ORDER BY t.id
		LIMIT ?`, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("pending export transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkExported marks a transaction as successfully exported.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET exported = 1, export_error = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

// MarkExportError flags a transaction whose export failed so the sweep
// stops retrying it until the flag is cleared.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET export_error = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with export error", "id", id)
	return nil
}
