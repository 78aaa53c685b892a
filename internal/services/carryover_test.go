package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

func seedExpense(t *testing.T, l *Ledger, category string, cents int64, date core.Date) {
	t.Helper()
	_, err := l.RecordTransaction(context.Background(), TransactionInput{
		Description:  "seed " + category,
		Amount:       core.Money{Cents: cents},
		Direction:    core.Expense,
		CategoryName: category,
		Date:         date,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func setBudget(t *testing.T, repo *storage.SQLiteRepository, category string, cents int64, year, month int) {
	t.Helper()
	ctx := context.Background()
	cat, err := repo.ResolveCategory(ctx, category)
	if err != nil {
		t.Fatalf("resolve category %q: %v", category, err)
	}
	if err := repo.SetMonthlyBudget(ctx, cat.ID, year, month, core.Money{Cents: cents}); err != nil {
		t.Fatalf("set budget %q: %v", category, err)
	}
}

func TestCarryOver_Preview(t *testing.T) {
	repo := newTestRepo(t)
	ledger := NewLedger(repo, nil)
	c := NewCarryOver(repo, nil, "")
	ctx := context.Background()

	// Food: 300.00 budgeted, 180.00 spent -> 120.00 remaining.
	setBudget(t, repo, "Food", 30000, 2025, 6)
	seedExpense(t, ledger, "Food", 10000, core.NewDate(2025, 6, 3))
	seedExpense(t, ledger, "Food", 8000, core.NewDate(2025, 6, 17))

	// Transport: overspent, contributes nothing.
	setBudget(t, repo, "Transport", 5000, 2025, 6)
	seedExpense(t, ledger, "Transport", 7500, core.NewDate(2025, 6, 10))

	// Books: exactly on budget, contributes nothing.
	setBudget(t, repo, "Books", 2000, 2025, 6)
	seedExpense(t, ledger, "Books", 2000, core.NewDate(2025, 6, 21))

	// Hobby: no budget row, spending alone never yields carry-over.
	seedExpense(t, ledger, "Hobby", 4200, core.NewDate(2025, 6, 5))

	// Rent: budget in an adjacent month must not leak into June.
	setBudget(t, repo, "Rent", 90000, 2025, 7)

	// Gifts: untouched budget carries over in full; same amount as Food to
	// exercise the name tie-break.
	setBudget(t, repo, "Gifts", 12000, 2025, 6)

	items, err := c.Preview(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	want := []struct {
		name  string
		cents int64
	}{
		{"Food", 12000},
		{"Gifts", 12000},
	}
	if len(items) != len(want) {
		t.Fatalf("Preview() = %+v, want %d items", items, len(want))
	}
	for i, w := range want {
		if items[i].CategoryName != w.name || items[i].Amount.Cents != w.cents {
			t.Errorf("items[%d] = %s/%d, want %s/%d",
				i, items[i].CategoryName, items[i].Amount.Cents, w.name, w.cents)
		}
	}
}

func TestCarryOver_Preview_Ordering(t *testing.T) {
	repo := newTestRepo(t)
	c := NewCarryOver(repo, nil, "")

	setBudget(t, repo, "Zoo", 5000, 2025, 6)
	setBudget(t, repo, "Art", 5000, 2025, 6)
	setBudget(t, repo, "Food", 20000, 2025, 6)

	items, err := c.Preview(context.Background(), 2025, 6)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	var got []string
	for _, item := range items {
		got = append(got, item.CategoryName)
	}
	want := []string{"Food", "Art", "Zoo"}
	if len(got) != len(want) {
		t.Fatalf("Preview() order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Preview() order = %v, want %v", got, want)
			break
		}
	}
}

func TestCarryOver_Preview_InvalidMonth(t *testing.T) {
	c := NewCarryOver(newTestRepo(t), nil, "")
	if _, err := c.Preview(context.Background(), 2025, 13); !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("Preview(month 13) error = %v, want %v", err, core.ErrInvalidMonth)
	}
}

func TestCarryOver_ApplyToSavings(t *testing.T) {
	repo := newTestRepo(t)
	ledger := NewLedger(repo, nil)
	events := &fakePublisher{}
	c := NewCarryOver(repo, events, "")
	c.now = func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	setBudget(t, repo, "Food", 30000, 2025, 6)
	seedExpense(t, ledger, "Food", 18000, core.NewDate(2025, 6, 12))

	total, err := c.ApplyToSavings(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("ApplyToSavings() error = %v", err)
	}
	if total.Cents != 12000 {
		t.Errorf("ApplyToSavings() total = %d, want 12000", total.Cents)
	}

	// The savings entry lands on the first of the following month.
	txs, err := repo.ListTransactions(ctx, 2025, 7)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("ListTransactions(July) = %d transactions, want 1", len(txs))
	}
	got := txs[0]
	if got.Direction != core.Income {
		t.Errorf("savings direction = %s, want income", got.Direction)
	}
	if got.Category.Name != DefaultSavingsCategory {
		t.Errorf("savings category = %s, want %s", got.Category.Name, DefaultSavingsCategory)
	}
	if got.Amount.Cents != 12000 {
		t.Errorf("savings amount = %d, want 12000", got.Amount.Cents)
	}
	if got.Date.ISO() != "2025-07-01" {
		t.Errorf("savings date = %s, want 2025-07-01", got.Date.ISO())
	}
	if got.Description != "Budget carry-over from June 2025" {
		t.Errorf("savings description = %q", got.Description)
	}

	run, err := repo.GetCarryOverRun(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("GetCarryOverRun() error = %v", err)
	}
	if run.Total.Cents != 12000 || !run.AppliedAt.Equal(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("run record = %+v", run)
	}

	if len(events.applied) != 1 || events.applied[0].Cents != 12000 {
		t.Errorf("applied events = %+v, want one of 12000", events.applied)
	}
	if len(events.recorded) != 1 {
		t.Errorf("recorded events = %d, want 1 for the savings entry", len(events.recorded))
	}
}

func TestCarryOver_ApplyToSavings_OncePerMonth(t *testing.T) {
	repo := newTestRepo(t)
	c := NewCarryOver(repo, nil, "")
	ctx := context.Background()

	setBudget(t, repo, "Food", 30000, 2025, 6)

	if _, err := c.ApplyToSavings(ctx, 2025, 6); err != nil {
		t.Fatalf("first ApplyToSavings() error = %v", err)
	}

	_, err := c.ApplyToSavings(ctx, 2025, 6)
	if !errors.Is(err, ErrCarryOverAlreadyApplied) {
		t.Fatalf("second ApplyToSavings() error = %v, want %v", err, ErrCarryOverAlreadyApplied)
	}

	// The failed second apply must not add another savings entry.
	txs, _ := repo.ListTransactions(ctx, 2025, 7)
	if len(txs) != 1 {
		t.Errorf("ListTransactions(July) = %d transactions, want 1", len(txs))
	}

	// A different source month is unaffected by June's lock.
	setBudget(t, repo, "Food", 30000, 2025, 7)
	if _, err := c.ApplyToSavings(ctx, 2025, 7); err != nil {
		t.Errorf("ApplyToSavings(July) error = %v", err)
	}
}

func TestCarryOver_ApplyToSavings_ZeroTotalStaysRetryable(t *testing.T) {
	repo := newTestRepo(t)
	ledger := NewLedger(repo, nil)
	c := NewCarryOver(repo, nil, "")
	ctx := context.Background()

	// Fully spent: nothing to carry over.
	setBudget(t, repo, "Food", 10000, 2025, 6)
	seedExpense(t, ledger, "Food", 10000, core.NewDate(2025, 6, 2))

	total, err := c.ApplyToSavings(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("ApplyToSavings() error = %v", err)
	}
	if total.Cents != 0 {
		t.Fatalf("ApplyToSavings() total = %d, want 0", total.Cents)
	}

	// No run record and no savings transaction were written.
	if exists, _ := repo.CarryOverRunExists(ctx, 2025, 6); exists {
		t.Fatal("zero-total apply must not record a run")
	}
	if txs, _ := repo.ListTransactions(ctx, 2025, 7); len(txs) != 0 {
		t.Fatalf("zero-total apply wrote %d transactions", len(txs))
	}

	// The month reopens: raising the budget later makes a retry succeed.
	setBudget(t, repo, "Food", 15000, 2025, 6)
	total, err = c.ApplyToSavings(ctx, 2025, 6)
	if err != nil {
		t.Fatalf("retried ApplyToSavings() error = %v", err)
	}
	if total.Cents != 5000 {
		t.Errorf("retried ApplyToSavings() total = %d, want 5000", total.Cents)
	}
}

func TestCarryOver_CustomSavingsCategory(t *testing.T) {
	repo := newTestRepo(t)
	c := NewCarryOver(repo, nil, "Rainy Day")
	ctx := context.Background()

	setBudget(t, repo, "Food", 5000, 2025, 6)

	if _, err := c.ApplyToSavings(ctx, 2025, 6); err != nil {
		t.Fatalf("ApplyToSavings() error = %v", err)
	}

	txs, _ := repo.ListTransactions(ctx, 2025, 7)
	if len(txs) != 1 || txs[0].Category.Name != "Rainy Day" {
		t.Errorf("savings entry = %+v, want category Rainy Day", txs)
	}
}
