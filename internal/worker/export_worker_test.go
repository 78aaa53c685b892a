package worker

import (
	"context"
	"path/filepath"
	"testing"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/sheets/memory"
	"tally/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func addExpense(t *testing.T, repo *storage.SQLiteRepository, desc string, cents int64) int64 {
	t.Helper()
	ctx := context.Background()
	cat, err := repo.ResolveCategory(ctx, "Food")
	if err != nil {
		t.Fatalf("resolve category: %v", err)
	}
	id, err := repo.AddTransaction(ctx, core.Transaction{
		Description: desc,
		Amount:      core.Money{Cents: cents},
		Direction:   core.Expense,
		Category:    cat,
		Date:        core.NewDate(2025, 6, 10),
	})
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	return id
}

func TestExportWorker_SweepPending(t *testing.T) {
	repo := newTestRepo(t)
	writer := memory.New()
	w := NewExportWorker(repo, writer, 10)
	ctx := context.Background()

	addExpense(t, repo, "coffee", 350)
	addExpense(t, repo, "lunch", 1200)

	if err := w.SweepPending(ctx); err != nil {
		t.Fatalf("SweepPending() error = %v", err)
	}

	rows := writer.Rows()
	if len(rows) != 2 {
		t.Fatalf("exported %d rows, want 2", len(rows))
	}
	if rows[0].Description != "coffee" || rows[1].Description != "lunch" {
		t.Errorf("export order = %q, %q", rows[0].Description, rows[1].Description)
	}

	// All rows are marked exported, so a second sweep is a no-op.
	if err := w.SweepPending(ctx); err != nil {
		t.Fatalf("second SweepPending() error = %v", err)
	}
	if len(writer.Rows()) != 2 {
		t.Errorf("second sweep re-exported rows: %d total", len(writer.Rows()))
	}
}

func TestExportWorker_SweepPending_ParksFailedRows(t *testing.T) {
	repo := newTestRepo(t)
	writer := memory.New()
	w := NewExportWorker(repo, writer, 10)
	ctx := context.Background()

	addExpense(t, repo, "poison", 100)
	addExpense(t, repo, "fine", 200)

	writer.FailNext = true
	if err := w.SweepPending(ctx); err != nil {
		t.Fatalf("SweepPending() error = %v", err)
	}

	// First row failed and is parked; second row went through.
	rows := writer.Rows()
	if len(rows) != 1 || rows[0].Description != "fine" {
		t.Fatalf("exported rows = %+v, want only 'fine'", rows)
	}

	pending, err := repo.PendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("PendingExportTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after sweep = %+v, want none (failed row parked)", pending)
	}
}

func TestExportWorker_HandleRecordedMessage(t *testing.T) {
	repo := newTestRepo(t)
	writer := memory.New()
	w := NewExportWorker(repo, writer, 10)
	ctx := context.Background()

	id := addExpense(t, repo, "groceries", 4500)

	if err := w.HandleRecordedMessage(ctx, amqp.NewTransactionRecordedMessage(id)); err != nil {
		t.Fatalf("HandleRecordedMessage() error = %v", err)
	}
	if rows := writer.Rows(); len(rows) != 1 || rows[0].Description != "groceries" {
		t.Errorf("exported rows = %+v", writer.Rows())
	}

	// Messages for missing transactions are dropped, not retried forever.
	if err := w.HandleRecordedMessage(ctx, amqp.NewTransactionRecordedMessage(9999)); err != nil {
		t.Errorf("HandleRecordedMessage(missing) = %v, want nil", err)
	}
}
