package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/sheets"
	"tally/internal/storage"
)

// ExportWorker pushes ledger transactions to an external sheet. It consumes
// recorded events from AMQP and also sweeps the database periodically as a
// backup for lost messages.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	writer    sheets.TransactionWriter
	batchSize int
}

func NewExportWorker(storage *storage.SQLiteRepository, writer sheets.TransactionWriter, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ExportWorker{
		storage:   storage,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleRecordedMessage exports the transaction named by one AMQP message.
// A transaction missing from storage is treated as done so redeliveries for
// stale messages stay harmless.
func (w *ExportWorker) HandleRecordedMessage(ctx context.Context, msg *amqp.TransactionRecordedMessage) error {
	err := w.export(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Transaction gone before export, dropping message",
			"transaction_id", msg.TransactionID)
		return nil
	}
	return err
}

// SweepPending exports every not-yet-exported transaction up to the batch
// size. Rows that fail are flagged so the sweep does not spin on them.
func (w *ExportWorker) SweepPending(ctx context.Context) error {
	pending, err := w.storage.PendingExportTransactions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Exporting pending transactions", "count", len(pending))

	for _, t := range pending {
		if err := w.export(ctx, t.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction",
				"id", t.ID, "error", err)
		}
	}
	return nil
}

// Run starts the AMQP consumer and the periodic sweep and blocks until the
// context is cancelled or one of them fails.
func (w *ExportWorker) Run(ctx context.Context, client *amqp.Client, sweepInterval time.Duration) error {
	// Catch up before consuming so downtime never strands rows.
	if err := w.SweepPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup sweep failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.ConsumeTransactionRecorded(ctx, func(msg *amqp.TransactionRecordedMessage) error {
			return w.HandleRecordedMessage(ctx, msg)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.SweepPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}

func (w *ExportWorker) export(ctx context.Context, id int64) error {
	t, err := w.storage.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	ref, err := w.writer.Append(ctx, t)
	if err != nil {
		if markErr := w.storage.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to sheet: %w", err)
	}

	if err := w.storage.MarkExported(ctx, id); err != nil {
		// The row made it to the sheet; only the bookkeeping failed.
		slog.ErrorContext(ctx, "Failed to mark as exported", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Transaction exported",
		"id", id,
		"sheet_ref", ref,
		"description", t.Description,
		"amount_cents", t.Amount.Cents)

	return nil
}
