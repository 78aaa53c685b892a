package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/storage"
)

// EventPublisher emits ledger events for downstream consumers (the export
// worker). Publishing is best-effort: a failed publish never fails the
// originating write, the periodic sweep picks the row up later.
type EventPublisher interface {
	PublishTransactionRecorded(ctx context.Context, transactionID int64) error
	PublishCarryOverApplied(ctx context.Context, year, month int, total core.Money) error
}

// Ledger orchestrates manual transaction entry across storage and AMQP.
type Ledger struct {
	storage *storage.SQLiteRepository
	events  EventPublisher
}

func NewLedger(storage *storage.SQLiteRepository, events EventPublisher) *Ledger {
	return &Ledger{
		storage: storage,
		events:  events,
	}
}

// TransactionInput is a manual ledger entry before category resolution.
type TransactionInput struct {
	Description  string
	Amount       core.Money
	Direction    core.Direction
	CategoryName string
	Date         core.Date
}

// RecordTransaction validates and persists a transaction, then publishes a
// recorded event.
func (l *Ledger) RecordTransaction(ctx context.Context, in TransactionInput) (int64, error) {
	category, err := l.storage.ResolveCategory(ctx, in.CategoryName)
	if err != nil {
		return 0, fmt.Errorf("resolve category: %w", err)
	}

	id, err := l.storage.AddTransaction(ctx, core.Transaction{
		Description: in.Description,
		Amount:      in.Amount,
		Direction:   in.Direction,
		Category:    category,
		Date:        in.Date,
	})
	if err != nil {
		return 0, fmt.Errorf("save transaction: %w", err)
	}

	l.publishRecorded(ctx, id)
	return id, nil
}

func (l *Ledger) publishRecorded(ctx context.Context, id int64) {
	if l.events == nil {
		return
	}
	if err := l.events.PublishTransactionRecorded(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction recorded event",
			"id", id, "error", err)
	}
}
