package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// ErrCarryOverAlreadyApplied is surfaced when carry-over is applied twice
// for the same source month. Callers are expected to handle it gracefully.
var ErrCarryOverAlreadyApplied = storage.ErrCarryOverAlreadyApplied

// DefaultSavingsCategory receives the carried-over amount.
const DefaultSavingsCategory = "Savings"

// CarryOver computes unspent budget per category for a completed month and
// rolls the total into the savings category, at most once per source month.
//
// Apply assumes a single writer; the storage layer's unique constraint on
// (from_year, from_month) demotes a concurrent race to a detectable
// conflict rather than a silent double-apply.
type CarryOver struct {
	storage         *storage.SQLiteRepository
	events          EventPublisher
	savingsCategory string
	now             func() time.Time
}

func NewCarryOver(storage *storage.SQLiteRepository, events EventPublisher, savingsCategory string) *CarryOver {
	if savingsCategory == "" {
		savingsCategory = DefaultSavingsCategory
	}
	return &CarryOver{
		storage:         storage,
		events:          events,
		savingsCategory: savingsCategory,
		now:             time.Now,
	}
}

// Preview computes the per-category unspent budget for (year, month).
// Categories without a budget row, with a non-positive budget, or with
// spending at or above budget contribute nothing. Read-only.
//
// Items are ordered by amount descending, category name ascending on ties.
func (c *CarryOver) Preview(ctx context.Context, year, month int) ([]core.CarryOverPreviewItem, error) {
	if !core.ValidMonth(year, month) {
		return nil, core.ErrInvalidMonth
	}

	categories, err := c.storage.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	var items []core.CarryOverPreviewItem
	for _, cat := range categories {
		budget, found, err := c.storage.MonthlyBudgetAmount(ctx, cat.ID, year, month)
		if err != nil {
			return nil, fmt.Errorf("budget for category %d: %w", cat.ID, err)
		}
		if !found || budget.Cents <= 0 {
			continue
		}

		spent, err := c.storage.TotalExpensesForCategoryMonth(ctx, cat.ID, year, month)
		if err != nil {
			return nil, fmt.Errorf("spent for category %d: %w", cat.ID, err)
		}

		remaining := budget.Cents - spent.Cents
		if remaining <= 0 {
			continue
		}

		items = append(items, core.CarryOverPreviewItem{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Amount:       core.Money{Cents: remaining},
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Amount.Cents != items[j].Amount.Cents {
			return items[i].Amount.Cents > items[j].Amount.Cents
		}
		return items[i].CategoryName < items[j].CategoryName
	})

	return items, nil
}

// ApplyToSavings applies the month's total unspent budget as one income
// transaction in the savings category, dated the first day of the following
// month, and records the run.
//
// A zero total is a true no-op: nothing is written and no run record is
// created, so the call stays retryable as the month's data changes. Only a
// positive application locks the source month.
func (c *CarryOver) ApplyToSavings(ctx context.Context, year, month int) (core.Money, error) {
	if !core.ValidMonth(year, month) {
		return core.Money{}, core.ErrInvalidMonth
	}

	applied, err := c.storage.CarryOverRunExists(ctx, year, month)
	if err != nil {
		return core.Money{}, fmt.Errorf("check prior run: %w", err)
	}
	if applied {
		return core.Money{}, ErrCarryOverAlreadyApplied
	}

	items, err := c.Preview(ctx, year, month)
	if err != nil {
		return core.Money{}, err
	}

	var total int64
	for _, item := range items {
		total += item.Amount.Cents
	}
	if total <= 0 {
		slog.InfoContext(ctx, "Nothing to carry over",
			"year", year, "month", month)
		return core.Money{}, nil
	}

	savings, err := c.storage.ResolveCategory(ctx, c.savingsCategory)
	if err != nil {
		return core.Money{}, fmt.Errorf("resolve savings category: %w", err)
	}

	t := core.Transaction{
		Description: fmt.Sprintf("Budget carry-over from %s %d", time.Month(month), year),
		Amount:      core.Money{Cents: total},
		Direction:   core.Income,
		Category:    savings,
		Date:        core.FirstOfNextMonth(year, month),
	}
	run := core.CarryOverRun{
		FromYear:  year,
		FromMonth: month,
		Total:     core.Money{Cents: total},
		AppliedAt: c.now().UTC(),
	}

	id, err := c.storage.ApplyCarryOver(ctx, run, t)
	if err != nil {
		return core.Money{}, err
	}

	c.publishApplied(ctx, year, month, run.Total)
	c.publishRecorded(ctx, id)

	return run.Total, nil
}

func (c *CarryOver) publishApplied(ctx context.Context, year, month int, total core.Money) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishCarryOverApplied(ctx, year, month, total); err != nil {
		slog.ErrorContext(ctx, "Failed to publish carry-over applied event",
			"year", year, "month", month, "error", err)
	}
}

func (c *CarryOver) publishRecorded(ctx context.Context, id int64) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishTransactionRecorded(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction recorded event",
			"id", id, "error", err)
	}
}
