package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/storage"
)

// Scheduler owns recurring templates and their materialization into ledger
// transactions. All date arithmetic takes the evaluation date as an
// argument; the scheduler never reads the wall clock.
//
// Concurrent RunDue invocations are not safe: callers must serialize runs
// (single-writer assumption).
type Scheduler struct {
	storage *storage.SQLiteRepository
	events  EventPublisher
}

func NewScheduler(storage *storage.SQLiteRepository, events EventPublisher) *Scheduler {
	return &Scheduler{
		storage: storage,
		events:  events,
	}
}

// TemplateInput describes a recurring template to create. DayOfMonth is
// required for monthly frequency and must be zero otherwise.
type TemplateInput struct {
	Description  string
	Amount       core.Money
	Direction    core.Direction
	CategoryName string
	StartDate    core.Date
	Frequency    core.Frequency
	DayOfMonth   int
}

// CreateTemplate validates the input, computes the first next-run date
// relative to today and persists the template. Nothing is written when
// validation fails.
func (s *Scheduler) CreateTemplate(ctx context.Context, in TemplateInput, today core.Date) (int64, error) {
	rt := core.RecurringTemplate{
		Description: in.Description,
		Amount:      in.Amount,
		Direction:   in.Direction,
		Category:    core.Category{Name: in.CategoryName},
		StartDate:   in.StartDate,
		Frequency:   in.Frequency,
		DayOfMonth:  in.DayOfMonth,
		Active:      true,
	}
	if err := rt.Validate(); err != nil {
		return 0, err
	}

	nextRun, err := core.InitialNextRun(in.StartDate, in.Frequency, in.DayOfMonth, today)
	if err != nil {
		return 0, fmt.Errorf("compute next run: %w", err)
	}
	rt = rt.WithNextRun(nextRun)

	category, err := s.storage.ResolveCategory(ctx, in.CategoryName)
	if err != nil {
		return 0, fmt.Errorf("resolve category: %w", err)
	}
	rt.Category = category

	id, err := s.storage.CreateTemplate(ctx, rt)
	if err != nil {
		return 0, fmt.Errorf("create template: %w", err)
	}
	return id, nil
}

// RunDue materializes every active template whose next-run date is on or
// before asOf. Each template yields exactly one transaction per call, dated
// at its current next-run date (not asOf), and its next-run date advances by
// one cadence step from that date: late or batched runs catch up one
// occurrence per invocation.
//
// Processing order is next-run ascending then id ascending. The batch is not
// atomic: on a mid-batch failure the already-processed templates stay
// advanced and the count of successes is returned alongside the error.
func (s *Scheduler) RunDue(ctx context.Context, asOf core.Date) (int, error) {
	due, err := s.storage.DueTemplates(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("load due templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing due templates",
		"due", len(due),
		"as_of", asOf.ISO())

	count := 0
	for _, rt := range due {
		nextRun, err := core.Advance(rt.NextRun, rt.Frequency, rt.DayOfMonth)
		if err != nil {
			return count, fmt.Errorf("advance template %d: %w", rt.ID, err)
		}

		// Dated at the template's own next-run date so late runs keep
		// historical accuracy.
		t := core.Transaction{
			Description: rt.Description,
			Amount:      rt.Amount,
			Direction:   rt.Direction,
			Category:    rt.Category,
			Date:        rt.NextRun,
		}

		id, err := s.storage.MaterializeOccurrence(ctx, rt.ID, t, nextRun)
		if err != nil {
			return count, fmt.Errorf("materialize template %d: %w", rt.ID, err)
		}
		count++

		slog.InfoContext(ctx, "Materialized recurring transaction",
			"template_id", rt.ID,
			"transaction_id", id,
			"date", rt.NextRun.ISO(),
			"next_run", nextRun.ISO())

		s.publishRecorded(ctx, id)
	}

	return count, nil
}

// DeactivateTemplate soft-deletes a template; unknown ids are a no-op.
func (s *Scheduler) DeactivateTemplate(ctx context.Context, id int64) error {
	return s.storage.DeactivateTemplate(ctx, id)
}

// ListTemplates returns all templates, active first, then next-run date,
// then id.
func (s *Scheduler) ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return s.storage.ListTemplates(ctx)
}

func (s *Scheduler) publishRecorded(ctx context.Context, id int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionRecorded(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction recorded event",
			"id", id, "error", err)
	}
}
