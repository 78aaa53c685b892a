package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tally/internal/core"
	"tally/internal/services"
)

type transactionJSON struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	Date        string `json:"date"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          t.ID,
		Description: t.Description,
		Amount:      t.Amount.String(),
		Direction:   string(t.Direction),
		Category:    t.Category.Name,
		Date:        t.Date.ISO(),
	}
}

type createTransactionRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	Date        string `json:"date"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid date, want YYYY-MM-DD")
		return
	}

	id, err := s.ledger.RecordTransaction(r.Context(), services.TransactionInput{
		Description:  sanitizeInput(req.Description),
		Amount:       core.Money{Cents: cents},
		Direction:    core.Direction(req.Direction),
		CategoryName: sanitizeInput(req.Category),
		Date:         date,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.summaryCache.Delete(cacheKey(date.Year(), date.Month()))
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)
	if !core.ValidMonth(year, month) {
		writeError(w, http.StatusBadRequest, "invalid year/month")
		return
	}

	txs, err := s.storage.ListTransactions(r.Context(), year, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "List transactions failed", "error", err)
		writeServiceError(w, err)
		return
	}

	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type summaryJSON struct {
	Year         int                   `json:"year"`
	Month        int                   `json:"month"`
	TotalIncome  string                `json:"total_income"`
	TotalExpense string                `json:"total_expense"`
	ByCategory   []categorySummaryJSON `json:"by_category"`
}

type categorySummaryJSON struct {
	CategoryID int64  `json:"category_id"`
	Category   string `json:"category"`
	Expense    string `json:"expense"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)
	if !core.ValidMonth(year, month) {
		writeError(w, http.StatusBadRequest, "invalid year/month")
		return
	}

	key := cacheKey(year, month)
	overview, found := s.summaryCache.Get(key)
	if !found {
		var err error
		overview, err = s.storage.GetMonthOverview(r.Context(), year, month)
		if err != nil {
			slog.ErrorContext(r.Context(), "Month overview failed", "error", err)
			writeServiceError(w, err)
			return
		}
		s.summaryCache.Set(key, overview)
	}

	out := summaryJSON{
		Year:         overview.Year,
		Month:        overview.Month,
		TotalIncome:  overview.TotalIncome.String(),
		TotalExpense: overview.TotalExpense.String(),
		ByCategory:   make([]categorySummaryJSON, 0, len(overview.ByCategory)),
	}
	for _, ct := range overview.ByCategory {
		out.ByCategory = append(out.ByCategory, categorySummaryJSON{
			CategoryID: ct.CategoryID,
			Category:   ct.CategoryName,
			Expense:    ct.Expense.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type categoryJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.storage.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryJSON{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.storage.RenameCategory(r.Context(), id, sanitizeInput(req.Name)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setBudgetRequest struct {
	Category string `json:"category"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Amount   string `json:"amount"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}

	cat, err := s.storage.ResolveCategory(r.Context(), sanitizeInput(req.Category))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := s.storage.SetMonthlyBudget(r.Context(), cat.ID, req.Year, req.Month, core.Money{Cents: cents}); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type budgetJSON struct {
	CategoryID int64  `json:"category_id"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Amount     string `json:"amount"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)
	if !core.ValidMonth(year, month) {
		writeError(w, http.StatusBadRequest, "invalid year/month")
		return
	}

	budgets, err := s.storage.ListBudgets(r.Context(), year, month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]budgetJSON, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, budgetJSON{
			CategoryID: b.CategoryID,
			Year:       b.Year,
			Month:      b.Month,
			Amount:     b.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type budgetChangeJSON struct {
	CategoryID int64   `json:"category_id"`
	Year       int     `json:"year"`
	Month      int     `json:"month"`
	OldAmount  *string `json:"old_amount"`
	NewAmount  string  `json:"new_amount"`
	ChangedAt  string  `json:"changed_at"`
}

func (s *Server) handleBudgetHistory(w http.ResponseWriter, r *http.Request) {
	categoryID, err := parseQueryID(r, "category_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category_id")
		return
	}

	history, err := s.storage.BudgetHistory(r.Context(), categoryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]budgetChangeJSON, 0, len(history))
	for _, bc := range history {
		change := budgetChangeJSON{
			CategoryID: bc.CategoryID,
			Year:       bc.Year,
			Month:      bc.Month,
			NewAmount:  bc.NewAmount.String(),
			ChangedAt:  bc.ChangedAt.UTC().Format(time.RFC3339),
		}
		if bc.OldAmount != nil {
			v := bc.OldAmount.String()
			change.OldAmount = &v
		}
		out = append(out, change)
	}
	writeJSON(w, http.StatusOK, out)
}

type templateJSON struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	StartDate   string `json:"start_date"`
	Frequency   string `json:"frequency"`
	DayOfMonth  int    `json:"day_of_month,omitempty"`
	NextRun     string `json:"next_run"`
	Active      bool   `json:"active"`
}

type createTemplateRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Category    string `json:"category"`
	StartDate   string `json:"start_date"`
	Frequency   string `json:"frequency"`
	DayOfMonth  int    `json:"day_of_month"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid start_date, want YYYY-MM-DD")
		return
	}

	id, err := s.scheduler.CreateTemplate(r.Context(), services.TemplateInput{
		Description:  sanitizeInput(req.Description),
		Amount:       core.Money{Cents: cents},
		Direction:    core.Direction(req.Direction),
		CategoryName: sanitizeInput(req.Category),
		StartDate:    start,
		Frequency:    core.Frequency(req.Frequency),
		DayOfMonth:   req.DayOfMonth,
	}, core.DateOf(time.Now()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.scheduler.ListTemplates(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]templateJSON, 0, len(templates))
	for _, rt := range templates {
		out = append(out, templateJSON{
			ID:          rt.ID,
			Description: rt.Description,
			Amount:      rt.Amount.String(),
			Direction:   string(rt.Direction),
			Category:    rt.Category.Name,
			StartDate:   rt.StartDate.ISO(),
			Frequency:   string(rt.Frequency),
			DayOfMonth:  rt.DayOfMonth,
			NextRun:     rt.NextRun.ISO(),
			Active:      rt.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	if err := s.scheduler.DeactivateTemplate(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunDue(w http.ResponseWriter, r *http.Request) {
	asOf := core.DateOf(time.Now())
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := core.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of, want YYYY-MM-DD")
			return
		}
		asOf = parsed
	}

	count, err := s.scheduler.RunDue(r.Context(), asOf)
	if err != nil {
		slog.ErrorContext(r.Context(), "Run due failed mid-batch",
			"materialized", count, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"materialized": count,
			"error":        "run aborted mid-batch, already-materialized occurrences were kept",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"materialized": count})
}

type previewItemJSON struct {
	CategoryID int64  `json:"category_id"`
	Category   string `json:"category"`
	Amount     string `json:"amount"`
}

func (s *Server) handleCarryOverPreview(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)

	items, err := s.carryover.Preview(r.Context(), year, month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]previewItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, previewItemJSON{
			CategoryID: item.CategoryID,
			Category:   item.CategoryName,
			Amount:     item.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type applyCarryOverRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (s *Server) handleCarryOverApply(w http.ResponseWriter, r *http.Request) {
	var req applyCarryOverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	total, err := s.carryover.ApplyToSavings(r.Context(), req.Year, req.Month)
	if err != nil {
		if errors.Is(err, services.ErrCarryOverAlreadyApplied) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	// The savings income lands in the following month.
	next := core.FirstOfNextMonth(req.Year, req.Month)
	s.summaryCache.Delete(cacheKey(next.Year(), next.Month()))

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total.String(),
		"applied": total.Cents > 0,
	})
}
