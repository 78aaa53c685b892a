package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	srv := NewServer(":0",
		services.NewLedger(repo, nil),
		services.NewScheduler(repo, nil),
		services.NewCarryOver(repo, nil, ""),
		repo)
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv, repo
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rr.Code)
		}
	}
}

func TestCreateTransaction(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/transactions",
		`{"description":"coffee","amount":"3.50","direction":"expense","category":"Food","date":"2025-06-10"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var created map[string]int64
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil || created["id"] == 0 {
		t.Fatalf("create response = %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	rr = do(t, srv, http.MethodGet, "/transactions?year=2025&month=6", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var txs []transactionJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &txs); err != nil {
		t.Fatalf("list body = %s", rr.Body.String())
	}
	if len(txs) != 1 || txs[0].Description != "coffee" || txs[0].Amount != "3.50" {
		t.Errorf("list = %+v", txs)
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"bad amount", `{"description":"x","amount":"abc","direction":"expense","category":"A","date":"2025-06-10"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"description":"x","amount":"1.00","direction":"expense","category":"A","date":"10/06/2025"}`, http.StatusUnprocessableEntity},
		{"bad direction", `{"description":"x","amount":"1.00","direction":"sideways","category":"A","date":"2025-06-10"}`, http.StatusUnprocessableEntity},
		{"empty description", `{"description":"","amount":"1.00","direction":"expense","category":"A","date":"2025-06-10"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/transactions", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	do(t, srv, http.MethodPost, "/transactions",
		`{"description":"rent","amount":"900.00","direction":"expense","category":"Rent","date":"2025-06-01"}`)
	do(t, srv, http.MethodPost, "/transactions",
		`{"description":"salary","amount":"2500.00","direction":"income","category":"Salary","date":"2025-06-25"}`)

	rr := do(t, srv, http.MethodGet, "/summary?year=2025&month=6", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rr.Code)
	}
	var sum summaryJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("summary body = %s", rr.Body.String())
	}
	if sum.TotalExpense != "900.00" || sum.TotalIncome != "2500.00" {
		t.Errorf("summary = %+v", sum)
	}

	// A new write invalidates the cached month.
	do(t, srv, http.MethodPost, "/transactions",
		`{"description":"food","amount":"100.00","direction":"expense","category":"Food","date":"2025-06-02"}`)
	rr = do(t, srv, http.MethodGet, "/summary?year=2025&month=6", "")
	_ = json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.TotalExpense != "1000.00" {
		t.Errorf("summary after write = %+v, want expense 1000.00", sum)
	}
}

func TestTemplateEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	// CreateTemplate computes the first next-run relative to the wall clock,
	// so the template must start today for the run below to be due.
	today := core.DateOf(time.Now()).ISO()

	rr := do(t, srv, http.MethodPost, "/templates",
		`{"description":"Cleaner","amount":"45.00","direction":"expense","category":"Home","start_date":"`+today+`","frequency":"weekly"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create template status = %d, body = %s", rr.Code, rr.Body.String())
	}

	// Day of month outside 1..28 is rejected.
	rr = do(t, srv, http.MethodPost, "/templates",
		`{"description":"Bad","amount":"1.00","direction":"expense","category":"X","start_date":"`+today+`","frequency":"monthly","day_of_month":31}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("day 31 status = %d, want 422", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/templates", "")
	var templates []templateJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &templates); err != nil {
		t.Fatalf("list templates body = %s", rr.Body.String())
	}
	if len(templates) != 1 || templates[0].Frequency != "weekly" || templates[0].NextRun != today {
		t.Fatalf("templates = %+v", templates)
	}

	rr = do(t, srv, http.MethodPost, "/templates/run?as_of="+today, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("run status = %d", rr.Code)
	}
	var run map[string]int
	_ = json.Unmarshal(rr.Body.Bytes(), &run)
	if run["materialized"] != 1 {
		t.Errorf("materialized = %d, want 1", run["materialized"])
	}

	id := templates[0].ID
	rr = do(t, srv, http.MethodDelete, "/templates/"+itoa(id), "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("deactivate status = %d", rr.Code)
	}
}

func TestBudgetAndCarryOverEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, http.MethodPut, "/budgets",
		`{"category":"Food","year":2025,"month":6,"amount":"300.00"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("set budget status = %d, body = %s", rr.Code, rr.Body.String())
	}

	do(t, srv, http.MethodPost, "/transactions",
		`{"description":"groceries","amount":"180.00","direction":"expense","category":"Food","date":"2025-06-12"}`)

	rr = do(t, srv, http.MethodGet, "/carryover/preview?year=2025&month=6", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rr.Code)
	}
	var items []previewItemJSON
	_ = json.Unmarshal(rr.Body.Bytes(), &items)
	if len(items) != 1 || items[0].Category != "Food" || items[0].Amount != "120.00" {
		t.Fatalf("preview = %+v", items)
	}

	rr = do(t, srv, http.MethodPost, "/carryover/apply", `{"year":2025,"month":6}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var applied map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &applied)
	if applied["total"] != "120.00" || applied["applied"] != true {
		t.Errorf("apply = %+v", applied)
	}

	// Second apply conflicts.
	rr = do(t, srv, http.MethodPost, "/carryover/apply", `{"year":2025,"month":6}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("second apply status = %d, want 409", rr.Code)
	}

	// The savings income shows up in July.
	rr = do(t, srv, http.MethodGet, "/transactions?year=2025&month=7", "")
	var txs []transactionJSON
	_ = json.Unmarshal(rr.Body.Bytes(), &txs)
	if len(txs) != 1 || txs[0].Direction != "income" || txs[0].Date != "2025-07-01" {
		t.Errorf("july transactions = %+v", txs)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	do(t, srv, http.MethodPost, "/transactions",
		`{"description":"x","amount":"1.00","direction":"expense","category":"Grocery","date":"2025-06-10"}`)

	rr := do(t, srv, http.MethodGet, "/categories", "")
	var cats []categoryJSON
	_ = json.Unmarshal(rr.Body.Bytes(), &cats)
	if len(cats) != 1 || cats[0].Name != "Grocery" {
		t.Fatalf("categories = %+v", cats)
	}

	rr = do(t, srv, http.MethodPatch, "/categories/"+itoa(cats[0].ID), `{"name":"Groceries"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodPatch, "/categories/9999", `{"name":"Nope"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("rename missing status = %d, want 404", rr.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
