// Package memory provides an in-memory sheet writer for tests and local
// development without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tally/internal/core"
	ports "tally/internal/sheets"
)

type Writer struct {
	mu   sync.Mutex
	rows []core.Transaction

	// FailNext makes the next Append return an error, then resets.
	FailNext bool
}

var _ ports.TransactionWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

func (w *Writer) Append(_ context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.FailNext {
		w.FailNext = false
		return "", fmt.Errorf("append %q: simulated failure", t.Description)
	}

	w.rows = append(w.rows, t)
	return fmt.Sprintf("memory!A%d", len(w.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (w *Writer) Rows() []core.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]core.Transaction, len(w.rows))
	copy(out, w.rows)
	return out
}
