package sheets

import (
	"context"

	"tally/internal/core"
)

// TransactionWriter appends a ledger transaction to an external sheet and
// returns a reference to the written row.
type TransactionWriter interface {
	Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
