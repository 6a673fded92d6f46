package internal

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// TransactionFunction is the signature every registered transaction body
// must have. tx is the open database transaction the function must use
// for its own writes, so they commit atomically with the OAOO record.
type TransactionFunction func(ec *ExecutionContext, tx pgx.Tx, input interface{}) (interface{}, error)

// ApplicationDatabase is the user's own database, augmented with the
// transaction_outputs bookkeeping table the Transaction Engine needs for
// once-and-only-once execution.
type ApplicationDatabase interface {
	CheckTransactionExecution(ctx context.Context, tx pgx.Tx, workflowID string, functionID int) (*OperationResultInternal, error)
	RecordTransactionOutput(ctx context.Context, tx pgx.Tx, result TransactionResultInternal) error

	// RecordTransactionError is called outside the failed transaction (which
	// has already rolled back) to durably record a non-retryable error.
	RecordTransactionError(ctx context.Context, result TransactionResultInternal) error

	// WithTransaction runs fn inside a single database transaction at the
	// given isolation level, committing on a nil return and rolling back
	// otherwise. fn's ctx carries the same DBOSContext as the caller.
	WithTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context, tx pgx.Tx) error) error

	Shutdown(ctx context.Context) error
}
