package appdb

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"github.com/dbos-inc/dbos-transact-go/internal"
)

// MemoryApplicationDatabase is an in-process stand-in for
// internal.ApplicationDatabase, for tests that exercise RunTransaction's
// OAOO and serialization-retry logic without a live Postgres instance.
type MemoryApplicationDatabase struct {
	mu        sync.Mutex
	txOutputs map[opKey]*internal.OperationResultInternal
}

type opKey struct {
	workflowID string
	functionID int
}

func NewMemoryApplicationDatabase() *MemoryApplicationDatabase {
	return &MemoryApplicationDatabase{txOutputs: make(map[opKey]*internal.OperationResultInternal)}
}

// fakeTx satisfies pgx.Tx by embedding it: only Commit/Rollback are ever
// called by WithTransaction's caller (transaction.go never issues its own
// queries against tx beyond what RecordTransactionOutput does, and that is
// intercepted below rather than sent to the embedded nil Tx). A test whose
// TransactionFunction calls tx.Exec/tx.Query against this fake is a test
// bug, not a path this double needs to support.
type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

func (a *MemoryApplicationDatabase) WithTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, fakeTx{})
}

func (a *MemoryApplicationDatabase) CheckTransactionExecution(ctx context.Context, tx pgx.Tx, workflowID string, functionID int) (*internal.OperationResultInternal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.txOutputs[opKey{workflowID, functionID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (a *MemoryApplicationDatabase) RecordTransactionOutput(ctx context.Context, tx pgx.Tx, result internal.TransactionResultInternal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txOutputs[opKey{result.WorkflowID, result.FunctionID}] = &internal.OperationResultInternal{
		WorkflowID: result.WorkflowID,
		FunctionID: result.FunctionID,
		Output:     result.Output,
	}
	return nil
}

func (a *MemoryApplicationDatabase) RecordTransactionError(ctx context.Context, result internal.TransactionResultInternal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txOutputs[opKey{result.WorkflowID, result.FunctionID}] = &internal.OperationResultInternal{
		WorkflowID: result.WorkflowID,
		FunctionID: result.FunctionID,
		Error:      result.Error,
	}
	return nil
}

func (a *MemoryApplicationDatabase) Shutdown(ctx context.Context) error { return nil }
