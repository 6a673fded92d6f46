// Package appdb provides the application-database bindings the Transaction
// Engine needs: a Postgres-backed implementation that appends a
// transaction_outputs row inside the caller's own transaction, and an
// in-memory one for tests.
package appdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/dbos-inc/dbos-transact-go/internal"
)

// PostgresApplicationDatabase runs user transaction functions against the
// application's own Postgres database, recording the transaction_outputs
// OAOO row in the same database transaction as the user's writes.
type PostgresApplicationDatabase struct {
	pool *pgxpool.Pool
}

func NewPostgresApplicationDatabase(pool *pgxpool.Pool) *PostgresApplicationDatabase {
	return &PostgresApplicationDatabase{pool: pool}
}

func (a *PostgresApplicationDatabase) WithTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (a *PostgresApplicationDatabase) CheckTransactionExecution(ctx context.Context, tx pgx.Tx, workflowID string, functionID int) (*internal.OperationResultInternal, error) {
	var result internal.OperationResultInternal
	err := tx.QueryRow(ctx, `
		SELECT workflow_id, function_id, output, error FROM transaction_outputs
		WHERE workflow_id = $1 AND function_id = $2
	`, workflowID, functionID).Scan(&result.WorkflowID, &result.FunctionID, &result.Output, &result.Error)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check transaction execution: %w", err)
	}
	return &result, nil
}

func (a *PostgresApplicationDatabase) RecordTransactionOutput(ctx context.Context, tx pgx.Tx, result internal.TransactionResultInternal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transaction_outputs
			(workflow_id, function_id, output, error, txn_id, txn_snapshot, executor_id)
		VALUES ($1,$2,$3,$4,pg_current_xact_id()::text,pg_current_snapshot()::text,$5)
		ON CONFLICT (workflow_id, function_id) DO NOTHING
	`, result.WorkflowID, result.FunctionID, result.Output, result.Error, result.ExecutorID)
	if err != nil {
		return fmt.Errorf("record transaction output: %w", err)
	}
	return nil
}

// RecordTransactionError runs outside of the failed (already rolled back)
// transaction, on the pool directly.
func (a *PostgresApplicationDatabase) RecordTransactionError(ctx context.Context, result internal.TransactionResultInternal) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO transaction_outputs (workflow_id, function_id, output, error, executor_id)
		VALUES ($1,$2,NULL,$3,$4)
		ON CONFLICT (workflow_id, function_id) DO NOTHING
	`, result.WorkflowID, result.FunctionID, result.Error, result.ExecutorID)
	if err != nil {
		return fmt.Errorf("record transaction error: %w", err)
	}
	return nil
}

func (a *PostgresApplicationDatabase) Shutdown(ctx context.Context) error {
	a.pool.Close()
	return nil
}
