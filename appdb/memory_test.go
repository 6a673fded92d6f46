package appdb

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/require"

	"github.com/dbos-inc/dbos-transact-go/internal"
)

func TestMemoryApplicationDatabaseOAOO(t *testing.T) {
	db := NewMemoryApplicationDatabase()
	ctx := context.Background()

	err := db.WithTransaction(ctx, pgx.Serializable, func(txCtx context.Context, tx pgx.Tx) error {
		existing, err := db.CheckTransactionExecution(txCtx, tx, "wf-1", 1)
		require.NoError(t, err)
		require.Nil(t, existing)
		return db.RecordTransactionOutput(txCtx, tx, internal.TransactionResultInternal{
			WorkflowID: "wf-1", FunctionID: 1, Output: []byte(`"result"`),
		})
	})
	require.NoError(t, err)

	existing, err := db.CheckTransactionExecution(ctx, nil, "wf-1", 1)
	require.NoError(t, err)
	require.Equal(t, []byte(`"result"`), existing.Output)
}

func TestMemoryApplicationDatabaseRecordsErrorOutsideTransaction(t *testing.T) {
	db := NewMemoryApplicationDatabase()
	ctx := context.Background()

	require.NoError(t, db.RecordTransactionError(ctx, internal.TransactionResultInternal{
		WorkflowID: "wf-1", FunctionID: 2, Error: []byte(`{"kind":"DBOSException","message":"boom"}`),
	}))

	existing, err := db.CheckTransactionExecution(ctx, nil, "wf-1", 2)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"kind":"DBOSException","message":"boom"}`), existing.Error)
}

func TestFakeTxCommitAndRollbackAreNoops(t *testing.T) {
	tx := fakeTx{}
	require.NoError(t, tx.Commit(context.Background()))
	require.NoError(t, tx.Rollback(context.Background()))
}
