package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/dbos-inc/dbos-transact-go/internal/common/backoff"
)

// serializationFailureSQLState is the SQLSTATE Postgres raises for a
// SERIALIZABLE isolation conflict.
const serializationFailureSQLState = "40001"

// RunTransaction executes fn inside a single database transaction, with
// OAOO bookkeeping and unbounded retry on serialization failure. A bare
// call outside any workflow is wrapped in a synthetic single-operation
// workflow first.
func (e *Engine) RunTransaction(ctx context.Context, name string, isoLevel pgx.TxIsoLevel, fn TransactionFunction, input interface{}) (interface{}, error) {
	dc := CurrentDBOSContext(ctx)
	if dc == nil || !dc.IsWithinWorkflow() {
		return e.runAsSingletonWorkflow(ctx, name, TempWorkflowTypeTransaction, func(ec *ExecutionContext) (interface{}, error) {
			return e.RunTransaction(ec.Context(), name, isoLevel, fn, input)
		})
	}

	functionID := dc.NextFunctionID()
	prevOpType := dc.OperationType
	dc.OperationType = OperationTypeTransaction
	defer func() { dc.OperationType = prevOpType }()

	policy := backoff.TransactionRetryPolicy()
	retrier := backoff.NewRetrier(policy, e.Clock)

	for {
		var (
			result           interface{}
			alreadyRecorded bool
		)

		txErr := e.AppDB.WithTransaction(ctx, isoLevel, func(txCtx context.Context, tx pgx.Tx) error {
			existing, err := e.AppDB.CheckTransactionExecution(txCtx, tx, dc.WorkflowID, functionID)
			if err != nil {
				return fmt.Errorf("check transaction execution: %w", err)
			}
			if existing != nil {
				alreadyRecorded = true
				switch {
				case existing.Error != nil:
					rerr, derr := e.Serializer.DeserializeError(existing.Error)
					if derr != nil {
						return derr
					}
					return rerr
				case existing.Output != nil:
					return e.Serializer.Deserialize(existing.Output, &result)
				default:
					return newCorruptRecordError(dc.WorkflowID, functionID)
				}
			}

			ec := e.NewExecutionContext(WithDBOSContext(txCtx, dc))
			out, ferr := fn(ec, tx, input)
			if ferr != nil {
				return ferr
			}
			result = out

			serialized, serr := e.Serializer.Serialize(out)
			if serr != nil {
				return fmt.Errorf("serialize transaction output: %w", serr)
			}
			if serialized == nil {
				// A nil output is recorded as JSON null so the row still
				// has exactly one of output/error set.
				serialized = []byte("null")
			}
			return e.AppDB.RecordTransactionOutput(txCtx, tx, TransactionResultInternal{
				WorkflowID: dc.WorkflowID,
				FunctionID: functionID,
				Output:     serialized,
				ExecutorID: dc.ExecutorID,
			})
		})

		if txErr == nil {
			return result, nil
		}

		if isSerializationFailure(txErr) {
			wait := retrier.NextBackOff()
			e.traceEvent(ctx, "Transaction Serialization Failure", "retry_wait_seconds", wait.Seconds())
			e.Logger.Warn("transaction serialization conflict, retrying",
				zap.String("workflow_id", dc.WorkflowID), zap.Int("function_id", functionID), zap.Duration("wait", wait))
			e.Clock.Sleep(wait)
			continue
		}

		if alreadyRecorded {
			return nil, txErr
		}

		errData, serr := e.Serializer.SerializeError(txErr)
		if serr != nil {
			e.Logger.Error("failed to serialize transaction error", zap.Error(serr))
		}
		if rerr := e.AppDB.RecordTransactionError(ctx, TransactionResultInternal{
			WorkflowID: dc.WorkflowID,
			FunctionID: functionID,
			Error:      errData,
			ExecutorID: dc.ExecutorID,
		}); rerr != nil {
			e.Logger.Error("failed to record transaction error", zap.String("workflow_id", dc.WorkflowID), zap.Error(rerr))
		}
		return nil, txErr
	}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailureSQLState
}

func (e *Engine) traceEvent(ctx context.Context, eventName string, kv ...interface{}) {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return
	}
	fields := append([]interface{}{"event", eventName}, kv...)
	span.LogKV(fields...)
}
