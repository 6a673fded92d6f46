package internal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxStepRetryInterval is the cap on the step backoff ladder,
// independent of the transaction ladder's 2s cap.
const maxStepRetryInterval = time.Hour

// RunStep executes fn with OAOO bookkeeping and an optional retry ladder.
// A nested step call (dc already inside a step) bypasses all bookkeeping
// and calls fn directly. A bare call outside any workflow is wrapped in a
// synthetic single-operation workflow first.
func (e *Engine) RunStep(ctx context.Context, name string, fn StepFunction, input interface{}, retriesAllowed bool, intervalSeconds float64, maxAttempts int, backoffRate float64) (interface{}, error) {
	dc := CurrentDBOSContext(ctx)

	if dc != nil && dc.IsStep() {
		return fn(e.NewExecutionContext(ctx), input)
	}

	if dc == nil || !dc.IsWithinWorkflow() {
		return e.runAsSingletonWorkflow(ctx, name, TempWorkflowTypeStep, func(ec *ExecutionContext) (interface{}, error) {
			return e.RunStep(ec.Context(), name, fn, input, retriesAllowed, intervalSeconds, maxAttempts, backoffRate)
		})
	}

	functionID := dc.NextFunctionID()
	prevOpType := dc.OperationType
	dc.OperationType = OperationTypeStep
	defer func() { dc.OperationType = prevOpType }()

	existing, err := e.SysDB.CheckOperationExecution(ctx, dc.WorkflowID, functionID)
	if err != nil {
		return nil, fmt.Errorf("check step execution: %w", err)
	}
	if existing != nil {
		switch {
		case existing.Error != nil:
			rerr, derr := e.Serializer.DeserializeError(existing.Error)
			if derr != nil {
				return nil, derr
			}
			return nil, rerr
		case existing.Output != nil:
			var out interface{}
			if derr := e.Serializer.Deserialize(existing.Output, &out); derr != nil {
				return nil, derr
			}
			return out, nil
		default:
			return nil, newCorruptRecordError(dc.WorkflowID, functionID)
		}
	}

	localMaxAttempts := 1
	if retriesAllowed {
		localMaxAttempts = maxAttempts
	}
	if localMaxAttempts < 1 {
		localMaxAttempts = 1
	}

	ec := e.NewExecutionContext(ctx)
	localInterval := intervalSeconds
	var output interface{}
	var stepErr error

	for attempt := 1; attempt <= localMaxAttempts; attempt++ {
		out, ferr := fn(ec, input)
		if ferr == nil {
			output = out
			stepErr = nil
			break
		}
		stepErr = ferr
		if retriesAllowed {
			e.Logger.Warn("step being automatically retried",
				zap.String("workflow_id", dc.WorkflowID), zap.Int("function_id", functionID),
				zap.Int("attempt", attempt), zap.Int("of", localMaxAttempts), zap.Error(ferr))
			e.traceEvent(ctx, fmt.Sprintf("Step attempt %d failed", attempt), "error", ferr.Error(), "retryIntervalSeconds", localInterval)
			if attempt == localMaxAttempts {
				stepErr = NewMaxStepRetriesExceededError(localMaxAttempts, nil)
			} else {
				e.Clock.Sleep(time.Duration(localInterval * float64(time.Second)))
				localInterval *= backoffRate
				if time.Duration(localInterval*float64(time.Second)) > maxStepRetryInterval {
					localInterval = maxStepRetryInterval.Seconds()
				}
			}
		}
	}

	result := OperationResultInternal{WorkflowID: dc.WorkflowID, FunctionID: functionID}
	if stepErr != nil {
		data, serr := e.Serializer.SerializeError(stepErr)
		if serr != nil {
			e.Logger.Error("failed to serialize step error", zap.Error(serr))
		}
		result.Error = data
	} else {
		data, serr := e.Serializer.Serialize(output)
		if serr != nil {
			return nil, fmt.Errorf("serialize step output: %w", serr)
		}
		if data == nil {
			// A nil output is recorded as JSON null so the row still has
			// exactly one of output/error set.
			data = []byte("null")
		}
		result.Output = data
	}

	if rerr := e.SysDB.RecordOperationResult(ctx, result); rerr != nil {
		e.Logger.Error("failed to record step result", zap.String("workflow_id", dc.WorkflowID), zap.Error(rerr))
		return nil, rerr
	}

	if stepErr != nil {
		return nil, stepErr
	}
	return output, nil
}
