package internal

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// InitWorkflow composes and persists the PENDING status + inputs row for a
// workflow about to run, or buffers the inputs (for a single-transaction
// workflow, whose terminal write will be its only operation). Returns the
// workflow id the execution will run under.
func (e *Engine) InitWorkflow(ctx context.Context, dc *DBOSContext, info *WorkflowInfo, serializedInput []byte, tempWFType string) (string, error) {
	wfID := dc.WorkflowID
	if wfID == "" {
		wfID = dc.IDAssignedForNextWorkflow
	}
	if wfID == "" {
		return "", NewDBOSException("cannot init a workflow with no assigned id")
	}
	dc.WorkflowID = wfID

	status := WorkflowStatusInternal{
		WorkflowID:         wfID,
		Status:             StatusPending,
		Name:               info.Name,
		ClassName:          info.ClassName,
		ConfigName:         info.ConfigName,
		AppID:              dc.AppID,
		AppVersion:         dc.AppVersion,
		ExecutorID:         dc.ExecutorID,
		Request:            dc.Request,
		AuthenticatedUser:  dc.AuthenticatedUser,
		AuthenticatedRoles: dc.AuthenticatedRoles,
		AssumedRole:        dc.AssumedRole,
	}

	if tempWFType != TempWorkflowTypeTransaction {
		if err := e.SysDB.UpdateWorkflowStatus(ctx, status, dc.InRecovery); err != nil {
			return "", fmt.Errorf("init workflow %q: %w", wfID, err)
		}
		if err := e.SysDB.UpdateWorkflowInputs(ctx, wfID, serializedInput); err != nil {
			return "", fmt.Errorf("init workflow %q inputs: %w", wfID, err)
		}
		return wfID, nil
	}

	e.SysDB.BufferWorkflowInputs(wfID, serializedInput)
	return wfID, nil
}

// ExecuteWorkflow runs info.Fn to completion, recording its terminal state.
// It wraps the run in a tracing span tagged operationType=WORKFLOW; no
// assumed-role scope is applied, so AssumedRole keeps whatever value the
// DBOSContext already carries. Context swap-in is the caller's job via
// NewExecutionContext. A WorkflowConflictIDError returned by the body is
// resolved by awaiting the existing execution through a polling handle.
func (e *Engine) ExecuteWorkflow(ec *ExecutionContext, info *WorkflowInfo, receiver, input interface{}) (interface{}, error) {
	dc := ec.DBOSContext()
	dc.OperationType = OperationTypeWorkflow

	span, spanCtx := e.startSpan(ec.Context(), "ExecuteWorkflow", opentracingTag{"operationType", "WORKFLOW"}, opentracingTag{"workflowID", dc.WorkflowID})
	defer span.Finish()
	ec = ec.withContext(WithDBOSContext(spanCtx, dc))

	result, err := info.Fn(ec, receiver, input)
	if err == nil {
		out, serr := e.Serializer.Serialize(result)
		if serr != nil {
			return nil, fmt.Errorf("serialize workflow output: %w", serr)
		}
		if out == nil {
			out = []byte("null")
		}
		e.SysDB.BufferWorkflowStatus(WorkflowStatusInternal{
			WorkflowID: dc.WorkflowID,
			Status:     StatusSuccess,
			Name:       info.Name,
			ClassName:  info.ClassName,
			ConfigName: info.ConfigName,
			Output:     out,
		})
		return result, nil
	}

	if asError[*WorkflowConflictIDError](err) {
		e.Logger.Warn("workflow conflict, awaiting existing execution", zap.String("workflow_id", dc.WorkflowID))
		handle := newPollingHandle(dc.WorkflowID, e.SysDB, e.Serializer)
		return handle.GetResult(ec.Context())
	}

	errData, serr := e.Serializer.SerializeError(err)
	if serr != nil {
		e.Logger.Error("failed to serialize workflow error", zap.Error(serr))
	}
	if uerr := e.SysDB.UpdateWorkflowStatus(ec.Context(), WorkflowStatusInternal{
		WorkflowID: dc.WorkflowID,
		Status:     StatusError,
		Name:       info.Name,
		ClassName:  info.ClassName,
		ConfigName: info.ConfigName,
		Error:      errData,
	}, dc.InRecovery); uerr != nil {
		e.Logger.Error("failed to record workflow error status", zap.String("workflow_id", dc.WorkflowID), zap.Error(uerr))
	}
	e.Logger.Error("workflow failed", zap.String("workflow_id", dc.WorkflowID), zap.Error(err))
	return nil, err
}

// StartWorkflow submits info.Fn for asynchronous execution and returns a
// Handle bound to its eventual result. If explicitWorkflowID is empty,
// one is generated, or derived from the calling workflow's
// (id, function_id) when called from inside one.
func (e *Engine) StartWorkflow(ctx context.Context, info *WorkflowInfo, receiver, input interface{}, explicitWorkflowID string) (Handle, error) {
	caller := CurrentDBOSContext(ctx)

	var child *DBOSContext
	switch {
	case caller != nil && caller.IsWithinWorkflow() && !caller.IsWorkflow():
		return nil, NewDBOSException("cannot start a workflow from inside a step or transaction")
	case caller != nil && caller.IsWorkflow():
		fid := caller.NextFunctionID()
		child = caller.CreateChild()
		if explicitWorkflowID == "" {
			explicitWorkflowID = fmt.Sprintf("%s-%d", caller.WorkflowID, fid)
		}
	case caller != nil:
		// A non-workflow caller context (e.g. recovery's reconstructed
		// context) carries fields of its own that must survive into the
		// execution context.
		child = caller.shallowCopy()
	default:
		child = NewContext()
	}

	if child.AppID == "" {
		child.AppID = e.Name
	}
	if child.AppVersion == "" {
		child.AppVersion = e.AppVersion
	}
	if child.ExecutorID == "" {
		child.ExecutorID = e.ExecutorID
	}

	if explicitWorkflowID != "" {
		child.WorkflowID = explicitWorkflowID
	} else {
		child.WorkflowID = child.AssignWorkflowID()
	}

	serializedInput, err := e.Serializer.Serialize(input)
	if err != nil {
		return nil, fmt.Errorf("serialize workflow input: %w", err)
	}
	if serializedInput == nil {
		// Store a nil input as JSON null so recovery can tell it apart from
		// a missing inputs row.
		serializedInput = []byte("null")
	}

	if _, err := e.InitWorkflow(ctx, child, info, serializedInput, info.TempWFType); err != nil {
		return nil, err
	}

	future := newFutureResult()
	runCtx := WithDBOSContext(context.Background(), child)
	workflowID := child.WorkflowID

	submitErr := e.Pool.Submit(ctx, func() {
		ec := e.NewExecutionContext(runCtx)
		result, err := e.ExecuteWorkflow(ec, info, receiver, input)
		future.complete(result, err)
	})
	if submitErr != nil {
		return nil, fmt.Errorf("submit workflow %q: %w", workflowID, submitErr)
	}

	return newLocalFutureHandle(workflowID, future, e.SysDB), nil
}

// runAsSingletonWorkflow wraps op in a synthetic single-operation workflow
// whose status row is recorded under the name "<temp>.{name}", so a bare
// step/transaction call made outside any workflow still gets a durable
// umbrella. The synthetic workflow is not added to the Registry, so
// RecoverWorkflow cannot look it up by that name.
func (e *Engine) runAsSingletonWorkflow(ctx context.Context, name, tempWFType string, op func(ec *ExecutionContext) (interface{}, error)) (interface{}, error) {
	info := &WorkflowInfo{
		Name:       TempWorkflowPrefix + name,
		TempWFType: tempWFType,
		Fn: func(ec *ExecutionContext, receiver, input interface{}) (interface{}, error) {
			return op(ec)
		},
	}
	handle, err := e.StartWorkflow(ctx, info, nil, nil, "")
	if err != nil {
		return nil, err
	}
	return handle.GetResult(ctx)
}

type opentracingTag struct {
	key   string
	value interface{}
}

func (e *Engine) startSpan(ctx context.Context, operationName string, tags ...opentracingTag) (opentracing.Span, context.Context) {
	if e.Tracer == nil {
		return opentracing.NoopTracer{}.StartSpan(operationName), ctx
	}
	span := e.Tracer.StartSpan(operationName)
	for _, t := range tags {
		span.SetTag(t.key, t.value)
	}
	return span, opentracing.ContextWithSpan(ctx, span)
}
