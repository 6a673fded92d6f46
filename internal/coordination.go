package internal

import "context"

// Send delivers message to destinationID's FIFO queue on topic. A bare
// call outside any workflow is routed through the synthetic
// temp_send_workflow so it still runs under a durable umbrella.
func (e *Engine) Send(ctx context.Context, destinationID string, message []byte, topic string) error {
	dc := CurrentDBOSContext(ctx)
	if dc == nil || !dc.IsWithinWorkflow() {
		_, err := e.runAsSingletonWorkflow(ctx, "temp_send_workflow", TempWorkflowTypeNone, func(ec *ExecutionContext) (interface{}, error) {
			return nil, e.Send(ec.Context(), destinationID, message, topic)
		})
		return err
	}
	functionID := dc.NextFunctionID()
	return e.SysDB.Send(ctx, dc.WorkflowID, functionID, destinationID, message, topic)
}

// Recv waits up to timeoutSeconds for a message on topic, returning
// (nil, false, nil) on timeout. Must be called from inside a workflow; it
// reserves two function ids so a replay reproduces the same wake pattern
// without waiting again.
func (e *Engine) Recv(ctx context.Context, topic string, timeoutSeconds float64) ([]byte, bool, error) {
	dc := CurrentDBOSContext(ctx)
	if dc == nil || !dc.IsWithinWorkflow() {
		return nil, false, NewDBOSException("recv must be called from inside a workflow")
	}
	functionID := dc.NextFunctionID()
	timeoutFunctionID := dc.NextFunctionID()
	return e.SysDB.Recv(ctx, dc.WorkflowID, functionID, timeoutFunctionID, topic, timeoutSeconds)
}

// SetEvent upserts (workflow_id, key) -> value and wakes current waiters.
// Must be called from inside a workflow.
func (e *Engine) SetEvent(ctx context.Context, key string, value []byte) error {
	dc := CurrentDBOSContext(ctx)
	if dc == nil || !dc.IsWithinWorkflow() {
		return NewDBOSException("set_event must be called from inside a workflow")
	}
	functionID := dc.NextFunctionID()
	return e.SysDB.SetEvent(ctx, dc.WorkflowID, functionID, key, value)
}

// GetEvent waits up to timeoutSeconds for targetWorkflowID's key to appear,
// returning (nil, false, nil) on timeout. May be called inside or outside
// a workflow; inside, it is OAOO-replayable like recv, outside it is an
// uncorrelated read with no replay bookkeeping.
func (e *Engine) GetEvent(ctx context.Context, targetWorkflowID, key string, timeoutSeconds float64) ([]byte, bool, error) {
	dc := CurrentDBOSContext(ctx)
	if dc != nil && dc.IsWithinWorkflow() {
		caller := &GetEventCallerContext{
			WorkflowID:        dc.WorkflowID,
			FunctionID:        dc.NextFunctionID(),
			TimeoutFunctionID: dc.NextFunctionID(),
		}
		return e.SysDB.GetEvent(ctx, targetWorkflowID, key, timeoutSeconds, caller)
	}
	return e.SysDB.GetEvent(ctx, targetWorkflowID, key, timeoutSeconds, nil)
}
