package internal

import (
	"context"
	"sync"
)

// Handle is the client-facing accessor for an in-flight or completed
// workflow. GetStatus fails with *NonExistentWorkflowError if no status
// row exists for the id.
type Handle interface {
	GetWorkflowID() string
	GetResult(ctx context.Context) (interface{}, error)
	GetStatus(ctx context.Context) (*WorkflowStatusInternal, error)
}

// futureResult is a minimal one-shot future: the workflow's own goroutine
// calls complete exactly once, and any number of callers can block on Wait.
type futureResult struct {
	once   sync.Once
	done   chan struct{}
	output interface{}
	err    error
}

func newFutureResult() *futureResult {
	return &futureResult{done: make(chan struct{})}
}

func (f *futureResult) complete(output interface{}, err error) {
	f.once.Do(func() {
		f.output = output
		f.err = err
		close(f.done)
	})
}

func (f *futureResult) wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.output, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// localFutureHandle wraps an in-process completion future created when
// StartWorkflow submitted the execution to the worker pool.
type localFutureHandle struct {
	workflowID string
	future     *futureResult
	sysDB      SystemDatabase
}

func newLocalFutureHandle(workflowID string, future *futureResult, sysDB SystemDatabase) Handle {
	return &localFutureHandle{workflowID: workflowID, future: future, sysDB: sysDB}
}

func (h *localFutureHandle) GetWorkflowID() string { return h.workflowID }

func (h *localFutureHandle) GetResult(ctx context.Context) (interface{}, error) {
	return h.future.wait(ctx)
}

func (h *localFutureHandle) GetStatus(ctx context.Context) (*WorkflowStatusInternal, error) {
	return getStatusOrNotExist(ctx, h.sysDB, h.workflowID)
}

// pollingHandle is used for workflows started elsewhere (another process)
// or recovered from the database: it has no local future to wait on, so
// GetResult repeatedly consults the system database until the status row
// reaches a terminal state.
type pollingHandle struct {
	workflowID string
	sysDB      SystemDatabase
	serializer Serializer
}

func newPollingHandle(workflowID string, sysDB SystemDatabase, serializer Serializer) Handle {
	return &pollingHandle{workflowID: workflowID, sysDB: sysDB, serializer: serializer}
}

func (h *pollingHandle) GetWorkflowID() string { return h.workflowID }

func (h *pollingHandle) GetResult(ctx context.Context) (interface{}, error) {
	output, errData, err := h.sysDB.AwaitWorkflowResult(ctx, h.workflowID)
	if err != nil {
		return nil, err
	}
	if errData != nil {
		return nil, mustDeserializeError(h.serializer, errData)
	}
	var out interface{}
	if uerr := h.serializer.Deserialize(output, &out); uerr != nil {
		return nil, uerr
	}
	return out, nil
}

func mustDeserializeError(s Serializer, data []byte) error {
	err, derr := s.DeserializeError(data)
	if derr != nil {
		return derr
	}
	return err
}

func (h *pollingHandle) GetStatus(ctx context.Context) (*WorkflowStatusInternal, error) {
	return getStatusOrNotExist(ctx, h.sysDB, h.workflowID)
}

func getStatusOrNotExist(ctx context.Context, sysDB SystemDatabase, workflowID string) (*WorkflowStatusInternal, error) {
	status, err := sysDB.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, NewNonExistentWorkflowError(workflowID)
	}
	return status, nil
}
