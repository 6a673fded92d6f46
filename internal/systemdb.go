package internal

import "context"

// SystemDatabase is the durability boundary every workflow, step and
// coordination primitive ultimately reads from and writes to. Two
// implementations exist: systemdb.PostgresSystemDatabase for production
// and an in-memory one for tests; the Engine depends only on
// this interface.
type SystemDatabase interface {
	// UpdateWorkflowStatus writes status synchronously. Without inRecovery,
	// a row already in a terminal status is left as it is. With inRecovery,
	// the existing row is overwritten and its RecoveryAttempts incremented.
	UpdateWorkflowStatus(ctx context.Context, status WorkflowStatusInternal, inRecovery bool) error

	// BufferWorkflowStatus enqueues status for asynchronous flushing; used
	// for the SUCCESS terminal write (PENDING and ERROR writes go through
	// UpdateWorkflowStatus synchronously).
	BufferWorkflowStatus(status WorkflowStatusInternal)

	UpdateWorkflowInputs(ctx context.Context, workflowID string, inputs []byte) error
	BufferWorkflowInputs(workflowID string, inputs []byte)

	// GetWorkflowStatus returns nil, nil if no row exists for workflowID.
	GetWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusInternal, error)
	GetWorkflowInputs(ctx context.Context, workflowID string) ([]byte, error)

	// AwaitWorkflowResult blocks until workflowID reaches a terminal status.
	// Exactly one of the two returned byte slices is non-nil: output for
	// SUCCESS, errData (still in the caller's Serializer wire format, for
	// DeserializeError) for ERROR/RETRIES_EXCEEDED. The error return is
	// reserved for plumbing failures (e.g. ctx cancellation).
	AwaitWorkflowResult(ctx context.Context, workflowID string) (output []byte, errData []byte, err error)

	CheckOperationExecution(ctx context.Context, workflowID string, functionID int) (*OperationResultInternal, error)
	RecordOperationResult(ctx context.Context, result OperationResultInternal) error

	Send(ctx context.Context, workflowID string, functionID int, destinationID string, message []byte, topic string) error
	Recv(ctx context.Context, workflowID string, functionID, timeoutFunctionID int, topic string, timeoutSeconds float64) ([]byte, bool, error)

	SetEvent(ctx context.Context, workflowID string, functionID int, key string, value []byte) error
	GetEvent(ctx context.Context, targetWorkflowID, key string, timeoutSeconds float64, caller *GetEventCallerContext) ([]byte, bool, error)

	Shutdown(ctx context.Context) error
}
