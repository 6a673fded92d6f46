package internal

// WorkflowStatusValue is the lifecycle state of a recorded workflow.
type WorkflowStatusValue string

const (
	StatusPending         WorkflowStatusValue = "PENDING"
	StatusSuccess         WorkflowStatusValue = "SUCCESS"
	StatusError           WorkflowStatusValue = "ERROR"
	StatusRetriesExceeded WorkflowStatusValue = "RETRIES_EXCEEDED"
)

// OperationType tags the kind of recorded operation a Context is currently
// inside of; it is also stamped onto every span as the "operationType"
// trace attribute.
type OperationType string

const (
	OperationTypeNone        OperationType = ""
	OperationTypeWorkflow    OperationType = "WORKFLOW"
	OperationTypeTransaction OperationType = "TRANSACTION"
	OperationTypeStep        OperationType = "STEP"
)

// Temp workflow types: a bare step/transaction call outside of any workflow
// is wrapped in a single-operation workflow of one of these flavors.
const (
	TempWorkflowTypeNone        = ""
	TempWorkflowTypeTransaction = "transaction"
	TempWorkflowTypeStep        = "step"
)

// TempSendWorkflowName is the workflow name recorded for the synthetic
// workflow that wraps a bare (outside-of-any-workflow) call to Send.
const TempSendWorkflowName = "<temp>.temp_send_workflow"

// TempWorkflowPrefix namespaces the workflow name recorded for every
// synthetic single-operation workflow run on behalf of a bare
// step/transaction call; these workflows are not added to the Registry.
const TempWorkflowPrefix = "<temp>."

// WorkflowStatusInternal is the persisted shape of the workflow_status
// system database row.
type WorkflowStatusInternal struct {
	WorkflowID         string
	Status             WorkflowStatusValue
	Name               string
	ClassName          string
	ConfigName         string
	Output             []byte
	Error              []byte
	AppID              string
	AppVersion         string
	ExecutorID         string
	Request            []byte
	AuthenticatedUser  string
	AuthenticatedRoles []string
	AssumedRole        string
	RecoveryAttempts   int64
}

// OperationResultInternal is the persisted shape of an operation_outputs
// (step) row, keyed by (workflow_id, function_id).
type OperationResultInternal struct {
	WorkflowID string
	FunctionID int
	Output     []byte
	Error      []byte
}

// TransactionResultInternal is the persisted shape of a transaction_outputs
// row, written in the same database transaction as the user's own writes.
type TransactionResultInternal struct {
	WorkflowID  string
	FunctionID  int
	Output      []byte
	Error       []byte
	TxnSnapshot string
	TxnID       string
	ExecutorID  string
}

// GetEventCallerContext carries the OAOO coordinates of a get_event call
// made from inside a workflow, so the call can be replayed without
// re-waiting.
type GetEventCallerContext struct {
	WorkflowID        string
	FunctionID        int
	TimeoutFunctionID int
}
