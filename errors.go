package dbos

import "github.com/dbos-inc/dbos-transact-go/internal"

// Error types a caller can match against with errors.As.
type (
	DBOSException                = internal.DBOSException
	WorkflowConflictIDError       = internal.WorkflowConflictIDError
	NonExistentWorkflowError      = internal.NonExistentWorkflowError
	WorkflowFunctionNotFoundError = internal.WorkflowFunctionNotFoundError
	RecoveryError                 = internal.RecoveryError
	MaxStepRetriesExceededError   = internal.MaxStepRetriesExceededError
)
