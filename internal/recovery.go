package internal

import (
	"context"
	"fmt"
)

// RecoverWorkflow re-dispatches a PENDING (or abandoned in-progress)
// workflow by id. Every already-completed sub-operation short-circuits on
// its recorded result, so only the un-executed tail of the workflow body
// actually runs.
func (e *Engine) RecoverWorkflow(ctx context.Context, workflowID string) (Handle, error) {
	status, err := e.SysDB.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("recover %q: %w", workflowID, err)
	}
	if status == nil {
		return nil, NewRecoveryError(workflowID, "missing status row")
	}

	inputsData, err := e.SysDB.GetWorkflowInputs(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("recover %q: %w", workflowID, err)
	}
	if inputsData == nil {
		return nil, NewRecoveryError(workflowID, "missing inputs row")
	}

	info, ok := e.Registry.LookupWorkflow(status.Name)
	if !ok {
		return nil, NewWorkflowFunctionNotFoundError(workflowID, fmt.Sprintf("no workflow registered under name %q", status.Name))
	}

	var receiver interface{}
	switch {
	case status.ConfigName != "":
		inst, found := e.Registry.LookupInstance(status.ClassName, status.ConfigName)
		if !found {
			return nil, NewWorkflowFunctionNotFoundError(workflowID, fmt.Sprintf("no instance registered for %q/%q", status.ClassName, status.ConfigName))
		}
		receiver = inst
	case status.ClassName != "":
		cls, found := e.Registry.LookupClass(status.ClassName)
		if !found {
			return nil, NewWorkflowFunctionNotFoundError(workflowID, fmt.Sprintf("no class registered under %q", status.ClassName))
		}
		receiver = cls
	}

	var input interface{}
	if err := e.Serializer.Deserialize(inputsData, &input); err != nil {
		return nil, fmt.Errorf("recover %q: deserialize inputs: %w", workflowID, err)
	}

	recoverDC := NewContext()
	recoverDC.Request = status.Request
	recoverDC.InRecovery = true
	recoverDC.AuthenticatedUser = status.AuthenticatedUser
	recoverDC.AuthenticatedRoles = status.AuthenticatedRoles
	recoverDC.AssumedRole = status.AssumedRole
	recoverDC.AppID = status.AppID
	recoverDC.AppVersion = status.AppVersion

	recoverCtx := WithDBOSContext(ctx, recoverDC)
	return e.StartWorkflow(recoverCtx, info, receiver, input, workflowID)
}
