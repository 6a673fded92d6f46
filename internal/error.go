// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package internal

import (
	"errors"
	"fmt"
)

/*
Every error this library raises on the durable-execution path embeds
dbosError, which carries an optional cause for errors.Unwrap/errors.As
chains. Recorded errors are serialized as {kind, message} (see
serializer.go) and reconstructed into the matching concrete type on
replay, so a second reader of a previously-recorded error observes the
same identifying kind even though it is not the same Go error value.
*/

type dbosError struct {
	message string
	cause   error
}

func (e *dbosError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *dbosError) Unwrap() error { return e.cause }

// errorKind is the stable identifying tag stored alongside a serialized
// error so it can be reconstructed into the right concrete type.
type errorKind string

const (
	kindGeneric                  errorKind = "DBOSException"
	kindWorkflowConflictID       errorKind = "WorkflowConflictID"
	kindNonExistentWorkflow      errorKind = "NonExistentWorkflow"
	kindWorkflowFunctionNotFound errorKind = "WorkflowFunctionNotFound"
	kindRecoveryError            errorKind = "RecoveryError"
	kindMaxStepRetriesExceeded   errorKind = "MaxStepRetriesExceeded"
	kindCorruptRecord            errorKind = "CorruptRecord"
)

// DBOSException is the generic precondition error: invocation before
// launch, coordination primitives called outside a workflow, etc.
type DBOSException struct{ dbosError }

func NewDBOSException(message string) *DBOSException {
	return &DBOSException{dbosError{message: message}}
}

// WorkflowConflictIDError means another executor has already started (or
// is concurrently starting) this workflow id; the caller should await the
// existing execution instead of running the body again.
type WorkflowConflictIDError struct {
	dbosError
	WorkflowID string
}

func NewWorkflowConflictIDError(workflowID string) *WorkflowConflictIDError {
	return &WorkflowConflictIDError{
		dbosError:  dbosError{message: fmt.Sprintf("workflow %q is already running", workflowID)},
		WorkflowID: workflowID,
	}
}

// NonExistentWorkflowError is returned by Handle.GetStatus when no status
// row exists for the given workflow id.
type NonExistentWorkflowError struct {
	dbosError
	WorkflowID string
}

func NewNonExistentWorkflowError(workflowID string) *NonExistentWorkflowError {
	return &NonExistentWorkflowError{
		dbosError:  dbosError{message: fmt.Sprintf("workflow %q does not exist", workflowID)},
		WorkflowID: workflowID,
	}
}

// WorkflowFunctionNotFoundError is raised during recovery, or by
// StartWorkflow, when the registry has no function for the recorded name
// (or the recorded class/instance binding is missing).
type WorkflowFunctionNotFoundError struct {
	dbosError
	WorkflowID string
}

func NewWorkflowFunctionNotFoundError(workflowID, reason string) *WorkflowFunctionNotFoundError {
	return &WorkflowFunctionNotFoundError{
		dbosError:  dbosError{message: fmt.Sprintf("workflow %q: %s", workflowID, reason)},
		WorkflowID: workflowID,
	}
}

// RecoveryError is raised when a workflow id cannot be recovered because
// its status or inputs row is missing.
type RecoveryError struct {
	dbosError
	WorkflowID string
}

func NewRecoveryError(workflowID, reason string) *RecoveryError {
	return &RecoveryError{
		dbosError:  dbosError{message: fmt.Sprintf("cannot recover workflow %q: %s", workflowID, reason)},
		WorkflowID: workflowID,
	}
}

// MaxStepRetriesExceededError replaces the step's underlying last-attempt
// error once its retry budget is exhausted; the underlying error is only
// logged, never recorded or re-raised.
type MaxStepRetriesExceededError struct {
	dbosError
	MaxAttempts int
}

func NewMaxStepRetriesExceededError(maxAttempts int, cause error) *MaxStepRetriesExceededError {
	return &MaxStepRetriesExceededError{
		dbosError:   dbosError{message: fmt.Sprintf("step exceeded its maximum of %d attempt(s)", maxAttempts), cause: cause},
		MaxAttempts: maxAttempts,
	}
}

// corruptRecordError is raised when a recorded operation has neither an
// output nor an error, which should be unreachable but is treated as a
// hard failure rather than silently ignored.
type corruptRecordError struct {
	dbosError
	WorkflowID string
	FunctionID int
}

func newCorruptRecordError(workflowID string, functionID int) *corruptRecordError {
	return &corruptRecordError{
		dbosError:  dbosError{message: fmt.Sprintf("operation record (%s, %d) has neither output nor error", workflowID, functionID)},
		WorkflowID: workflowID,
		FunctionID: functionID,
	}
}

func kindOf(err error) errorKind {
	switch {
	case asError[*WorkflowConflictIDError](err):
		return kindWorkflowConflictID
	case asError[*NonExistentWorkflowError](err):
		return kindNonExistentWorkflow
	case asError[*WorkflowFunctionNotFoundError](err):
		return kindWorkflowFunctionNotFound
	case asError[*RecoveryError](err):
		return kindRecoveryError
	case asError[*MaxStepRetriesExceededError](err):
		return kindMaxStepRetriesExceeded
	case asError[*corruptRecordError](err):
		return kindCorruptRecord
	case asError[*DBOSException](err):
		return kindGeneric
	default:
		return kindGeneric
	}
}

func asError[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// reconstructError rebuilds a structured error from its stored kind and
// message. Exact runtime-type equivalence with the original error is not
// required; only the identifying kind and the message are preserved.
func reconstructError(kind errorKind, message string) error {
	switch kind {
	case kindWorkflowConflictID:
		return &WorkflowConflictIDError{dbosError: dbosError{message: message}}
	case kindNonExistentWorkflow:
		return &NonExistentWorkflowError{dbosError: dbosError{message: message}}
	case kindWorkflowFunctionNotFound:
		return &WorkflowFunctionNotFoundError{dbosError: dbosError{message: message}}
	case kindRecoveryError:
		return &RecoveryError{dbosError: dbosError{message: message}}
	case kindMaxStepRetriesExceeded:
		return &MaxStepRetriesExceededError{dbosError: dbosError{message: message}}
	case kindCorruptRecord:
		return &corruptRecordError{dbosError: dbosError{message: message}}
	default:
		return &DBOSException{dbosError: dbosError{message: message}}
	}
}
