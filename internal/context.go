package internal

import (
	"context"

	"github.com/pborman/uuid"
	"go.uber.org/atomic"
)

// DBOSContext is the per-invocation ambient state carried across nested
// durable calls. It is mutable for the lifetime of a single workflow
// execution: the FunctionID counter advances as the workflow body invokes
// steps, transactions and child workflows. A *DBOSContext is carried
// inside a stdlib context.Context value (see WithDBOSContext/FromContext)
// rather than in a goroutine-local, since Go has no ambient task-local
// facility to hang it off instead.
type DBOSContext struct {
	WorkflowID                string
	functionID                *atomic.Int64
	IDAssignedForNextWorkflow string
	ParentWorkflowID          string
	InRecovery                bool
	OperationType             OperationType

	AuthenticatedUser  string
	AuthenticatedRoles []string
	AssumedRole        string
	Request            []byte

	AppID      string
	AppVersion string
	ExecutorID string
}

// NewContext returns a fresh root Context (function_id starts at 0, no
// workflow id assigned yet).
func NewContext() *DBOSContext {
	return &DBOSContext{functionID: atomic.NewInt64(0)}
}

// shallowCopy returns a new *DBOSContext with the same field values; used
// by the scoping helpers below so that nested scopes never mutate an
// ancestor's Context in place.
func (c *DBOSContext) shallowCopy() *DBOSContext {
	cp := *c
	cp.functionID = atomic.NewInt64(c.functionID.Load())
	return &cp
}

// CreateChild returns a Context for a child workflow: parent_workflow_id
// is this Context's workflow id, auth/request/provenance are inherited,
// and function_id restarts at 0.
func (c *DBOSContext) CreateChild() *DBOSContext {
	child := NewContext()
	child.ParentWorkflowID = c.WorkflowID
	child.AuthenticatedUser = c.AuthenticatedUser
	child.AuthenticatedRoles = append([]string(nil), c.AuthenticatedRoles...)
	child.AssumedRole = c.AssumedRole
	child.Request = c.Request
	child.AppID = c.AppID
	child.AppVersion = c.AppVersion
	child.ExecutorID = c.ExecutorID
	return child
}

// AssignWorkflowID generates a fresh globally unique id, stores it as
// IDAssignedForNextWorkflow, and returns it.
func (c *DBOSContext) AssignWorkflowID() string {
	id := uuid.NewUUID().String()
	c.IDAssignedForNextWorkflow = id
	return id
}

// NextFunctionID advances and returns the function_id counter. The first
// call on a fresh Context returns 1, so a workflow body invoking its
// operations in a deterministic order gets function_ids 1..N in that
// order on every replay.
func (c *DBOSContext) NextFunctionID() int {
	return int(c.functionID.Inc())
}

// CurrentFunctionID returns the counter's current value without advancing it.
func (c *DBOSContext) CurrentFunctionID() int {
	return int(c.functionID.Load())
}

// IsWithinWorkflow reports whether this Context is bound to a workflow id.
func (c *DBOSContext) IsWithinWorkflow() bool {
	return c != nil && c.WorkflowID != ""
}

// IsWorkflow reports whether this Context is within a workflow and not
// nested inside a step or transaction.
func (c *DBOSContext) IsWorkflow() bool {
	return c.IsWithinWorkflow() && c.OperationType == OperationTypeWorkflow
}

// IsStep reports whether this Context is currently inside a step.
func (c *DBOSContext) IsStep() bool {
	return c != nil && c.OperationType == OperationTypeStep
}

// IsTransaction reports whether this Context is currently inside a transaction.
func (c *DBOSContext) IsTransaction() bool {
	return c != nil && c.OperationType == OperationTypeTransaction
}

type dbosContextKey struct{}

// WithDBOSContext returns a derived context.Context carrying dc as the
// active DBOSContext. Because the returned context is only visible to
// calls the caller explicitly passes it to, this is the "push"; letting
// the derived context go out of scope (the normal Go calling-convention
// behavior, including on panics recovered by the caller) is the "pop" —
// no separate release call is needed.
func WithDBOSContext(parent context.Context, dc *DBOSContext) context.Context {
	return context.WithValue(parent, dbosContextKey{}, dc)
}

// FromContext extracts the active DBOSContext, if any.
func FromContext(ctx context.Context) (*DBOSContext, bool) {
	dc, ok := ctx.Value(dbosContextKey{}).(*DBOSContext)
	return dc, ok
}

// CurrentDBOSContext returns the active DBOSContext, or nil outside of any
// workflow/step/transaction.
func CurrentDBOSContext(ctx context.Context) *DBOSContext {
	dc, _ := FromContext(ctx)
	return dc
}

// WithSetWorkflowID returns a derived ctx whose DBOSContext (a copy of the
// current one, or a fresh one) has IDAssignedForNextWorkflow set to
// workflowID. StartWorkflow does not read IDAssignedForNextWorkflow: a
// started workflow's id comes only from its explicitWorkflowID argument
// (which is how RecoverWorkflow reuses the original id), from the calling
// workflow's (id, function_id), or from a freshly generated id.
func WithSetWorkflowID(ctx context.Context, workflowID string) context.Context {
	dc := CurrentDBOSContext(ctx)
	var child *DBOSContext
	if dc == nil {
		child = NewContext()
	} else {
		child = dc.shallowCopy()
	}
	child.IDAssignedForNextWorkflow = workflowID
	return WithDBOSContext(ctx, child)
}

// WithAssumedRole records the role the function's declared required-roles
// check resolved to, for the duration of the scope.
func WithAssumedRole(ctx context.Context, role string) context.Context {
	dc := CurrentDBOSContext(ctx)
	if dc == nil {
		return ctx
	}
	child := dc.shallowCopy()
	child.AssumedRole = role
	return WithDBOSContext(ctx, child)
}
