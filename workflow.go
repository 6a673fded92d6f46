package dbos

import (
	"context"

	"github.com/dbos-inc/dbos-transact-go/internal"
)

// Context is what every registered workflow, step and transaction body
// receives as its first argument: the durable-operation handle back into
// the owning DBOS instance.
type Context = internal.ExecutionContext

// Handle is the client-facing accessor for an in-flight or completed
// workflow.
type Handle = internal.Handle

// WorkflowFunc is the signature every registered workflow body must have.
// receiver is nil for a plain function; for an instance method it is the
// object registered via RegisterInstance/RegisterClass, re-bound on
// recovery rather than serialized into input.
type WorkflowFunc func(ctx *Context, receiver interface{}, input interface{}) (interface{}, error)

// RegisterWorkflow binds name to fn, so StartWorkflow and recovery can look
// it up by name.
func (d *DBOS) RegisterWorkflow(name string, fn WorkflowFunc) {
	d.engine.Registry.RegisterWorkflow(&internal.WorkflowInfo{
		Name: name,
		Fn:   internal.WorkflowFunction(fn),
	})
}

// RegisterClassWorkflow binds name to fn as a method of className: on
// recovery the receiver is looked up from the class binding registered via
// RegisterClass rather than an instance.
func (d *DBOS) RegisterClassWorkflow(className, name string, fn WorkflowFunc) {
	d.engine.Registry.RegisterWorkflow(&internal.WorkflowInfo{
		Name:      name,
		Fn:        internal.WorkflowFunction(fn),
		ClassName: className,
	})
}

// RegisterInstanceWorkflow binds name to fn as a method of an instance
// identified by (className, configName); RegisterInstance must also be
// called with the same coordinates before any workflow of this name runs.
func (d *DBOS) RegisterInstanceWorkflow(className, configName, name string, fn WorkflowFunc) {
	d.engine.Registry.RegisterWorkflow(&internal.WorkflowInfo{
		Name:       name,
		Fn:         internal.WorkflowFunction(fn),
		ClassName:  className,
		ConfigName: configName,
	})
}

// RegisterClass records the (non-serializable) binding object recovery
// re-prepends as the receiver for a class-level workflow.
func (d *DBOS) RegisterClass(className string, binding interface{}) {
	d.engine.Registry.RegisterClass(className, binding)
}

// RegisterInstance records the (non-serializable) binding object recovery
// re-prepends as the receiver for an instance-level workflow.
func (d *DBOS) RegisterInstance(className, configName string, instance interface{}) {
	d.engine.Registry.RegisterInstance(className, configName, instance)
}

// StartWorkflowOption customizes a single StartWorkflow call.
type StartWorkflowOption func(*startWorkflowOptions)

type startWorkflowOptions struct {
	workflowID string
}

// WithWorkflowID pins the started workflow to an explicit id, instead of
// generating one or deriving it from the calling workflow.
func WithWorkflowID(workflowID string) StartWorkflowOption {
	return func(o *startWorkflowOptions) { o.workflowID = workflowID }
}

// StartWorkflow asynchronously begins the workflow registered under name,
// with receiver prepended the way Registry expects, and returns a Handle
// bound to its eventual result.
func (d *DBOS) StartWorkflow(ctx context.Context, name string, receiver, input interface{}, opts ...StartWorkflowOption) (Handle, error) {
	info, ok := d.engine.Registry.LookupWorkflow(name)
	if !ok {
		return nil, internal.NewWorkflowFunctionNotFoundError(name, "no workflow registered under this name")
	}
	o := &startWorkflowOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return d.engine.StartWorkflow(ctx, info, receiver, input, o.workflowID)
}

// RunWorkflow starts the named workflow and blocks for its result, the
// synchronous convenience wrapper over StartWorkflow+GetResult.
func (d *DBOS) RunWorkflow(ctx context.Context, name string, receiver, input interface{}, opts ...StartWorkflowOption) (interface{}, error) {
	handle, err := d.StartWorkflow(ctx, name, receiver, input, opts...)
	if err != nil {
		return nil, err
	}
	return handle.GetResult(ctx)
}

// RecoverWorkflow re-dispatches a PENDING (or abandoned in-progress)
// workflow by id.
func (d *DBOS) RecoverWorkflow(ctx context.Context, workflowID string) (Handle, error) {
	return d.engine.RecoverWorkflow(ctx, workflowID)
}
