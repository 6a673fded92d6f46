package internal

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// Engine owns every collaborator a running workflow needs to reach: the
// durability stores, the registry and the ambient logging/metrics/
// tracing/clock stack. One Engine backs one dbos.Launch. The wake-up bus
// is a dependency of the SystemDatabase implementation, not of the
// Engine: recv/get_event always go through SysDB, which is free to use a
// bus internally to avoid polling.
type Engine struct {
	Name       string
	AppVersion string
	ExecutorID string

	SysDB    SystemDatabase
	AppDB    ApplicationDatabase
	Registry *Registry

	Serializer Serializer
	Logger     *zap.Logger
	Scope      tally.Scope
	Tracer     opentracing.Tracer
	Clock      clock.Clock

	Pool *WorkerPool
}

// NewExecutionContext binds ctx (carrying a *DBOSContext) to e, producing
// the value passed to every workflow/step/transaction function body.
func (e *Engine) NewExecutionContext(ctx context.Context) *ExecutionContext {
	return &ExecutionContext{ctx: ctx, engine: e}
}

// ExecutionContext is what registered workflow, step and transaction
// bodies receive as their first argument. It is a thin wrapper over the
// stdlib context.Context plus a back-reference to the Engine, so a
// function body can invoke nested durable operations without a
// package-level global.
type ExecutionContext struct {
	ctx    context.Context
	engine *Engine
}

// Context returns the underlying stdlib context, for cancellation,
// deadlines and passing to non-durable library calls.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// Engine returns the owning Engine.
func (e *ExecutionContext) Engine() *Engine { return e.engine }

// DBOSContext returns the active DBOSContext, or nil if e.ctx somehow
// carries none (should not happen for a context an Engine constructed).
func (e *ExecutionContext) DBOSContext() *DBOSContext {
	return CurrentDBOSContext(e.ctx)
}

// withContext returns a copy of e with its stdlib context replaced, used
// when a nested call derives a new DBOSContext (child workflow, new
// operation type) and must hand the updated value down to a sub-call.
func (e *ExecutionContext) withContext(ctx context.Context) *ExecutionContext {
	return &ExecutionContext{ctx: ctx, engine: e.engine}
}
