package dbos

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/dbos-inc/dbos-transact-go/internal"
)

// StepFunc is the signature every step body must have.
type StepFunc func(ctx *Context, input interface{}) (interface{}, error)

// TransactionFunc is the signature every transaction body must have. tx is
// the open application-database transaction the function must use for its
// own writes, so they commit atomically with the OAOO record.
type TransactionFunc func(ctx *Context, tx pgx.Tx, input interface{}) (interface{}, error)

// StepOption customizes a single RunStep call.
type StepOption func(*stepOptions)

type stepOptions struct {
	retriesAllowed  bool
	intervalSeconds float64
	maxAttempts     int
	backoffRate     float64
}

const (
	defaultStepIntervalSeconds = 1.0
	defaultStepMaxAttempts     = 3
	defaultStepBackoffRate     = 2.0
)

// WithStepRetries enables the step retry ladder: up to maxAttempts tries,
// starting at intervalSeconds and multiplying by backoffRate after each
// failure, capped at one hour.
func WithStepRetries(maxAttempts int, intervalSeconds, backoffRate float64) StepOption {
	return func(o *stepOptions) {
		o.retriesAllowed = true
		o.maxAttempts = maxAttempts
		o.intervalSeconds = intervalSeconds
		o.backoffRate = backoffRate
	}
}

// RunStep executes fn once (or with retries per WithStepRetries), recording
// its result for once-and-only-once replay. Called outside any workflow,
// it is wrapped in a synthetic single-operation workflow first.
func (d *DBOS) RunStep(ctx context.Context, name string, fn StepFunc, input interface{}, opts ...StepOption) (interface{}, error) {
	o := &stepOptions{
		intervalSeconds: defaultStepIntervalSeconds,
		maxAttempts:     defaultStepMaxAttempts,
		backoffRate:     defaultStepBackoffRate,
	}
	for _, opt := range opts {
		opt(o)
	}
	return d.engine.RunStep(ctx, name, internal.StepFunction(fn), input, o.retriesAllowed, o.intervalSeconds, o.maxAttempts, o.backoffRate)
}

// TransactionOption customizes a single RunTransaction call.
type TransactionOption func(*transactionOptions)

type transactionOptions struct {
	isoLevel pgx.TxIsoLevel
}

// WithIsolationLevel overrides the default Serializable isolation.
func WithIsolationLevel(level pgx.TxIsoLevel) TransactionOption {
	return func(o *transactionOptions) { o.isoLevel = level }
}

// RunTransaction executes fn inside a single application-database
// transaction, retrying indefinitely on SQLSTATE 40001 (serialization
// failure). Called outside any workflow, it is wrapped in a synthetic
// single-operation workflow first.
func (d *DBOS) RunTransaction(ctx context.Context, name string, fn TransactionFunc, input interface{}, opts ...TransactionOption) (interface{}, error) {
	o := &transactionOptions{isoLevel: pgx.Serializable}
	for _, opt := range opts {
		opt(o)
	}
	return d.engine.RunTransaction(ctx, name, o.isoLevel, internal.TransactionFunction(fn), input)
}
