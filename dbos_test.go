package dbos

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dbos-inc/dbos-transact-go/config"
	"github.com/dbos-inc/dbos-transact-go/internal"
)

func TestMain(m *testing.M) {
	os.Exit(func() int {
		goleakOpts := []goleak.Option{
			// goleak.Find retries for a while before reporting, which
			// gives worker goroutines time to exit after Shutdown;
			// goroutines parked in the network poller are ignored.
			goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		}
		code := m.Run()
		if code == 0 {
			if err := goleak.Find(goleakOpts...); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}
		return code
	}())
}

func testConfig(name string) *config.Config {
	return &config.Config{
		Name:     name,
		Database: config.Database{Hostname: "unused"},
		Runtime:  config.Runtime{Workers: 8, StartRatePerSecond: 1000},
	}
}

func newTestDBOS(t *testing.T) *DBOS {
	t.Helper()
	d, err := Launch(context.Background(), testConfig(t.Name()),
		WithInMemoryStores(),
		WithTracer(opentracing.NoopTracer{}),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
	})
	return d
}

// decode unwraps the JSON the default serializer wrapped an interface{} in,
// since every step/transaction/workflow output round-trips through it.
func decode(t *testing.T, data []byte) interface{} {
	t.Helper()
	var out interface{}
	require.NoError(t, internal.DefaultSerializer.Deserialize(data, &out))
	return out
}

// toInt coerces a step result to int regardless of whether it came back as
// the original Go value (a fresh run) or as a JSON-decoded float64 (a
// recorded value replayed through the serializer).
func toInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	default:
		return 0
	}
}

// --- Basic durable workflow: two steps summed into the workflow result ----

func TestWorkflowRunsStepsAndReturnsResult(t *testing.T) {
	d := newTestDBOS(t)

	d.RegisterWorkflow("sum-two-steps", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		out1, err := d.RunStep(ctx.Context(), "step1", func(*Context, interface{}) (interface{}, error) {
			return 10, nil
		}, nil)
		if err != nil {
			return nil, err
		}
		out2, err := d.RunStep(ctx.Context(), "step2", func(*Context, interface{}) (interface{}, error) {
			return 20, nil
		}, nil)
		if err != nil {
			return nil, err
		}
		return toInt(out1) + toInt(out2), nil
	})

	handle, err := d.StartWorkflow(context.Background(), "sum-two-steps", nil, 5)
	require.NoError(t, err)

	// A locally started workflow's Handle resolves via the in-process
	// future, which carries the body's raw Go return value rather than a
	// JSON round trip, so the result is a plain int here.
	result, err := handle.GetResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, result)

	status, err := handle.GetStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, internal.StatusSuccess, status.Status)
	require.Equal(t, float64(30), decode(t, status.Output))

	op1, err := d.engine.SysDB.CheckOperationExecution(context.Background(), handle.GetWorkflowID(), 1)
	require.NoError(t, err)
	require.NotNil(t, op1)
	require.Equal(t, float64(10), decode(t, op1.Output))

	op2, err := d.engine.SysDB.CheckOperationExecution(context.Background(), handle.GetWorkflowID(), 2)
	require.NoError(t, err)
	require.NotNil(t, op2)
	require.Equal(t, float64(20), decode(t, op2.Output))
}

// --- Replay skips already-completed steps ---------------------------------

func TestWorkflowReplaySkipsCompletedSteps(t *testing.T) {
	d := newTestDBOS(t)

	var step1Calls int32
	workflowID := "replay-skip-wf"

	body := func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		out1, err := d.RunStep(ctx.Context(), "step1", func(*Context, interface{}) (interface{}, error) {
			atomic.AddInt32(&step1Calls, 1)
			return 10, nil
		}, nil)
		if err != nil {
			return nil, err
		}
		out2, err := d.RunStep(ctx.Context(), "step2", func(*Context, interface{}) (interface{}, error) {
			return 20, nil
		}, nil)
		if err != nil {
			return nil, err
		}
		// toInt tolerates both the raw int a fresh run produces and the
		// float64 a replayed, already-recorded step returns.
		return toInt(out1) + toInt(out2), nil
	}
	d.RegisterWorkflow("replay-skip", body)

	handle, err := d.StartWorkflow(context.Background(), "replay-skip", nil, nil, WithWorkflowID(workflowID))
	require.NoError(t, err)
	result, err := handle.GetResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, result)
	require.Equal(t, int32(1), atomic.LoadInt32(&step1Calls))

	// Replay: same workflow id, a fresh function-id counter, driving the
	// same body directly as recovery would re-dispatch it. Step 1's
	// recorded result must short-circuit the real function body.
	dc := internal.NewContext()
	dc.WorkflowID = workflowID
	dc.OperationType = internal.OperationTypeWorkflow
	dc.InRecovery = true
	replayCtx := internal.WithDBOSContext(context.Background(), dc)
	ec := d.engine.NewExecutionContext(replayCtx)

	replayed, err := body(ec, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 30, replayed)
	require.Equal(t, int32(1), atomic.LoadInt32(&step1Calls), "step1's body must not run again on replay")
}

// --- Child workflow id is deterministic ------------------------------------

func TestChildWorkflowIDIsDeterministic(t *testing.T) {
	d := newTestDBOS(t)

	var childStepCalls int32
	d.RegisterWorkflow("child-step", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		return d.RunStep(ctx.Context(), "child.step", func(*Context, interface{}) (interface{}, error) {
			atomic.AddInt32(&childStepCalls, 1)
			return 99, nil
		}, nil)
	})

	var childHandle Handle
	d.RegisterWorkflow("parent-starts-child", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		h, err := d.StartWorkflow(ctx.Context(), "child-step", nil, nil)
		if err != nil {
			return nil, err
		}
		childHandle = h
		return h.GetResult(ctx.Context())
	})

	handle, err := d.StartWorkflow(context.Background(), "parent-starts-child", nil, nil, WithWorkflowID("p1"))
	require.NoError(t, err)
	_, err = handle.GetResult(context.Background())
	require.NoError(t, err)

	require.Equal(t, "p1-1", childHandle.GetWorkflowID())
	require.Equal(t, int32(1), atomic.LoadInt32(&childStepCalls))

	// Replay the child's inner step directly under its existing id: the
	// recorded row must short-circuit the real function body rather than
	// re-running it.
	dc := internal.NewContext()
	dc.WorkflowID = childHandle.GetWorkflowID()
	dc.OperationType = internal.OperationTypeWorkflow
	ec := d.engine.NewExecutionContext(internal.WithDBOSContext(context.Background(), dc))
	out, err := d.RunStep(ec.Context(), "child.step", func(*Context, interface{}) (interface{}, error) {
		atomic.AddInt32(&childStepCalls, 1)
		return 99, nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, float64(99), out)
	require.Equal(t, int32(1), atomic.LoadInt32(&childStepCalls), "child's step must not re-run once its result is recorded")
}

// --- send/recv deliver messages in FIFO order ------------------------------

func TestSendRecvDeliverMessagesInFIFOOrder(t *testing.T) {
	d := newTestDBOS(t)

	d.RegisterWorkflow("fifo-receiver", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		first, ok, err := d.Recv(ctx.Context(), "t", 2.0)
		if err != nil || !ok {
			return nil, fmt.Errorf("first recv failed: ok=%v err=%w", ok, err)
		}
		second, ok, err := d.Recv(ctx.Context(), "t", 2.0)
		if err != nil || !ok {
			return nil, fmt.Errorf("second recv failed: ok=%v err=%w", ok, err)
		}
		return []string{string(first), string(second)}, nil
	})

	require.NoError(t, d.Send(context.Background(), "dest-wf", []byte("a"), "t"))
	require.NoError(t, d.Send(context.Background(), "dest-wf", []byte("b"), "t"))

	result, err := d.RunWorkflow(context.Background(), "fifo-receiver", nil, nil, WithWorkflowID("dest-wf"))
	require.NoError(t, err)
	// RunWorkflow resolves through the same in-process future as
	// StartWorkflow+GetResult, so the body's raw []string return value
	// survives without a JSON round trip.
	require.Equal(t, []string{"a", "b"}, result)
}

// --- A recv that times out is recorded and not re-waited on replay --------

func TestRecvTimeoutIsReplayableWithoutReWaiting(t *testing.T) {
	d := newTestDBOS(t)

	d.RegisterWorkflow("recv-timeout", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		_, ok, err := d.Recv(ctx.Context(), "nothing", 0.05)
		return ok, err
	})

	handle, err := d.StartWorkflow(context.Background(), "recv-timeout", nil, nil, WithWorkflowID("recv-timeout-wf"))
	require.NoError(t, err)
	result, err := handle.GetResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, false, result)

	// Replay the same recv call (function id 1): it must return
	// immediately with the recorded "not delivered" outcome, not wait again.
	dc := internal.NewContext()
	dc.WorkflowID = "recv-timeout-wf"
	dc.OperationType = internal.OperationTypeWorkflow
	ec := d.engine.NewExecutionContext(internal.WithDBOSContext(context.Background(), dc))

	start := time.Now()
	msg, ok, err := d.Recv(ec.Context(), "nothing", 5.0)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, msg)
	require.Less(t, elapsed, time.Second, "a replayed recv must not re-wait for its timeout")
}

// --- A terminal status is write-once ---------------------------------------

func TestTerminalStatusIsWriteOnce(t *testing.T) {
	d := newTestDBOS(t)

	require.NoError(t, d.engine.SysDB.UpdateWorkflowStatus(context.Background(), internal.WorkflowStatusInternal{
		WorkflowID: "wf-once", Status: internal.StatusSuccess, Output: []byte(`"first"`),
	}, false))
	require.NoError(t, d.engine.SysDB.UpdateWorkflowStatus(context.Background(), internal.WorkflowStatusInternal{
		WorkflowID: "wf-once", Status: internal.StatusError, Error: []byte(`"second"`),
	}, false))

	status, err := d.engine.SysDB.GetWorkflowStatus(context.Background(), "wf-once")
	require.NoError(t, err)
	require.Equal(t, internal.StatusSuccess, status.Status)
	require.Equal(t, []byte(`"first"`), status.Output)
}

// --- Function ids are assigned 1..N in call order --------------------------

func TestFunctionIDsAreAssignedSequentially(t *testing.T) {
	d := newTestDBOS(t)

	var ids []int
	d.RegisterWorkflow("sequential-steps", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		for i := 0; i < 3; i++ {
			name := fmt.Sprintf("step-%d", i)
			_, err := d.RunStep(ctx.Context(), name, func(*Context, interface{}) (interface{}, error) {
				ids = append(ids, ctx.DBOSContext().CurrentFunctionID())
				return nil, nil
			}, nil)
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	handle, err := d.StartWorkflow(context.Background(), "sequential-steps", nil, nil)
	require.NoError(t, err)
	_, err = handle.GetResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, ids)
}

// --- Transaction retries on SQLSTATE 40001 serialization conflicts --------

func TestTransactionRetriesOnSerializationConflict(t *testing.T) {
	d := newTestDBOS(t)

	var attempts int32
	d.RegisterWorkflow("serialization-conflict", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		return d.RunTransaction(ctx.Context(), "conflicted-txn", func(_ *Context, _ pgx.Tx, _ interface{}) (interface{}, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
			}
			return "committed", nil
		}, nil)
	})

	start := time.Now()
	handle, err := d.StartWorkflow(context.Background(), "serialization-conflict", nil, nil)
	require.NoError(t, err)
	result, err := handle.GetResult(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, "committed", result)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	// 1ms + 1.5ms backoff between the two failed attempts; generous upper
	// bound to absorb scheduler jitter without asserting on the underlying
	// clock implementation.
	require.Less(t, elapsed, 200*time.Millisecond)

	op, err := d.engine.AppDB.CheckTransactionExecution(context.Background(), nil, handle.GetWorkflowID(), 1)
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, `"committed"`, string(op.Output))
}

// --- A step exhausts its retries and fails with a typed error -------------

func TestStepFailsAfterExhaustingRetries(t *testing.T) {
	d := newTestDBOS(t)

	var attempts int32
	d.RegisterWorkflow("always-failing-step", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		return d.RunStep(ctx.Context(), "always-fails", func(*Context, interface{}) (interface{}, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, fmt.Errorf("boom")
		}, nil, WithStepRetries(3, 0.001, 2.0))
	})

	handle, err := d.StartWorkflow(context.Background(), "always-failing-step", nil, nil)
	require.NoError(t, err)
	_, err = handle.GetResult(context.Background())
	require.Error(t, err)

	var maxRetries *MaxStepRetriesExceededError
	require.ErrorAs(t, err, &maxRetries)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

// --- Coordination: set_event / get_event ----------------------------------

func TestSetEventGetEvent(t *testing.T) {
	d := newTestDBOS(t)

	d.RegisterWorkflow("event.setter", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		return nil, d.SetEvent(ctx.Context(), "progress", []byte(`"50%"`))
	})

	handle, err := d.StartWorkflow(context.Background(), "event.setter", nil, nil, WithWorkflowID("event-wf"))
	require.NoError(t, err)
	_, err = handle.GetResult(context.Background())
	require.NoError(t, err)

	value, ok, err := d.GetEvent(context.Background(), "event-wf", "progress", 1.0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`"50%"`), value)
}

// --- Recovery: RecoverWorkflow re-dispatches a pending workflow -----------

func TestRecoverWorkflowRedispatchesPendingWorkflow(t *testing.T) {
	d := newTestDBOS(t)

	var calls int32
	d.RegisterWorkflow("recoverable.workflow", func(ctx *Context, _ interface{}, input interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return d.RunStep(ctx.Context(), "recoverable.step", func(*Context, interface{}) (interface{}, error) {
			return input, nil
		}, nil)
	})

	// Simulate a PENDING row left behind by a crashed executor: write the
	// status and inputs directly, without ever running the body.
	serializedInput, err := internal.DefaultSerializer.Serialize(42)
	require.NoError(t, err)
	require.NoError(t, d.engine.SysDB.UpdateWorkflowStatus(context.Background(), internal.WorkflowStatusInternal{
		WorkflowID: "pending-wf", Status: internal.StatusPending, Name: "recoverable.workflow",
	}, false))
	require.NoError(t, d.engine.SysDB.UpdateWorkflowInputs(context.Background(), "pending-wf", serializedInput))

	handle, err := d.RecoverWorkflow(context.Background(), "pending-wf")
	require.NoError(t, err)
	result, err := handle.GetResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(42), result)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	status, err := d.engine.SysDB.GetWorkflowStatus(context.Background(), "pending-wf")
	require.NoError(t, err)
	require.Equal(t, internal.StatusSuccess, status.Status)
}
