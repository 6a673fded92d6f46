// Package systemdb provides the durability backends for the system
// database the engine depends on: a Postgres-backed implementation for
// production and an in-memory one for single-process use and tests.
package systemdb

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-go/internal"
	"github.com/dbos-inc/dbos-transact-go/notify"
)

type opKey struct {
	workflowID string
	functionID int
}

// MemorySystemDatabase is an in-process implementation of
// internal.SystemDatabase backed by plain maps, guarded by a mutex. It is
// used by tests and by single-process deployments that do not need
// cross-process recovery.
type MemorySystemDatabase struct {
	mu sync.Mutex

	statuses map[string]*internal.WorkflowStatusInternal
	inputs   map[string][]byte
	ops      map[opKey]*internal.OperationResultInternal

	// queues holds FIFO messages per (destinationID, topic).
	queues map[string][][]byte
	// events holds the last value set per (workflowID, key).
	events map[string][]byte

	resultWaiters map[string][]chan struct{}

	bus notify.Bus
}

// NewMemorySystemDatabase returns an empty MemorySystemDatabase. bus may be
// nil, in which case a private notify.LocalBus is used.
func NewMemorySystemDatabase(bus notify.Bus) *MemorySystemDatabase {
	if bus == nil {
		bus = notify.NewLocalBus()
	}
	return &MemorySystemDatabase{
		statuses:      make(map[string]*internal.WorkflowStatusInternal),
		inputs:        make(map[string][]byte),
		ops:           make(map[opKey]*internal.OperationResultInternal),
		queues:        make(map[string][][]byte),
		events:        make(map[string][]byte),
		resultWaiters: make(map[string][]chan struct{}),
		bus:           bus,
	}
}

func messageChannel(destinationID, topic string) string {
	return "send:" + destinationID + "/" + topic
}

func eventChannel(workflowID, key string) string {
	return "event:" + workflowID + "/" + key
}

func (m *MemorySystemDatabase) UpdateWorkflowStatus(ctx context.Context, status internal.WorkflowStatusInternal, inRecovery bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.statuses[status.WorkflowID]
	if ok && isTerminal(existing.Status) && !inRecovery {
		// Invariant 2: terminal status is write-once.
		return nil
	}
	if ok && inRecovery {
		status.RecoveryAttempts = existing.RecoveryAttempts + 1
	}
	cp := status
	m.statuses[status.WorkflowID] = &cp

	if isTerminal(status.Status) {
		m.wakeResultWaiters(status.WorkflowID)
	}
	return nil
}

func (m *MemorySystemDatabase) BufferWorkflowStatus(status internal.WorkflowStatusInternal) {
	_ = m.UpdateWorkflowStatus(context.Background(), status, false)
}

func (m *MemorySystemDatabase) UpdateWorkflowInputs(ctx context.Context, workflowID string, inputs []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[workflowID] = inputs
	return nil
}

func (m *MemorySystemDatabase) BufferWorkflowInputs(workflowID string, inputs []byte) {
	_ = m.UpdateWorkflowInputs(context.Background(), workflowID, inputs)
}

func (m *MemorySystemDatabase) GetWorkflowStatus(ctx context.Context, workflowID string) (*internal.WorkflowStatusInternal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[workflowID]
	if !ok {
		return nil, nil
	}
	cp := *status
	return &cp, nil
}

func (m *MemorySystemDatabase) GetWorkflowInputs(ctx context.Context, workflowID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[workflowID], nil
}

func (m *MemorySystemDatabase) AwaitWorkflowResult(ctx context.Context, workflowID string) ([]byte, []byte, error) {
	for {
		m.mu.Lock()
		status, ok := m.statuses[workflowID]
		if ok && isTerminal(status.Status) {
			output := status.Output
			errData := status.Error
			m.mu.Unlock()
			if status.Status == internal.StatusError || status.Status == internal.StatusRetriesExceeded {
				return nil, errData, nil
			}
			return output, nil, nil
		}
		ch := make(chan struct{})
		m.resultWaiters[workflowID] = append(m.resultWaiters[workflowID], ch)
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (m *MemorySystemDatabase) wakeResultWaiters(workflowID string) {
	for _, ch := range m.resultWaiters[workflowID] {
		close(ch)
	}
	delete(m.resultWaiters, workflowID)
}

func isTerminal(status internal.WorkflowStatusValue) bool {
	return status == internal.StatusSuccess || status == internal.StatusError || status == internal.StatusRetriesExceeded
}

func (m *MemorySystemDatabase) CheckOperationExecution(ctx context.Context, workflowID string, functionID int) (*internal.OperationResultInternal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ops[opKey{workflowID, functionID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemorySystemDatabase) RecordOperationResult(ctx context.Context, result internal.OperationResultInternal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := result
	m.ops[opKey{result.WorkflowID, result.FunctionID}] = &cp
	return nil
}

func (m *MemorySystemDatabase) Send(ctx context.Context, workflowID string, functionID int, destinationID string, message []byte, topic string) error {
	if existing, err := m.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	m.mu.Lock()
	key := messageChannel(destinationID, topic)
	m.queues[key] = append(m.queues[key], message)
	m.mu.Unlock()

	if err := m.RecordOperationResult(ctx, internal.OperationResultInternal{WorkflowID: workflowID, FunctionID: functionID, Output: []byte("null")}); err != nil {
		return err
	}
	return m.bus.Publish(ctx, key)
}

type recvRecord struct {
	Delivered bool   `json:"delivered"`
	Message   []byte `json:"message"`
}

func (m *MemorySystemDatabase) Recv(ctx context.Context, workflowID string, functionID, timeoutFunctionID int, topic string, timeoutSeconds float64) ([]byte, bool, error) {
	if existing, err := m.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return nil, false, err
	} else if existing != nil {
		var rr recvRecord
		if err := json.Unmarshal(existing.Output, &rr); err != nil {
			return nil, false, err
		}
		return rr.Message, rr.Delivered, nil
	}

	key := messageChannel(workflowID, topic)
	deadline := time.NewTimer(time.Duration(timeoutSeconds * float64(time.Second)))
	defer deadline.Stop()

	for {
		// Subscribe before checking the queue so a publish landing between
		// the check and the subscribe is never missed.
		ch, cancel, err := m.bus.Subscribe(ctx, key)
		if err != nil {
			return nil, false, err
		}

		m.mu.Lock()
		q := m.queues[key]
		if len(q) > 0 {
			msg := q[0]
			m.queues[key] = q[1:]
			m.mu.Unlock()
			cancel()
			if err := m.recordRecv(ctx, workflowID, functionID, true, msg); err != nil {
				return nil, false, err
			}
			return msg, true, nil
		}
		m.mu.Unlock()

		select {
		case <-ch:
			cancel()
			continue
		case <-deadline.C:
			cancel()
			if err := m.recordRecv(ctx, workflowID, functionID, false, nil); err != nil {
				return nil, false, err
			}
			_ = timeoutFunctionID
			return nil, false, nil
		case <-ctx.Done():
			cancel()
			return nil, false, ctx.Err()
		}
	}
}

func (m *MemorySystemDatabase) recordRecv(ctx context.Context, workflowID string, functionID int, delivered bool, message []byte) error {
	data, err := json.Marshal(recvRecord{Delivered: delivered, Message: message})
	if err != nil {
		return err
	}
	return m.RecordOperationResult(ctx, internal.OperationResultInternal{WorkflowID: workflowID, FunctionID: functionID, Output: data})
}

func (m *MemorySystemDatabase) SetEvent(ctx context.Context, workflowID string, functionID int, key string, value []byte) error {
	if existing, err := m.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	m.mu.Lock()
	ek := eventChannel(workflowID, key)
	m.events[ek] = value
	m.mu.Unlock()

	if err := m.RecordOperationResult(ctx, internal.OperationResultInternal{WorkflowID: workflowID, FunctionID: functionID, Output: []byte("null")}); err != nil {
		return err
	}
	return m.bus.Publish(ctx, ek)
}

func (m *MemorySystemDatabase) GetEvent(ctx context.Context, targetWorkflowID, key string, timeoutSeconds float64, caller *internal.GetEventCallerContext) ([]byte, bool, error) {
	if caller != nil {
		if existing, err := m.CheckOperationExecution(ctx, caller.WorkflowID, caller.FunctionID); err != nil {
			return nil, false, err
		} else if existing != nil {
			var rr recvRecord
			if err := json.Unmarshal(existing.Output, &rr); err != nil {
				return nil, false, err
			}
			return rr.Message, rr.Delivered, nil
		}
	}

	ek := eventChannel(targetWorkflowID, key)
	deadline := time.NewTimer(time.Duration(timeoutSeconds * float64(time.Second)))
	defer deadline.Stop()

	for {
		ch, cancel, err := m.bus.Subscribe(ctx, ek)
		if err != nil {
			return nil, false, err
		}

		m.mu.Lock()
		value, ok := m.events[ek]
		m.mu.Unlock()
		if ok {
			cancel()
			if caller != nil {
				if err := m.recordRecv(ctx, caller.WorkflowID, caller.FunctionID, true, value); err != nil {
					return nil, false, err
				}
			}
			return value, true, nil
		}

		select {
		case <-ch:
			cancel()
			continue
		case <-deadline.C:
			cancel()
			if caller != nil {
				if err := m.recordRecv(ctx, caller.WorkflowID, caller.FunctionID, false, nil); err != nil {
					return nil, false, err
				}
			}
			return nil, false, nil
		case <-ctx.Done():
			cancel()
			return nil, false, ctx.Err()
		}
	}
}

func (m *MemorySystemDatabase) Shutdown(ctx context.Context) error {
	return nil
}
