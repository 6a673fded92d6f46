package dbos

import "context"

// Send delivers message to destinationID's FIFO queue on topic. Called
// outside any workflow, it still runs under a durable umbrella via a
// synthetic temp_send_workflow.
func (d *DBOS) Send(ctx context.Context, destinationID string, message []byte, topic string) error {
	return d.engine.Send(ctx, destinationID, message, topic)
}

// Recv waits up to timeoutSeconds for a message on topic, returning
// (nil, false, nil) on timeout. Must be called from inside a workflow.
func (d *DBOS) Recv(ctx context.Context, topic string, timeoutSeconds float64) ([]byte, bool, error) {
	return d.engine.Recv(ctx, topic, timeoutSeconds)
}

// SetEvent upserts (workflow_id, key) -> value and wakes current waiters.
// Must be called from inside a workflow.
func (d *DBOS) SetEvent(ctx context.Context, key string, value []byte) error {
	return d.engine.SetEvent(ctx, key, value)
}

// GetEvent waits up to timeoutSeconds for targetWorkflowID's key to appear,
// returning (nil, false, nil) on timeout. May be called inside or outside
// a workflow.
func (d *DBOS) GetEvent(ctx context.Context, targetWorkflowID, key string, timeoutSeconds float64) ([]byte, bool, error) {
	return d.engine.GetEvent(ctx, targetWorkflowID, key, timeoutSeconds)
}
