package systemdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/dbos-inc/dbos-transact-go/internal"
	"github.com/dbos-inc/dbos-transact-go/notify"
)

// flushInterval is how often buffered status/inputs writes are drained to
// Postgres.
const flushInterval = 100 * time.Millisecond

// PostgresSystemDatabase implements internal.SystemDatabase against a
// pgxpool.Pool, with a background flusher for writes that can tolerate a
// short delay (everything except errors and the initial non-transaction
// PENDING write, which go straight through).
type PostgresSystemDatabase struct {
	pool   *pgxpool.Pool
	bus    notify.Bus
	logger *zap.Logger

	statusBuf chan internal.WorkflowStatusInternal
	inputsBuf chan bufferedInputs

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type bufferedInputs struct {
	workflowID string
	inputs     []byte
}

// NewPostgresSystemDatabase wraps pool and starts the buffered-write
// flusher. bus wakes recv/get_event waiters across processes without
// polling the database; pass notify.NewLocalBus() for a single process.
func NewPostgresSystemDatabase(pool *pgxpool.Pool, bus notify.Bus, logger *zap.Logger) *PostgresSystemDatabase {
	s := &PostgresSystemDatabase{
		pool:      pool,
		bus:       bus,
		logger:    logger,
		statusBuf: make(chan internal.WorkflowStatusInternal, 1024),
		inputsBuf: make(chan bufferedInputs, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *PostgresSystemDatabase) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var pendingStatus []internal.WorkflowStatusInternal
	var pendingInputs []bufferedInputs

	flush := func() {
		if len(pendingStatus) == 0 && len(pendingInputs) == 0 {
			return
		}
		ctx := context.Background()
		for _, st := range pendingStatus {
			if err := s.UpdateWorkflowStatus(ctx, st, false); err != nil {
				s.logger.Error("flush workflow status failed", zap.String("workflow_id", st.WorkflowID), zap.Error(err))
			}
		}
		for _, in := range pendingInputs {
			if err := s.UpdateWorkflowInputs(ctx, in.workflowID, in.inputs); err != nil {
				s.logger.Error("flush workflow inputs failed", zap.String("workflow_id", in.workflowID), zap.Error(err))
			}
		}
		pendingStatus = pendingStatus[:0]
		pendingInputs = pendingInputs[:0]
	}

	for {
		select {
		case st := <-s.statusBuf:
			pendingStatus = append(pendingStatus, st)
		case in := <-s.inputsBuf:
			pendingInputs = append(pendingInputs, in)
		case <-ticker.C:
			flush()
		case <-s.stop:
			// Drain whatever is already queued, then flush synchronously.
			for {
				select {
				case st := <-s.statusBuf:
					pendingStatus = append(pendingStatus, st)
					continue
				case in := <-s.inputsBuf:
					pendingInputs = append(pendingInputs, in)
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (s *PostgresSystemDatabase) BufferWorkflowStatus(status internal.WorkflowStatusInternal) {
	select {
	case s.statusBuf <- status:
	default:
		// Buffer full: fall back to a synchronous write rather than drop it.
		if err := s.UpdateWorkflowStatus(context.Background(), status, false); err != nil {
			s.logger.Error("synchronous fallback status write failed", zap.String("workflow_id", status.WorkflowID), zap.Error(err))
		}
	}
}

func (s *PostgresSystemDatabase) BufferWorkflowInputs(workflowID string, inputs []byte) {
	select {
	case s.inputsBuf <- bufferedInputs{workflowID, inputs}:
	default:
		if err := s.UpdateWorkflowInputs(context.Background(), workflowID, inputs); err != nil {
			s.logger.Error("synchronous fallback inputs write failed", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
}

func (s *PostgresSystemDatabase) UpdateWorkflowStatus(ctx context.Context, status internal.WorkflowStatusInternal, inRecovery bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_status
			(workflow_id, status, name, class_name, config_name, output, error,
			 app_id, app_version, executor_id, request, recovery_attempts,
			 authenticated_user, authenticated_roles, assumed_role)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13,$14)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = CASE
				WHEN workflow_status.status IN ('SUCCESS','ERROR','RETRIES_EXCEEDED') AND NOT $15
				THEN workflow_status.status
				ELSE EXCLUDED.status
			END,
			output = CASE
				WHEN workflow_status.status IN ('SUCCESS','ERROR','RETRIES_EXCEEDED') AND NOT $15
				THEN workflow_status.output
				ELSE EXCLUDED.output
			END,
			error = CASE
				WHEN workflow_status.status IN ('SUCCESS','ERROR','RETRIES_EXCEEDED') AND NOT $15
				THEN workflow_status.error
				ELSE EXCLUDED.error
			END,
			recovery_attempts = CASE WHEN $15 THEN workflow_status.recovery_attempts + 1 ELSE workflow_status.recovery_attempts END
	`,
		status.WorkflowID, string(status.Status), status.Name, status.ClassName, status.ConfigName,
		status.Output, status.Error, status.AppID, status.AppVersion, status.ExecutorID, status.Request,
		status.AuthenticatedUser, strings.Join(status.AuthenticatedRoles, ","), status.AssumedRole, inRecovery,
	)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	if isTerminal(status.Status) {
		_ = s.bus.Publish(ctx, "workflow_result:"+status.WorkflowID)
	}
	return nil
}

func (s *PostgresSystemDatabase) UpdateWorkflowInputs(ctx context.Context, workflowID string, inputs []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_inputs (workflow_id, inputs) VALUES ($1, $2)
		ON CONFLICT (workflow_id) DO NOTHING
	`, workflowID, inputs)
	if err != nil {
		return fmt.Errorf("update workflow inputs: %w", err)
	}
	return nil
}

func (s *PostgresSystemDatabase) GetWorkflowStatus(ctx context.Context, workflowID string) (*internal.WorkflowStatusInternal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_id, status, name, class_name, config_name, output, error,
		       app_id, app_version, executor_id, request, recovery_attempts,
		       authenticated_user, authenticated_roles, assumed_role
		FROM workflow_status WHERE workflow_id = $1
	`, workflowID)

	var status internal.WorkflowStatusInternal
	var statusStr, roles string
	err := row.Scan(&status.WorkflowID, &statusStr, &status.Name, &status.ClassName, &status.ConfigName,
		&status.Output, &status.Error, &status.AppID, &status.AppVersion, &status.ExecutorID, &status.Request,
		&status.RecoveryAttempts, &status.AuthenticatedUser, &roles, &status.AssumedRole)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow status: %w", err)
	}
	status.Status = internal.WorkflowStatusValue(statusStr)
	if roles != "" {
		status.AuthenticatedRoles = strings.Split(roles, ",")
	}
	return &status, nil
}

func (s *PostgresSystemDatabase) GetWorkflowInputs(ctx context.Context, workflowID string) ([]byte, error) {
	var inputs []byte
	err := s.pool.QueryRow(ctx, `SELECT inputs FROM workflow_inputs WHERE workflow_id = $1`, workflowID).Scan(&inputs)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow inputs: %w", err)
	}
	return inputs, nil
}

func (s *PostgresSystemDatabase) AwaitWorkflowResult(ctx context.Context, workflowID string) ([]byte, []byte, error) {
	for {
		status, err := s.GetWorkflowStatus(ctx, workflowID)
		if err != nil {
			return nil, nil, err
		}
		if status != nil {
			switch status.Status {
			case internal.StatusSuccess:
				return status.Output, nil, nil
			case internal.StatusError, internal.StatusRetriesExceeded:
				return nil, status.Error, nil
			}
		}

		ch, cancel, err := s.bus.Subscribe(ctx, "workflow_result:"+workflowID)
		if err != nil {
			return nil, nil, err
		}
		select {
		case <-ch:
			cancel()
		case <-time.After(time.Second):
			cancel()
		case <-ctx.Done():
			cancel()
			return nil, nil, ctx.Err()
		}
	}
}

func (s *PostgresSystemDatabase) CheckOperationExecution(ctx context.Context, workflowID string, functionID int) (*internal.OperationResultInternal, error) {
	var result internal.OperationResultInternal
	err := s.pool.QueryRow(ctx, `
		SELECT workflow_id, function_id, output, error FROM operation_outputs
		WHERE workflow_id = $1 AND function_id = $2
	`, workflowID, functionID).Scan(&result.WorkflowID, &result.FunctionID, &result.Output, &result.Error)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check operation execution: %w", err)
	}
	return &result, nil
}

func (s *PostgresSystemDatabase) RecordOperationResult(ctx context.Context, result internal.OperationResultInternal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operation_outputs (workflow_id, function_id, output, error)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (workflow_id, function_id) DO NOTHING
	`, result.WorkflowID, result.FunctionID, result.Output, result.Error)
	if err != nil {
		return fmt.Errorf("record operation result: %w", err)
	}
	return nil
}

func (s *PostgresSystemDatabase) Send(ctx context.Context, workflowID string, functionID int, destinationID string, message []byte, topic string) error {
	if existing, err := s.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("send: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (destination_id, topic, message, sequence, consumed)
		VALUES ($1, $2, $3, nextval('notifications_seq'), false)
	`, destinationID, topic, message); err != nil {
		return fmt.Errorf("send: insert notification: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO operation_outputs (workflow_id, function_id, output, error) VALUES ($1,$2,$3,NULL)
		ON CONFLICT (workflow_id, function_id) DO NOTHING
	`, workflowID, functionID, []byte("null")); err != nil {
		return fmt.Errorf("send: record operation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("send: commit: %w", err)
	}
	return s.bus.Publish(ctx, "notify:"+destinationID+"/"+topic)
}

func (s *PostgresSystemDatabase) Recv(ctx context.Context, workflowID string, functionID, timeoutFunctionID int, topic string, timeoutSeconds float64) ([]byte, bool, error) {
	if existing, err := s.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return nil, false, err
	} else if existing != nil {
		var rr recvRecord
		if err := json.Unmarshal(existing.Output, &rr); err != nil {
			return nil, false, err
		}
		return rr.Message, rr.Delivered, nil
	}

	deadline := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))
	channel := "notify:" + workflowID + "/" + topic

	for {
		// Subscribe before checking the table so a publish landing between
		// the check and the subscribe is never missed.
		ch, cancel, err := s.bus.Subscribe(ctx, channel)
		if err != nil {
			return nil, false, err
		}

		msg, ok, err := s.consumeOneNotification(ctx, workflowID, topic)
		if err != nil {
			cancel()
			return nil, false, err
		}
		if ok {
			cancel()
			if rerr := s.recordRecv(ctx, workflowID, functionID, true, msg); rerr != nil {
				return nil, false, rerr
			}
			_ = timeoutFunctionID
			return msg, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			cancel()
			if rerr := s.recordRecv(ctx, workflowID, functionID, false, nil); rerr != nil {
				return nil, false, rerr
			}
			return nil, false, nil
		}

		select {
		case <-ch:
			cancel()
		case <-time.After(remaining):
			cancel()
		case <-ctx.Done():
			cancel()
			return nil, false, ctx.Err()
		}
	}
}

func (s *PostgresSystemDatabase) consumeOneNotification(ctx context.Context, destinationID, topic string) ([]byte, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sequence int64
	var message []byte
	err = tx.QueryRow(ctx, `
		SELECT sequence, message FROM notifications
		WHERE destination_id = $1 AND topic = $2 AND NOT consumed
		ORDER BY sequence ASC LIMIT 1 FOR UPDATE SKIP LOCKED
	`, destinationID, topic).Scan(&sequence, &message)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE notifications SET consumed = true
		WHERE sequence = $1
	`, sequence); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return message, true, nil
}

func (s *PostgresSystemDatabase) recordRecv(ctx context.Context, workflowID string, functionID int, delivered bool, message []byte) error {
	data, err := json.Marshal(recvRecord{Delivered: delivered, Message: message})
	if err != nil {
		return err
	}
	return s.RecordOperationResult(ctx, internal.OperationResultInternal{WorkflowID: workflowID, FunctionID: functionID, Output: data})
}

func (s *PostgresSystemDatabase) SetEvent(ctx context.Context, workflowID string, functionID int, key string, value []byte) error {
	if existing, err := s.CheckOperationExecution(ctx, workflowID, functionID); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set_event: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO events (workflow_id, key, value) VALUES ($1,$2,$3)
		ON CONFLICT (workflow_id, key) DO UPDATE SET value = EXCLUDED.value
	`, workflowID, key, value); err != nil {
		return fmt.Errorf("set_event: upsert: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO operation_outputs (workflow_id, function_id, output, error) VALUES ($1,$2,$3,NULL)
		ON CONFLICT (workflow_id, function_id) DO NOTHING
	`, workflowID, functionID, []byte("null")); err != nil {
		return fmt.Errorf("set_event: record operation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("set_event: commit: %w", err)
	}
	return s.bus.Publish(ctx, "event:"+workflowID+"/"+key)
}

func (s *PostgresSystemDatabase) GetEvent(ctx context.Context, targetWorkflowID, key string, timeoutSeconds float64, caller *internal.GetEventCallerContext) ([]byte, bool, error) {
	if caller != nil {
		if existing, err := s.CheckOperationExecution(ctx, caller.WorkflowID, caller.FunctionID); err != nil {
			return nil, false, err
		} else if existing != nil {
			var rr recvRecord
			if err := json.Unmarshal(existing.Output, &rr); err != nil {
				return nil, false, err
			}
			return rr.Message, rr.Delivered, nil
		}
	}

	channel := "event:" + targetWorkflowID + "/" + key
	deadline := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))

	for {
		// Subscribe before checking the table so a publish landing between
		// the check and the subscribe is never missed.
		ch, cancel, serr := s.bus.Subscribe(ctx, channel)
		if serr != nil {
			return nil, false, serr
		}

		var value []byte
		err := s.pool.QueryRow(ctx, `SELECT value FROM events WHERE workflow_id = $1 AND key = $2`, targetWorkflowID, key).Scan(&value)
		if err != nil && err != pgx.ErrNoRows {
			cancel()
			return nil, false, err
		}
		if err == nil {
			cancel()
			if caller != nil {
				if rerr := s.recordRecv(ctx, caller.WorkflowID, caller.FunctionID, true, value); rerr != nil {
					return nil, false, rerr
				}
			}
			return value, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			cancel()
			if caller != nil {
				if rerr := s.recordRecv(ctx, caller.WorkflowID, caller.FunctionID, false, nil); rerr != nil {
					return nil, false, rerr
				}
			}
			return nil, false, nil
		}

		select {
		case <-ch:
			cancel()
		case <-time.After(remaining):
			cancel()
		case <-ctx.Done():
			cancel()
			return nil, false, ctx.Err()
		}
	}
}

func (s *PostgresSystemDatabase) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.pool.Close()
	return nil
}
