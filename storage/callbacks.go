package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

const callbackColumns = `id, session_id, function_code, action_code, tracking_number,
	payload, received_at, status, processing_error`

func scanCallback(row pgx.Row) (*types.GipCallback, error) {
	var cb types.GipCallback
	err := row.Scan(&cb.ID, &cb.SessionID, &cb.FunctionCode, &cb.ActionCode,
		&cb.TrackingNumber, &cb.Payload, &cb.ReceivedAt, &cb.Status, &cb.ProcessingError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan callback: %w", err)
	}
	return &cb, nil
}

// EnqueueCallback stores one inbound GIP callback as PENDING. Called
// by the HTTP handler, which answers 200 immediately afterwards.
func (s *Store) EnqueueCallback(ctx context.Context, cb *types.GipCallback) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO gip_callbacks (session_id, function_code, action_code, tracking_number, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, received_at, status`,
		cb.SessionID, cb.FunctionCode, cb.ActionCode, cb.TrackingNumber, nullableJSON(cb.Payload),
	).Scan(&cb.ID, &cb.ReceivedAt, &cb.Status)
	if err != nil {
		return fmt.Errorf("enqueue callback: %w", err)
	}
	return nil
}

// CallbackJob is one claimed inbound callback. The claiming SELECT
// holds a row lock on both the callback and, when one matches, the
// transaction, for the lifetime of the job: exactly one of Apply,
// Resolve or Close must be called.
type CallbackJob struct {
	Callback *types.GipCallback
	// Txn is the transaction matched by session id, nil if none.
	Txn *types.Transaction

	store *Store
	tx    pgx.Tx
	done  bool
}

// NextPendingCallback claims the oldest PENDING callback, skipping
// rows other workers hold, and joins it to its transaction under a
// blocking row lock. Returns (nil, nil) when the queue is empty.
func (s *Store) NextPendingCallback(ctx context.Context) (*CallbackJob, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+callbackColumns+` FROM gip_callbacks
		WHERE status = 'PENDING'
		ORDER BY received_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	cb, err := scanCallback(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	job := &CallbackJob{Callback: cb, store: s, tx: tx}
	txn, err := lockTransactionBySession(ctx, tx, cb.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	job.Txn = txn
	return job, nil
}

// Apply executes the routing decision atomically: transaction row
// update, audit events, queue inserts and the optional pre-commit FTC
// dispatch, then resolves the callback row and commits.
func (j *CallbackJob) Apply(ctx context.Context, d engine.Decision, dispatch DispatchFunc) error {
	if j.done {
		return fmt.Errorf("callback job %d already finished", j.Callback.ID)
	}
	if j.Txn != nil && d.EventKind != "" {
		if err := appendEvent(ctx, j.tx, j.Txn, &types.GipEvent{
			Kind:           d.EventKind,
			SessionID:      j.Callback.SessionID,
			TrackingNumber: j.Callback.TrackingNumber,
			ActionCode:     j.Callback.ActionCode,
			Outcome:        string(d.Resolution),
			Payload:        j.Callback.Payload,
		}); err != nil {
			return err
		}
	}
	if j.Txn != nil {
		if err := j.store.applyDecision(ctx, j.tx, j.Txn, d, dispatch); err != nil {
			return err
		}
	}
	return j.finish(ctx, d.Resolution, "")
}

// Resolve marks the callback row without touching any transaction,
// used for unmatched or unroutable callbacks.
func (j *CallbackJob) Resolve(ctx context.Context, status types.CallbackStatus) error {
	if j.done {
		return fmt.Errorf("callback job %d already finished", j.Callback.ID)
	}
	return j.finish(ctx, status, "")
}

func (j *CallbackJob) finish(ctx context.Context, status types.CallbackStatus, procErr string) error {
	_, err := j.tx.Exec(ctx,
		`UPDATE gip_callbacks SET status = $2, processing_error = $3 WHERE id = $1`,
		j.Callback.ID, status, procErr)
	if err != nil {
		return fmt.Errorf("resolve callback %d: %w", j.Callback.ID, err)
	}
	if err := j.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit callback %d: %w", j.Callback.ID, err)
	}
	j.done = true
	j.Callback.Status = status
	j.Callback.ProcessingError = procErr
	return nil
}

// Close rolls the job back if it was not finished; the callback row
// stays PENDING and will be retried.
func (j *CallbackJob) Close(ctx context.Context) {
	if j.done {
		return
	}
	if err := j.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Warnw("rollback callback job", "callback", j.Callback.ID, "err", err.Error())
	}
	j.done = true
}

// MarkCallbackError flags a callback whose processing raised, in its
// own small transaction after the failed one rolled back.
func (s *Store) MarkCallbackError(ctx context.Context, id int64, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE gip_callbacks SET status = $2, processing_error = $3 WHERE id = $1 AND status = 'PENDING'`,
		id, types.CallbackError, msg)
	if err != nil {
		return fmt.Errorf("mark callback %d error: %w", id, err)
	}
	return nil
}
