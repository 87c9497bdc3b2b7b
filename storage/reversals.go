package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

// ReversalJob is one claimed transaction needing a compensating
// reversal: either a fresh FTC_FAILED or a REVERSAL_PENDING whose
// callback deadline lapsed without an answer. Exactly one of
// MarkDispatched, Exhaust or Close must be called.
type ReversalJob struct {
	Txn *types.Transaction
	// Exhausted is set when the attempt budget is spent; the worker
	// must call Exhaust instead of dispatching again.
	Exhausted bool

	store *Store
	tx    pgx.Tx
	done  bool
}

// NextDueReversal claims the next transaction owed a reversal,
// skipping locked rows. Returns (nil, nil) when nothing is due.
func (s *Store) NextDueReversal(ctx context.Context) (*ReversalJob, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = $1
		   OR (status = $2 AND leg_deadline IS NOT NULL AND leg_deadline <= now())
		ORDER BY updated_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		types.TxFTCFailed, types.TxReversalPending)
	txn, err := scanTransaction(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ReversalJob{
		Txn:       txn,
		Exhausted: txn.ReversalAttempts >= s.cfg.ReversalMaxAttempts,
		store:     s,
		tx:        tx,
	}, nil
}

// MarkDispatched records that the reversal request was accepted by the
// gateway: the transaction moves to (or stays in) REVERSAL_PENDING
// with a fresh callback deadline and the attempt counted.
func (j *ReversalJob) MarkDispatched(ctx context.Context, resp *gateway.TransferResponse) error {
	if j.done {
		return fmt.Errorf("reversal job for transaction %d already finished", j.Txn.ID)
	}
	if err := appendEvent(ctx, j.tx, j.Txn, &types.GipEvent{
		Kind:           types.EventReversalRequest,
		SessionID:      j.Txn.SessionID,
		TrackingNumber: resp.TrackingNumber,
		ActionCode:     resp.ActionCode,
		Payload:        resp.Raw,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	deadline := now.Add(j.store.cfg.ReversalTimeout)
	j.Txn.ReversalAttempts++
	tag, err := j.tx.Exec(ctx, `
		UPDATE transactions SET
			status = $2, reversal_attempts = $3, leg_deadline = $4, updated_at = now()
		WHERE id = $1 AND status = $5`,
		j.Txn.ID, types.TxReversalPending, j.Txn.ReversalAttempts, deadline, j.Txn.Status)
	if err != nil {
		return fmt.Errorf("mark reversal dispatched for transaction %d: %w", j.Txn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %d left %s", ErrStatusConflict, j.Txn.ID, j.Txn.Status)
	}
	j.Txn.Status = types.TxReversalPending
	j.Txn.LegDeadline = &deadline

	if err := j.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reversal dispatch for transaction %d: %w", j.Txn.ID, err)
	}
	j.done = true
	return nil
}

// Exhaust gives up on automatic reversal: a critical audit entry is
// written and the deadline cleared so the row stops surfacing, leaving
// the transaction for manual settlement.
func (j *ReversalJob) Exhaust(ctx context.Context) error {
	if j.done {
		return fmt.Errorf("reversal job for transaction %d already finished", j.Txn.ID)
	}
	msg := fmt.Sprintf("reversal unanswered after %d attempts, funds may be debited without credit", j.Txn.ReversalAttempts)
	if err := appendAudit(ctx, j.tx, j.Txn.ID, types.AuditCritical, msg); err != nil {
		return err
	}
	_, err := j.tx.Exec(ctx,
		`UPDATE transactions SET leg_deadline = NULL, status_message = $2, updated_at = now() WHERE id = $1`,
		j.Txn.ID, msg)
	if err != nil {
		return fmt.Errorf("exhaust reversal for transaction %d: %w", j.Txn.ID, err)
	}
	if err := j.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reversal exhaustion for transaction %d: %w", j.Txn.ID, err)
	}
	j.done = true
	return nil
}

// Close rolls back an unfinished job; the row stays claimable.
func (j *ReversalJob) Close(ctx context.Context) {
	if j.done {
		return
	}
	if err := j.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Warnw("rollback reversal job", "transaction", j.Txn.ID, "err", err.Error())
	}
	j.done = true
}
