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

// TSQJob is one claimed due status query. Claiming increments
// tsq_attempts and records the TSQ_REQUEST event inside the open
// database transaction, so a rollback (gateway unreachable) uncounts
// the attempt. Exactly one of Apply or Close must be called.
type TSQJob struct {
	Txn *types.Transaction

	store *Store
	tx    pgx.Tx
	done  bool
}

// NextDueTSQ claims the next transaction whose TSQ is due, skipping
// locked rows. Returns (nil, nil) when nothing is due.
func (s *Store) NextDueTSQ(ctx context.Context) (*TSQJob, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status IN ($1, $2, $3)
		  AND tsq_next_attempt_at IS NOT NULL AND tsq_next_attempt_at <= now()
		ORDER BY tsq_next_attempt_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		types.TxFTDTSQ, types.TxFTCTSQ, types.TxTimeout)
	txn, err := scanTransaction(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Count the attempt and clear the due marker up front; the
	// decision reschedules it when the response is indeterminate.
	txn.TSQAttempts++
	txn.TSQNextAttemptAt = nil
	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET tsq_attempts = $2, tsq_next_attempt_at = NULL, updated_at = now() WHERE id = $1`,
		txn.ID, txn.TSQAttempts); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("count TSQ attempt for transaction %d: %w", txn.ID, err)
	}
	if err := appendEvent(ctx, tx, txn, &types.GipEvent{
		Kind:      types.EventTSQRequest,
		SessionID: txn.SessionID,
	}); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &TSQJob{Txn: txn, store: s, tx: tx}, nil
}

// Apply records the TSQ response event and the resulting decision,
// then commits.
func (j *TSQJob) Apply(ctx context.Context, d engine.Decision, raw []byte, dispatch DispatchFunc) error {
	if j.done {
		return fmt.Errorf("tsq job for transaction %d already finished", j.Txn.ID)
	}
	if err := appendEvent(ctx, j.tx, j.Txn, &types.GipEvent{
		Kind:       types.EventTSQResponse,
		SessionID:  j.Txn.SessionID,
		ActionCode: d.ActionCode,
		Outcome:    string(d.Resolution),
		Payload:    raw,
	}); err != nil {
		return err
	}
	if err := j.store.applyDecision(ctx, j.tx, j.Txn, d, dispatch); err != nil {
		return err
	}
	if err := j.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tsq for transaction %d: %w", j.Txn.ID, err)
	}
	j.done = true
	return nil
}

// Close rolls back an unfinished job, uncounting the attempt.
func (j *TSQJob) Close(ctx context.Context) {
	if j.done {
		return
	}
	if err := j.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Warnw("rollback tsq job", "transaction", j.Txn.ID, "err", err.Error())
	}
	j.done = true
}
