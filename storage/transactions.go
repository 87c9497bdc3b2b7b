package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/types"
)

const txColumns = `id, reference_number, session_id, institution_id, credential_id,
	client_callback_url, source_bank_code, source_account, source_account_name,
	dest_bank_code, dest_account, dest_account_name, amount, narration,
	status, status_message, ftd_action_code, ftc_action_code, reversal_action_code,
	leg_deadline, tsq_attempts, tsq_next_attempt_at, reversal_attempts,
	created_at, updated_at`

func scanTransaction(row pgx.Row) (*types.Transaction, error) {
	var t types.Transaction
	err := row.Scan(
		&t.ID, &t.ReferenceNumber, &t.SessionID, &t.InstitutionID, &t.CredentialID,
		&t.ClientCallbackURL, &t.SourceBankCode, &t.SourceAccount, &t.SourceAccountName,
		&t.DestBankCode, &t.DestAccount, &t.DestAccountName, &t.Amount, &t.Narration,
		&t.Status, &t.StatusMessage, &t.FTDActionCode, &t.FTCActionCode, &t.ReversalActionCode,
		&t.LegDeadline, &t.TSQAttempts, &t.TSQNextAttemptAt, &t.ReversalAttempts,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// CreateTransaction persists a new transfer in INITIATED with its
// session id already assigned. A duplicate (institution, reference)
// pair returns ErrDuplicateReference.
func (s *Store) CreateTransaction(ctx context.Context, t *types.Transaction) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			reference_number, session_id, institution_id, credential_id,
			client_callback_url, source_bank_code, source_account, source_account_name,
			dest_bank_code, dest_account, dest_account_name, amount, narration, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, updated_at`,
		t.ReferenceNumber, t.SessionID, t.InstitutionID, t.CredentialID,
		t.ClientCallbackURL, t.SourceBankCode, t.SourceAccount, t.SourceAccountName,
		t.DestBankCode, t.DestAccount, t.DestAccountName, t.Amount, t.Narration,
		types.TxInitiated,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	t.Status = types.TxInitiated
	return nil
}

// TransactionByReference looks up a transfer by the caller-supplied
// reference within one institution.
func (s *Store) TransactionByReference(ctx context.Context, institutionID, reference string) (*types.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE institution_id = $1 AND reference_number = $2`,
		institutionID, reference)
	return scanTransaction(row)
}

// TransactionBySession looks up a transfer by its globally unique
// session id.
func (s *Store) TransactionBySession(ctx context.Context, sessionID string) (*types.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE session_id = $1`, sessionID)
	return scanTransaction(row)
}

func lockTransaction(ctx context.Context, tx pgx.Tx, id int64) (*types.Transaction, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func lockTransactionBySession(ctx context.Context, tx pgx.Tx, sessionID string) (*types.Transaction, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE session_id = $1 FOR UPDATE`, sessionID)
	return scanTransaction(row)
}

// DispatchFunc performs an outbound gateway call for the locked
// transaction inside the database transaction, before commit. A
// returned error rolls the whole step back.
type DispatchFunc func(ctx context.Context, txn *types.Transaction) (*gateway.TransferResponse, error)

// legDeadlineFor returns the callback deadline to stamp when entering
// the given status.
func (s *Store) legDeadlineFor(status types.TxStatus, now time.Time) *time.Time {
	var d time.Duration
	switch status {
	case types.TxFTDPending:
		d = s.cfg.FTDCallbackTimeout
	case types.TxFTCPending:
		d = s.cfg.FTCCallbackTimeout
	case types.TxReversalPending:
		d = s.cfg.ReversalTimeout
	default:
		return nil
	}
	deadline := now.Add(d)
	return &deadline
}

// applyDecision walks the decision's transitions under the row lock
// already held by tx, updates the transaction row, appends audit
// events and enqueues the client notification. The FTC dispatch, when
// requested, happens here so that a gateway failure aborts the commit.
func (s *Store) applyDecision(ctx context.Context, tx pgx.Tx, txn *types.Transaction, d engine.Decision, dispatch DispatchFunc) error {
	if len(d.Transitions) == 0 && d.Leg == engine.LegNone && d.Notify == nil && d.CriticalAlert == "" {
		return nil
	}
	if !engine.ValidPath(txn.Status, d.Transitions) {
		return fmt.Errorf("%w: %s cannot walk %v", ErrStatusConflict, txn.Status, d.Transitions)
	}

	final := txn.Status
	if len(d.Transitions) > 0 {
		final = d.Transitions[len(d.Transitions)-1]
	}

	if d.ActionCode != "" {
		switch d.Leg {
		case engine.LegFTD:
			txn.FTDActionCode = d.ActionCode
		case engine.LegFTC:
			txn.FTCActionCode = d.ActionCode
		case engine.LegReversal:
			txn.ReversalActionCode = d.ActionCode
		}
	}
	if d.StatusMessage != "" {
		txn.StatusMessage = d.StatusMessage
	}

	// The credit leg is dispatched synchronously before commit: if the
	// gateway is unreachable the rollback leaves the callback PENDING
	// and the whole step is retried.
	if d.DispatchFTC {
		if dispatch == nil {
			return fmt.Errorf("decision requires FTC dispatch but no dispatcher given")
		}
		resp, err := dispatch(ctx, txn)
		if err != nil {
			return fmt.Errorf("dispatch FTC: %w", err)
		}
		if err := appendEvent(ctx, tx, txn, &types.GipEvent{
			Kind:           types.EventFTCRequest,
			SessionID:      txn.SessionID,
			TrackingNumber: resp.TrackingNumber,
			ActionCode:     resp.ActionCode,
			Payload:        resp.Raw,
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	deadline := txn.LegDeadline
	if len(d.Transitions) > 0 {
		deadline = s.legDeadlineFor(final, now)
	}
	var tsqNext *time.Time
	if d.ScheduleTSQIn > 0 {
		t := now.Add(d.ScheduleTSQIn)
		tsqNext = &t
	} else {
		tsqNext = txn.TSQNextAttemptAt
	}

	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET
			status = $2, status_message = $3,
			ftd_action_code = $4, ftc_action_code = $5, reversal_action_code = $6,
			leg_deadline = $7, tsq_next_attempt_at = $8, updated_at = now()
		WHERE id = $1 AND status = $9`,
		txn.ID, final, txn.StatusMessage,
		txn.FTDActionCode, txn.FTCActionCode, txn.ReversalActionCode,
		deadline, tsqNext, txn.Status,
	)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", txn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %d left %s", ErrStatusConflict, txn.ID, txn.Status)
	}
	txn.Status = final
	txn.LegDeadline = deadline
	txn.TSQNextAttemptAt = tsqNext

	if d.Notify != nil && txn.ClientCallbackURL != "" {
		if err := s.enqueueNotification(ctx, tx, txn, d.Notify); err != nil {
			return err
		}
	}
	if d.CriticalAlert != "" {
		if err := appendAudit(ctx, tx, txn.ID, types.AuditCritical, d.CriticalAlert); err != nil {
			return err
		}
	}
	return nil
}

// enqueueNotification inserts one outbound webhook row for a terminal
// transition.
func (s *Store) enqueueNotification(ctx context.Context, tx pgx.Tx, txn *types.Transaction, n *engine.Notification) error {
	payload, err := json.Marshal(types.WebhookPayload{
		Status:          n.Status,
		TransactionID:   txn.ID,
		ReferenceNumber: txn.ReferenceNumber,
		SessionID:       txn.SessionID,
		ActionCode:      txn.LastActionCode(),
		Amount:          txn.Amount,
		Message:         txn.StatusMessage,
		Reason:          n.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO client_callbacks (transaction_id, url, payload, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, now())`,
		txn.ID, txn.ClientCallbackURL, payload, s.cfg.WebhookMaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue client callback: %w", err)
	}
	return nil
}

// MarkFTDDispatched commits the INITIATED → FTD_PENDING transition
// after the debit leg was accepted by the gateway, recording the
// FTD_REQUEST event.
func (s *Store) MarkFTDDispatched(ctx context.Context, id int64, resp *gateway.TransferResponse) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	txn, err := lockTransaction(ctx, tx, id)
	if err != nil {
		return err
	}
	if txn.Status != types.TxInitiated {
		return fmt.Errorf("%w: transaction %d is %s", ErrStatusConflict, id, txn.Status)
	}
	if err := appendEvent(ctx, tx, txn, &types.GipEvent{
		Kind:           types.EventFTDRequest,
		SessionID:      txn.SessionID,
		TrackingNumber: resp.TrackingNumber,
		ActionCode:     resp.ActionCode,
		Payload:        resp.Raw,
	}); err != nil {
		return err
	}
	if err := s.applyDecision(ctx, tx, txn, engine.Decision{
		Transitions: []types.TxStatus{types.TxFTDPending},
	}, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SweepTimeouts moves transactions whose leg deadline has passed, or
// whose overall transaction budget since creation has, into TIMEOUT
// with an immediate TSQ, one row at a time under SKIP LOCKED. Returns
// the number of rows escalated.
func (s *Store) SweepTimeouts(ctx context.Context, limit int) (int, error) {
	swept := 0
	for swept < limit {
		ok, err := s.sweepOneTimeout(ctx)
		if err != nil {
			return swept, err
		}
		if !ok {
			break
		}
		swept++
	}
	return swept, nil
}

func (s *Store) sweepOneTimeout(ctx context.Context) (bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status IN ($1, $2)
		  AND ((leg_deadline IS NOT NULL AND leg_deadline <= now())
		    OR created_at + $3::interval <= now())
		ORDER BY leg_deadline
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		types.TxFTDPending, types.TxFTCPending,
		fmt.Sprintf("%.0f seconds", s.cfg.TransactionTimeout.Seconds()))
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.applyDecision(ctx, tx, txn, engine.TimeoutDecision(txn), nil); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
