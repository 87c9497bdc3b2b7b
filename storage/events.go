package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/types"
)

// appendEvent writes one row to the append-only gip_events log. The
// per-transaction sequence number is assigned here, under the row lock
// the caller already holds, so (transaction_id, event_seq) is unique
// and strictly increasing.
func appendEvent(ctx context.Context, tx pgx.Tx, txn *types.Transaction, ev *types.GipEvent) error {
	ev.TransactionID = txn.ID
	err := tx.QueryRow(ctx, `
		INSERT INTO gip_events (transaction_id, event_seq, kind, session_id, tracking_number, action_code, outcome, payload)
		SELECT $1, COALESCE(MAX(event_seq), 0) + 1, $2, $3, $4, $5, $6, $7
		FROM gip_events WHERE transaction_id = $1
		RETURNING id, event_seq, created_at`,
		txn.ID, ev.Kind, ev.SessionID, ev.TrackingNumber, ev.ActionCode, ev.Outcome, nullableJSON(ev.Payload),
	).Scan(&ev.ID, &ev.EventSeq, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append %s event for transaction %d: %w", ev.Kind, txn.ID, err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Events returns the audit trail of one transaction in sequence order.
func (s *Store) Events(ctx context.Context, transactionID int64) ([]types.GipEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, event_seq, kind, session_id, tracking_number, action_code, outcome, payload, created_at
		FROM gip_events WHERE transaction_id = $1 ORDER BY event_seq`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []types.GipEvent
	for rows.Next() {
		var ev types.GipEvent
		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.EventSeq, &ev.Kind, &ev.SessionID,
			&ev.TrackingNumber, &ev.ActionCode, &ev.Outcome, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordEvent appends an event for a transaction outside any held
// lock, locking the row first. Used for one-off audit entries such as
// name enquiries tied to an existing transfer.
func (s *Store) RecordEvent(ctx context.Context, transactionID int64, ev *types.GipEvent) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	txn, err := lockTransaction(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, txn, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
