package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

// appendAudit writes one audit_log row inside the caller's database
// transaction. Critical entries are also logged so an operator sees
// them without polling the table.
func appendAudit(ctx context.Context, tx pgx.Tx, transactionID int64, level, message string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (transaction_id, level, message) VALUES ($1, $2, $3)`,
		transactionID, level, message)
	if err != nil {
		return fmt.Errorf("append audit entry for transaction %d: %w", transactionID, err)
	}
	if level == types.AuditCritical {
		log.Errorw(fmt.Errorf("transaction %d: %s", transactionID, message), "manual intervention required")
	}
	return nil
}

// RecordAudit writes one audit_log row in its own transaction, for
// callers that are not already inside one. A zero transactionID records
// an entry tied to no transfer, such as a name enquiry.
func (s *Store) RecordAudit(ctx context.Context, transactionID int64, level, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (transaction_id, level, message) VALUES ($1, $2, $3)`,
		transactionID, level, message)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// CriticalAlerts returns the newest critical audit entries, the feed
// behind the operator alerts endpoint.
func (s *Store) CriticalAlerts(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, level, message, created_at
		FROM audit_log WHERE level = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		types.AuditCritical, limit)
	if err != nil {
		return nil, fmt.Errorf("query critical alerts: %w", err)
	}
	defer rows.Close()

	var entries []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
