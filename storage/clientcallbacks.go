package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

const deliveryColumns = `id, transaction_id, url, payload, attempts, max_attempts,
	next_attempt_at, status, last_http_code, last_error, created_at`

func scanDelivery(row pgx.Row) (*types.ClientCallback, error) {
	var cb types.ClientCallback
	err := row.Scan(&cb.ID, &cb.TransactionID, &cb.URL, &cb.Payload, &cb.Attempts,
		&cb.MaxAttempts, &cb.NextAttemptAt, &cb.Status, &cb.LastHTTPCode, &cb.LastError, &cb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan client callback: %w", err)
	}
	return &cb, nil
}

// DeliveryJob is one claimed outbound webhook delivery. Exactly one of
// Succeed, RetryLater, Fail or Close must be called.
type DeliveryJob struct {
	Callback *types.ClientCallback

	store *Store
	tx    pgx.Tx
	done  bool
}

// NextDueClientCallback claims the next due PENDING webhook, skipping
// locked rows. Returns (nil, nil) when nothing is due.
func (s *Store) NextDueClientCallback(ctx context.Context) (*DeliveryJob, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM client_callbacks
		WHERE status = 'PENDING' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	cb, err := scanDelivery(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &DeliveryJob{Callback: cb, store: s, tx: tx}, nil
}

// Succeed marks the delivery DELIVERED with the HTTP status received.
func (j *DeliveryJob) Succeed(ctx context.Context, httpCode int) error {
	return j.finish(ctx, `
		UPDATE client_callbacks SET
			status = $2, attempts = attempts + 1, last_http_code = $3, last_error = ''
		WHERE id = $1`,
		types.DeliveryDelivered, httpCode)
}

// RetryLater counts the failed attempt and schedules the next one.
func (j *DeliveryJob) RetryLater(ctx context.Context, httpCode int, errMsg string, nextIn time.Duration) error {
	return j.finish(ctx, `
		UPDATE client_callbacks SET
			attempts = attempts + 1, last_http_code = $3, last_error = $4,
			next_attempt_at = now() + $2::interval
		WHERE id = $1`,
		fmt.Sprintf("%.0f seconds", nextIn.Seconds()), httpCode, errMsg)
}

// Fail marks the delivery FAILED after the attempt budget is spent and
// writes a critical audit entry, since the institution now has no
// durable notification of the outcome.
func (j *DeliveryJob) Fail(ctx context.Context, httpCode int, errMsg string) error {
	if j.done {
		return fmt.Errorf("delivery job %d already finished", j.Callback.ID)
	}
	msg := fmt.Sprintf("webhook delivery to %s abandoned after %d attempts: %s",
		j.Callback.URL, j.Callback.Attempts+1, errMsg)
	if err := appendAudit(ctx, j.tx, j.Callback.TransactionID, types.AuditCritical, msg); err != nil {
		return err
	}
	return j.finish(ctx, `
		UPDATE client_callbacks SET
			status = $2, attempts = attempts + 1, last_http_code = $3, last_error = $4
		WHERE id = $1`,
		types.DeliveryFailed, httpCode, errMsg)
}

func (j *DeliveryJob) finish(ctx context.Context, query string, args ...any) error {
	if j.done {
		return fmt.Errorf("delivery job %d already finished", j.Callback.ID)
	}
	allArgs := append([]any{j.Callback.ID}, args...)
	if _, err := j.tx.Exec(ctx, query, allArgs...); err != nil {
		return fmt.Errorf("update client callback %d: %w", j.Callback.ID, err)
	}
	if err := j.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit client callback %d: %w", j.Callback.ID, err)
	}
	j.done = true
	return nil
}

// Close rolls back an unfinished job; the delivery stays due.
func (j *DeliveryJob) Close(ctx context.Context) {
	if j.done {
		return
	}
	if err := j.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.Warnw("rollback delivery job", "callback", j.Callback.ID, "err", err.Error())
	}
	j.done = true
}
