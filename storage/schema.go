package storage

// schema is applied on startup. Idempotent: every statement guards on
// existence. Rows in transactions are never deleted; terminal rows are
// retained for audit.
const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                    BIGSERIAL PRIMARY KEY,
	reference_number      TEXT        NOT NULL,
	session_id            TEXT        NOT NULL,
	institution_id        TEXT        NOT NULL,
	credential_id         TEXT        NOT NULL DEFAULT '',
	client_callback_url   TEXT        NOT NULL DEFAULT '',
	source_bank_code      TEXT        NOT NULL,
	source_account        TEXT        NOT NULL,
	source_account_name   TEXT        NOT NULL DEFAULT '',
	dest_bank_code        TEXT        NOT NULL,
	dest_account          TEXT        NOT NULL,
	dest_account_name     TEXT        NOT NULL DEFAULT '',
	amount                NUMERIC(18,2) NOT NULL CHECK (amount > 0),
	narration             TEXT        NOT NULL DEFAULT '',
	status                TEXT        NOT NULL,
	status_message        TEXT        NOT NULL DEFAULT '',
	ftd_action_code       TEXT        NOT NULL DEFAULT '',
	ftc_action_code       TEXT        NOT NULL DEFAULT '',
	reversal_action_code  TEXT        NOT NULL DEFAULT '',
	leg_deadline          TIMESTAMPTZ,
	tsq_attempts          INT         NOT NULL DEFAULT 0,
	tsq_next_attempt_at   TIMESTAMPTZ,
	reversal_attempts     INT         NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (institution_id, reference_number),
	UNIQUE (session_id)
);

CREATE INDEX IF NOT EXISTS transactions_status_idx
	ON transactions (status);
CREATE INDEX IF NOT EXISTS transactions_tsq_due_idx
	ON transactions (tsq_next_attempt_at)
	WHERE status IN ('FTD_TSQ', 'FTC_TSQ', 'TIMEOUT');
CREATE INDEX IF NOT EXISTS transactions_leg_deadline_idx
	ON transactions (leg_deadline)
	WHERE leg_deadline IS NOT NULL;

CREATE TABLE IF NOT EXISTS gip_events (
	id              BIGSERIAL PRIMARY KEY,
	transaction_id  BIGINT      NOT NULL REFERENCES transactions (id),
	event_seq       INT         NOT NULL,
	kind            TEXT        NOT NULL,
	session_id      TEXT        NOT NULL DEFAULT '',
	tracking_number TEXT        NOT NULL DEFAULT '',
	action_code     TEXT        NOT NULL DEFAULT '',
	outcome         TEXT        NOT NULL DEFAULT '',
	payload         JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (transaction_id, event_seq)
);

CREATE TABLE IF NOT EXISTS gip_callbacks (
	id               BIGSERIAL PRIMARY KEY,
	session_id       TEXT        NOT NULL,
	function_code    TEXT        NOT NULL,
	action_code      TEXT        NOT NULL DEFAULT '',
	tracking_number  TEXT        NOT NULL DEFAULT '',
	payload          JSONB,
	received_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	status           TEXT        NOT NULL DEFAULT 'PENDING',
	processing_error TEXT        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS gip_callbacks_pending_idx
	ON gip_callbacks (received_at)
	WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS client_callbacks (
	id              BIGSERIAL PRIMARY KEY,
	transaction_id  BIGINT      NOT NULL REFERENCES transactions (id),
	url             TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	attempts        INT         NOT NULL DEFAULT 0,
	max_attempts    INT         NOT NULL,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	status          TEXT        NOT NULL DEFAULT 'PENDING',
	last_http_code  INT         NOT NULL DEFAULT 0,
	last_error      TEXT        NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS client_callbacks_due_idx
	ON client_callbacks (next_attempt_at)
	WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS audit_log (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id BIGINT      NOT NULL DEFAULT 0,
	level          TEXT        NOT NULL,
	message        TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS audit_log_critical_idx
	ON audit_log (created_at)
	WHERE level = 'CRITICAL';
`
