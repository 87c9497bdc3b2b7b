package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is the primary aggregate: one funds transfer moving
// through the two-leg debit-then-credit state machine. Rows are never
// deleted; terminal rows are retained for audit.
type Transaction struct {
	ID              int64  `json:"id"`
	ReferenceNumber string `json:"referenceNumber"`
	SessionID       string `json:"sessionId"`

	InstitutionID     string `json:"institutionId"`
	CredentialID      string `json:"credentialId"`
	ClientCallbackURL string `json:"clientCallbackUrl"`

	SourceBankCode     string `json:"sourceBankCode"`
	SourceAccount      string `json:"sourceAccount"`
	SourceAccountName  string `json:"sourceAccountName"`
	DestBankCode       string `json:"destBankCode"`
	DestAccount        string `json:"destAccount"`
	DestAccountName    string `json:"destAccountName"`

	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration"`

	Status             TxStatus `json:"status"`
	StatusMessage      string   `json:"statusMessage,omitempty"`
	FTDActionCode      string   `json:"ftdActionCode,omitempty"`
	FTCActionCode      string   `json:"ftcActionCode,omitempty"`
	ReversalActionCode string   `json:"reversalActionCode,omitempty"`

	LegDeadline      *time.Time `json:"legDeadline,omitempty"`
	TSQAttempts      int        `json:"tsqAttempts"`
	TSQNextAttemptAt *time.Time `json:"tsqNextAttemptAt,omitempty"`
	ReversalAttempts int        `json:"reversalAttempts"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LastActionCode returns the action code of the most advanced leg, used
// by the status query endpoint.
func (t *Transaction) LastActionCode() string {
	switch {
	case t.ReversalActionCode != "":
		return t.ReversalActionCode
	case t.FTCActionCode != "":
		return t.FTCActionCode
	default:
		return t.FTDActionCode
	}
}

// NewSessionID returns a globally unique session identifier assigned on
// first GIP dispatch.
func NewSessionID() string {
	return uuid.NewString()
}

// GipEvent is one row of the append-only audit log: every outbound
// request to GIP and every inbound callback lands here with a
// per-transaction monotonically increasing sequence number.
type GipEvent struct {
	ID             int64           `json:"id"`
	TransactionID  int64           `json:"transactionId"`
	EventSeq       int             `json:"eventSeq"`
	Kind           EventKind       `json:"kind"`
	SessionID      string          `json:"sessionId"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	ActionCode     string          `json:"actionCode,omitempty"`
	Outcome        string          `json:"outcome,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// GipCallback is one row of the inbound queue, written by the callback
// HTTP handler and consumed by the callback processor.
type GipCallback struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"sessionId"`
	FunctionCode    FunctionCode    `json:"functionCode"`
	ActionCode      string          `json:"actionCode"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	Status          CallbackStatus  `json:"status"`
	ProcessingError string          `json:"processingError,omitempty"`
}

// ClientCallback is one row of the outbound queue: a terminal-state
// notification to be delivered to the originating institution's
// webhook with bounded exponential retry.
type ClientCallback struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transactionId"`
	URL           string          `json:"url"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	Status        DeliveryStatus  `json:"status"`
	LastHTTPCode  int             `json:"lastHttpCode,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// WebhookPayload is the JSON body POSTed to an institution's webhook.
type WebhookPayload struct {
	Status          string          `json:"status"`
	TransactionID   int64           `json:"transactionId"`
	ReferenceNumber string          `json:"referenceNumber"`
	SessionID       string          `json:"sessionId"`
	ActionCode      string          `json:"actionCode"`
	Amount          decimal.Decimal `json:"amount"`
	Message         string          `json:"message,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// AuditEntry is a row of the audit_log table. Critical entries surface
// transactions that need manual intervention.
type AuditEntry struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transactionId"`
	Level         string    `json:"level"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Audit levels.
const (
	AuditInfo     = "INFO"
	AuditCritical = "CRITICAL"
)
