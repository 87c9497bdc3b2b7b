// Package gateway implements the outbound HTTP client for the GIP
// clearing gateway: name enquiry, the two transfer legs, reversals and
// transaction status queries.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/types"
)

// Config holds the four gateway endpoints and the per-call timeout.
// Reversals are posted to the FTC endpoint with function code 242.
type Config struct {
	NECURL string
	FTDURL string
	FTCURL string
	TSQURL string
	// CallbackURL is this switch's inbound callback endpoint, carried
	// in every transfer request so the gateway knows where to answer.
	CallbackURL string
	Timeout     time.Duration
	// NECTimeout bounds name enquiries separately: the caller is waiting
	// on the answer synchronously, so enquiries get a longer budget than
	// the fire-and-forget legs.
	NECTimeout time.Duration
}

// TransferRequest carries one leg (debit, credit or reversal) to GIP.
type TransferRequest struct {
	SessionID       string
	TrackingNumber  string
	ReferenceNumber string

	SourceBankCode    string
	SourceAccount     string
	SourceAccountName string
	DestBankCode      string
	DestAccount       string
	DestAccountName   string

	Amount    decimal.Decimal
	Narration string
}

// TransferResponse is the synchronous acknowledgement of a leg
// dispatch. The leg outcome itself arrives later as a callback.
type TransferResponse struct {
	ActionCode     string
	TrackingNumber string
	Message        string
	Raw            json.RawMessage
}

// NameEnquiryRequest resolves the account holder name at a destination
// bank (function NEC/230).
type NameEnquiryRequest struct {
	DestBankCode string
	DestAccount  string
}

// NameEnquiryResponse carries the resolved name.
type NameEnquiryResponse struct {
	ActionCode  string
	AccountName string
	Raw         json.RawMessage
}

// TSQResponse is the authoritative two-code status reply of function
// 111: Code1 acknowledges the query, Code2 reports the leg status.
type TSQResponse struct {
	Code1 string
	Code2 string
	Raw   json.RawMessage
}

// Client is the outbound GIP surface consumed by intake and the
// workers. The HTTP implementation lives in this package; tests use
// stubs.
type Client interface {
	NameEnquiry(ctx context.Context, req *NameEnquiryRequest) (*NameEnquiryResponse, error)
	FundsTransferDebit(ctx context.Context, req *TransferRequest) (*TransferResponse, error)
	FundsTransferCredit(ctx context.Context, req *TransferRequest) (*TransferResponse, error)
	Reversal(ctx context.Context, req *TransferRequest) (*TransferResponse, error)
	StatusQuery(ctx context.Context, sessionID string) (*TSQResponse, error)
}

// TransferRequestFromTransaction builds the wire request for a leg of
// the given transaction.
func TransferRequestFromTransaction(txn *types.Transaction) *TransferRequest {
	return &TransferRequest{
		SessionID:         txn.SessionID,
		ReferenceNumber:   txn.ReferenceNumber,
		SourceBankCode:    txn.SourceBankCode,
		SourceAccount:     txn.SourceAccount,
		SourceAccountName: txn.SourceAccountName,
		DestBankCode:      txn.DestBankCode,
		DestAccount:       txn.DestAccount,
		DestAccountName:   txn.DestAccountName,
		Amount:            txn.Amount,
		Narration:         txn.Narration,
	}
}
