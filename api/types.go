package api

import (
	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/types"
)

// NameEnquiryRequest is the body of POST /nec.
type NameEnquiryRequest struct {
	DestBankCode string `json:"destBankCode"`
	DestAccount  string `json:"destAccount"`
}

// NameEnquiryData is the data of a successful name enquiry envelope.
type NameEnquiryData struct {
	ActionCode  string `json:"actionCode"`
	AccountName string `json:"accountName"`
}

// FundsTransferRequest is the body of POST /ft.
type FundsTransferRequest struct {
	ReferenceNumber string `json:"referenceNumber"`
	CallbackURL     string `json:"callbackUrl"`

	SourceBankCode    string `json:"sourceBankCode"`
	SourceAccount     string `json:"sourceAccount"`
	SourceAccountName string `json:"sourceAccountName"`
	DestBankCode      string `json:"destBankCode"`
	DestAccount       string `json:"destAccount"`
	DestAccountName   string `json:"destAccountName"`

	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration"`
}

// FundsTransferData acknowledges an accepted transfer.
type FundsTransferData struct {
	TransactionID   int64  `json:"transactionId"`
	ReferenceNumber string `json:"referenceNumber"`
	SessionID       string `json:"sessionId"`
	Status          string `json:"status"`
}

// StatusQueryRequest is the body of POST /tsq.
type StatusQueryRequest struct {
	ReferenceNumber string `json:"referenceNumber"`
}

// TransactionData reports the state of one transfer.
type TransactionData struct {
	TransactionID   int64            `json:"transactionId"`
	ReferenceNumber string           `json:"referenceNumber"`
	SessionID       string           `json:"sessionId"`
	Status          string           `json:"status"`
	StatusMessage   string           `json:"statusMessage,omitempty"`
	ActionCode      string           `json:"actionCode,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	Events          []types.GipEvent `json:"events,omitempty"`
}

// GipCallbackRequest is the body GIP POSTs to /callback.
type GipCallbackRequest struct {
	SessionID      string `json:"session_id"`
	FunctionCode   string `json:"function_code"`
	ActionCode     string `json:"action_code"`
	TrackingNumber string `json:"tracking_number"`
}

// transactionData builds the external view of a transaction. The
// credit-success waypoint is reported as COMPLETED.
func transactionData(txn *types.Transaction, events []types.GipEvent) *TransactionData {
	status := txn.Status
	if status == types.TxFTCSuccess {
		status = types.TxCompleted
	}
	return &TransactionData{
		TransactionID:   txn.ID,
		ReferenceNumber: txn.ReferenceNumber,
		SessionID:       txn.SessionID,
		Status:          string(status),
		StatusMessage:   txn.StatusMessage,
		ActionCode:      txn.LastActionCode(),
		Amount:          txn.Amount,
		Events:          events,
	}
}
