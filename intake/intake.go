// Package intake implements the synchronous client-facing operations:
// name enquiry, funds-transfer initiation and status lookup. It owns
// the only code path that creates transactions.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

// ErrGatewayUnreachable means the debit leg could not be handed to GIP
// after retrying; the transaction stays INITIATED and the client may
// resubmit under a new reference.
var ErrGatewayUnreachable = errors.New("gateway unreachable")

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Storage is the persistence surface intake needs, satisfied by
// storage.Store.
type Storage interface {
	CreateTransaction(ctx context.Context, t *types.Transaction) error
	MarkFTDDispatched(ctx context.Context, id int64, resp *gateway.TransferResponse) error
	RecordEvent(ctx context.Context, transactionID int64, ev *types.GipEvent) error
	RecordAudit(ctx context.Context, transactionID int64, level, message string) error
	TransactionBySession(ctx context.Context, sessionID string) (*types.Transaction, error)
	TransactionByReference(ctx context.Context, institutionID, reference string) (*types.Transaction, error)
	Events(ctx context.Context, transactionID int64) ([]types.GipEvent, error)
}

// Intake glues the store and the gateway client for the API handlers.
type Intake struct {
	store Storage
	gip   gateway.Client
}

// New returns an Intake over the given store and gateway client.
func New(store Storage, gip gateway.Client) *Intake {
	return &Intake{store: store, gip: gip}
}

// TransferRequest is a client's funds-transfer submission, already
// authenticated by the API layer.
type TransferRequest struct {
	InstitutionID   string
	CredentialID    string
	ReferenceNumber string
	CallbackURL     string

	SourceBankCode    string
	SourceAccount     string
	SourceAccountName string
	DestBankCode      string
	DestAccount       string
	DestAccountName   string

	Amount    decimal.Decimal
	Narration string
}

func (r *TransferRequest) validate() error {
	switch {
	case r.ReferenceNumber == "":
		return fmt.Errorf("%w: missing reference number", ErrInvalidRequest)
	case r.SourceBankCode == "" || r.SourceAccount == "":
		return fmt.Errorf("%w: missing source account", ErrInvalidRequest)
	case r.DestBankCode == "" || r.DestAccount == "":
		return fmt.Errorf("%w: missing destination account", ErrInvalidRequest)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// NameEnquiry resolves the destination account holder synchronously.
// The enquiry creates no transaction, only an audit row.
func (i *Intake) NameEnquiry(ctx context.Context, destBankCode, destAccount string) (*gateway.NameEnquiryResponse, error) {
	if destBankCode == "" || destAccount == "" {
		return nil, fmt.Errorf("%w: missing destination account", ErrInvalidRequest)
	}
	resp, err := i.gip.NameEnquiry(ctx, &gateway.NameEnquiryRequest{
		DestBankCode: destBankCode,
		DestAccount:  destAccount,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnreachable, err)
	}
	msg := fmt.Sprintf("name enquiry %s/%s: action code %s", destBankCode, destAccount, resp.ActionCode)
	if err := i.store.RecordAudit(ctx, 0, types.AuditInfo, msg); err != nil {
		log.Warnw("record name enquiry audit", "err", err.Error())
	}
	return resp, nil
}

// FundsTransfer creates the transaction and dispatches the debit leg.
// The session id is assigned before the row is written so the gateway
// and the database always agree on it. The dispatch is retried once;
// if both attempts fail the row stays INITIATED, which is inert: no
// worker picks it up and no money moved.
func (i *Intake) FundsTransfer(ctx context.Context, req *TransferRequest) (*types.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	txn := &types.Transaction{
		ReferenceNumber:   req.ReferenceNumber,
		SessionID:         types.NewSessionID(),
		InstitutionID:     req.InstitutionID,
		CredentialID:      req.CredentialID,
		ClientCallbackURL: req.CallbackURL,
		SourceBankCode:    req.SourceBankCode,
		SourceAccount:     req.SourceAccount,
		SourceAccountName: req.SourceAccountName,
		DestBankCode:      req.DestBankCode,
		DestAccount:       req.DestAccount,
		DestAccountName:   req.DestAccountName,
		Amount:            req.Amount,
		Narration:         req.Narration,
	}
	if err := i.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	log.Infow("transfer accepted",
		"transaction", txn.ID, "institution", txn.InstitutionID,
		"reference", txn.ReferenceNumber, "session", txn.SessionID,
		"amount", txn.Amount.String())

	wire := gateway.TransferRequestFromTransaction(txn)
	resp, err := i.gip.FundsTransferDebit(ctx, wire)
	if err != nil {
		log.Warnw("debit dispatch failed, retrying once",
			"transaction", txn.ID, "err", err.Error())
		resp, err = i.gip.FundsTransferDebit(ctx, wire)
	}
	if err != nil {
		log.Errorw(err, "debit dispatch failed twice, transaction stays INITIATED")
		if recErr := i.store.RecordEvent(ctx, txn.ID, &types.GipEvent{
			Kind:      types.EventFTDRequest,
			SessionID: txn.SessionID,
			Outcome:   types.OutcomeDispatchFailed,
		}); recErr != nil {
			log.Warnw("record failed dispatch event", "transaction", txn.ID, "err", recErr.Error())
		}
		return txn, fmt.Errorf("%w: %s", ErrGatewayUnreachable, err)
	}

	if err := i.store.MarkFTDDispatched(ctx, txn.ID, resp); err != nil {
		return txn, err
	}
	txn, err = i.store.TransactionBySession(ctx, txn.SessionID)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// TransactionStatus returns the current state of a transfer by the
// institution's own reference.
func (i *Intake) TransactionStatus(ctx context.Context, institutionID, reference string) (*types.Transaction, error) {
	return i.store.TransactionByReference(ctx, institutionID, reference)
}

// TransactionEvents returns the gateway audit trail for one transfer.
func (i *Intake) TransactionEvents(ctx context.Context, transactionID int64) ([]types.GipEvent, error) {
	return i.store.Events(ctx, transactionID)
}
