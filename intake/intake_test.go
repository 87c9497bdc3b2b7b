package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/types"
)

// stubGateway answers every call from canned responses.
type stubGateway struct {
	necResp *gateway.NameEnquiryResponse
	necErr  error

	ftdResp  *gateway.TransferResponse
	ftdErr   error
	ftdCalls int
}

func (s *stubGateway) NameEnquiry(ctx context.Context, req *gateway.NameEnquiryRequest) (*gateway.NameEnquiryResponse, error) {
	return s.necResp, s.necErr
}

func (s *stubGateway) FundsTransferDebit(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResponse, error) {
	s.ftdCalls++
	return s.ftdResp, s.ftdErr
}

func (s *stubGateway) FundsTransferCredit(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) Reversal(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) StatusQuery(ctx context.Context, sessionID string) (*gateway.TSQResponse, error) {
	return nil, errors.New("not implemented")
}

// stubStore keeps intake's persistence calls in memory.
type stubStore struct {
	audits []string
	events []types.GipEvent
	txn    *types.Transaction
}

func (s *stubStore) CreateTransaction(ctx context.Context, t *types.Transaction) error {
	t.ID = 1
	t.Status = types.TxInitiated
	s.txn = t
	return nil
}

func (s *stubStore) MarkFTDDispatched(ctx context.Context, id int64, resp *gateway.TransferResponse) error {
	s.txn.Status = types.TxFTDPending
	return nil
}

func (s *stubStore) RecordEvent(ctx context.Context, transactionID int64, ev *types.GipEvent) error {
	ev.TransactionID = transactionID
	s.events = append(s.events, *ev)
	return nil
}

func (s *stubStore) RecordAudit(ctx context.Context, transactionID int64, level, message string) error {
	s.audits = append(s.audits, fmt.Sprintf("%s %s", level, message))
	return nil
}

func (s *stubStore) TransactionBySession(ctx context.Context, sessionID string) (*types.Transaction, error) {
	if s.txn == nil || s.txn.SessionID != sessionID {
		return nil, errors.New("not found")
	}
	return s.txn, nil
}

func (s *stubStore) TransactionByReference(ctx context.Context, institutionID, reference string) (*types.Transaction, error) {
	return nil, errors.New("not found")
}

func (s *stubStore) Events(ctx context.Context, transactionID int64) ([]types.GipEvent, error) {
	return s.events, nil
}

func TestNameEnquiry(t *testing.T) {
	c := qt.New(t)
	store := &stubStore{}
	i := New(store, &stubGateway{
		necResp: &gateway.NameEnquiryResponse{ActionCode: "000", AccountName: "ADA OKONKWO"},
	})

	resp, err := i.NameEnquiry(context.Background(), "058", "0123456789")
	c.Assert(err, qt.IsNil)
	c.Assert(resp.AccountName, qt.Equals, "ADA OKONKWO")

	// the enquiry leaves an audit row but no transaction
	c.Assert(store.audits, qt.HasLen, 1)
	c.Assert(store.audits[0], qt.Matches, `INFO name enquiry 058/0123456789.*000`)
	c.Assert(store.txn, qt.IsNil)
}

func TestNameEnquiryValidation(t *testing.T) {
	c := qt.New(t)
	i := New(&stubStore{}, &stubGateway{})

	_, err := i.NameEnquiry(context.Background(), "", "0123456789")
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)
	_, err = i.NameEnquiry(context.Background(), "058", "")
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)
}

func TestNameEnquiryGatewayDown(t *testing.T) {
	c := qt.New(t)
	store := &stubStore{}
	i := New(store, &stubGateway{necErr: errors.New("connection refused")})

	_, err := i.NameEnquiry(context.Background(), "058", "0123456789")
	c.Assert(errors.Is(err, ErrGatewayUnreachable), qt.IsTrue)
	c.Assert(store.audits, qt.HasLen, 0)
}

func validTransfer() *TransferRequest {
	return &TransferRequest{
		InstitutionID:   "INST-1",
		ReferenceNumber: "REF-1",
		SourceBankCode:  "011",
		SourceAccount:   "1111111111",
		DestBankCode:    "058",
		DestAccount:     "0123456789",
		Amount:          decimal.RequireFromString("100"),
	}
}

func TestFundsTransferValidation(t *testing.T) {
	c := qt.New(t)
	i := New(nil, &stubGateway{})

	req := validTransfer()
	req.ReferenceNumber = ""
	_, err := i.FundsTransfer(context.Background(), req)
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)

	req = validTransfer()
	req.SourceAccount = ""
	_, err = i.FundsTransfer(context.Background(), req)
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)

	req = validTransfer()
	req.DestBankCode = ""
	_, err = i.FundsTransfer(context.Background(), req)
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)

	req = validTransfer()
	req.Amount = decimal.Zero
	_, err = i.FundsTransfer(context.Background(), req)
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)

	req = validTransfer()
	req.Amount = decimal.RequireFromString("-5")
	_, err = i.FundsTransfer(context.Background(), req)
	c.Assert(errors.Is(err, ErrInvalidRequest), qt.IsTrue)
}

func TestFundsTransferDispatchFailure(t *testing.T) {
	c := qt.New(t)
	store := &stubStore{}
	gw := &stubGateway{ftdErr: errors.New("connection refused")}
	i := New(store, gw)

	txn, err := i.FundsTransfer(context.Background(), validTransfer())
	c.Assert(errors.Is(err, ErrGatewayUnreachable), qt.IsTrue)

	// one retry, then the row is left INITIATED with the failed
	// dispatch on the durable record
	c.Assert(gw.ftdCalls, qt.Equals, 2)
	c.Assert(txn.Status, qt.Equals, types.TxInitiated)
	c.Assert(store.events, qt.HasLen, 1)
	c.Assert(store.events[0].Kind, qt.Equals, types.EventFTDRequest)
	c.Assert(store.events[0].Outcome, qt.Equals, types.OutcomeDispatchFailed)
}

func TestFundsTransferHappyPath(t *testing.T) {
	c := qt.New(t)
	store := &stubStore{}
	gw := &stubGateway{ftdResp: &gateway.TransferResponse{ActionCode: "000", TrackingNumber: "TRK-1"}}
	i := New(store, gw)

	txn, err := i.FundsTransfer(context.Background(), validTransfer())
	c.Assert(err, qt.IsNil)
	c.Assert(gw.ftdCalls, qt.Equals, 1)
	c.Assert(txn.Status, qt.Equals, types.TxFTDPending)
	c.Assert(txn.SessionID, qt.Not(qt.Equals), "")
}
