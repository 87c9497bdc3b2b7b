package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/types"
)

// testStore connects to the database named by GIPSWITCH_TEST_DB_URL.
// Integration tests are skipped when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("GIPSWITCH_TEST_DB_URL")
	if url == "" {
		t.Skip("GIPSWITCH_TEST_DB_URL not set")
	}
	cfg := DefaultConfig()
	cfg.DatabaseURL = url
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testTransaction(reference string) *types.Transaction {
	return &types.Transaction{
		ReferenceNumber: reference,
		SessionID:       types.NewSessionID(),
		InstitutionID:   "INST-TEST",
		SourceBankCode:  "011",
		SourceAccount:   "1111111111",
		DestBankCode:    "058",
		DestAccount:     "0123456789",
		Amount:          decimal.RequireFromString("250.00"),
		Narration:       "integration test",
	}
}

func acceptedDispatch(ctx context.Context, txn *types.Transaction) (*gateway.TransferResponse, error) {
	return &gateway.TransferResponse{ActionCode: "000", TrackingNumber: "TRK-TEST"}, nil
}

func TestCreateTransactionDuplicateReference(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	ctx := context.Background()

	ref := "REF-" + types.NewSessionID()
	c.Assert(s.CreateTransaction(ctx, testTransaction(ref)), qt.IsNil)
	err := s.CreateTransaction(ctx, testTransaction(ref))
	c.Assert(err, qt.Equals, ErrDuplicateReference)
}

func TestHappyPathLifecycle(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	ctx := context.Background()
	rules := engine.DefaultRules()

	txn := testTransaction("REF-" + types.NewSessionID())
	c.Assert(s.CreateTransaction(ctx, txn), qt.IsNil)
	c.Assert(txn.Status, qt.Equals, types.TxInitiated)

	// debit accepted by the gateway
	c.Assert(s.MarkFTDDispatched(ctx, txn.ID, &gateway.TransferResponse{
		ActionCode: "000", TrackingNumber: "TRK-1",
	}), qt.IsNil)
	got, err := s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxFTDPending)
	c.Assert(got.LegDeadline, qt.IsNotNil)

	// debit success callback
	c.Assert(s.EnqueueCallback(ctx, &types.GipCallback{
		SessionID:    txn.SessionID,
		FunctionCode: types.FuncFTD,
		ActionCode:   "000",
	}), qt.IsNil)
	job := claimCallbackFor(c, s, txn.SessionID)
	d := rules.RouteCallback(job.Txn, job.Callback.FunctionCode, job.Callback.ActionCode)
	c.Assert(job.Apply(ctx, d, acceptedDispatch), qt.IsNil)

	got, err = s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxFTCPending)
	c.Assert(got.FTDActionCode, qt.Equals, "000")

	// credit success callback completes the transfer
	c.Assert(s.EnqueueCallback(ctx, &types.GipCallback{
		SessionID:    txn.SessionID,
		FunctionCode: types.FuncFTC,
		ActionCode:   "000",
	}), qt.IsNil)
	job = claimCallbackFor(c, s, txn.SessionID)
	d = rules.RouteCallback(job.Txn, job.Callback.FunctionCode, job.Callback.ActionCode)
	c.Assert(job.Apply(ctx, d, nil), qt.IsNil)

	got, err = s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxCompleted)

	// the audit trail holds the full exchange in order
	events, err := s.Events(ctx, txn.ID)
	c.Assert(err, qt.IsNil)
	kinds := make([]types.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
		c.Assert(ev.EventSeq, qt.Equals, i+1)
	}
	c.Assert(kinds, qt.DeepEquals, []types.EventKind{
		types.EventFTDRequest,
		types.EventFTDCallback,
		types.EventFTCRequest,
		types.EventFTCCallback,
	})
}

func TestDuplicateCallbackIsIgnored(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	ctx := context.Background()
	rules := engine.DefaultRules()

	txn := testTransaction("REF-" + types.NewSessionID())
	c.Assert(s.CreateTransaction(ctx, txn), qt.IsNil)
	c.Assert(s.MarkFTDDispatched(ctx, txn.ID, &gateway.TransferResponse{ActionCode: "000"}), qt.IsNil)

	for i := 0; i < 2; i++ {
		c.Assert(s.EnqueueCallback(ctx, &types.GipCallback{
			SessionID:    txn.SessionID,
			FunctionCode: types.FuncFTD,
			ActionCode:   "000",
		}), qt.IsNil)
	}

	job := claimCallbackFor(c, s, txn.SessionID)
	d := rules.RouteCallback(job.Txn, job.Callback.FunctionCode, job.Callback.ActionCode)
	c.Assert(job.Apply(ctx, d, acceptedDispatch), qt.IsNil)

	// the replay routes to Ignored and moves nothing
	job = claimCallbackFor(c, s, txn.SessionID)
	d = rules.RouteCallback(job.Txn, job.Callback.FunctionCode, job.Callback.ActionCode)
	c.Assert(d.Resolution, qt.Equals, types.CallbackIgnored)
	c.Assert(job.Apply(ctx, d, nil), qt.IsNil)

	got, err := s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxFTCPending)
}

func TestConcurrentCallbackClaim(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	ctx := context.Background()
	rules := engine.DefaultRules()

	// leave exactly one PENDING row in the queue
	drainCallbackQueue(c, s)
	txn := testTransaction("REF-" + types.NewSessionID())
	c.Assert(s.CreateTransaction(ctx, txn), qt.IsNil)
	c.Assert(s.MarkFTDDispatched(ctx, txn.ID, &gateway.TransferResponse{ActionCode: "000"}), qt.IsNil)
	c.Assert(s.EnqueueCallback(ctx, &types.GipCallback{
		SessionID:    txn.SessionID,
		FunctionCode: types.FuncFTD,
		ActionCode:   "000",
	}), qt.IsNil)

	// race four claimers: the locked row is skipped by everyone but
	// the winner, so exactly one worker processes the callback
	const claimers = 4
	results := make(chan *CallbackJob, claimers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := s.NextPendingCallback(ctx)
			c.Check(err, qt.IsNil)
			if job != nil {
				results <- job
			}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var claimed []*CallbackJob
	for job := range results {
		claimed = append(claimed, job)
	}
	c.Assert(claimed, qt.HasLen, 1)

	job := claimed[0]
	d := rules.RouteCallback(job.Txn, job.Callback.FunctionCode, job.Callback.ActionCode)
	c.Assert(job.Apply(ctx, d, acceptedDispatch), qt.IsNil)

	got, err := s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxFTCPending)
}

func TestOverallTransactionDeadlineSweep(t *testing.T) {
	c := qt.New(t)
	s := testStore(t)
	ctx := context.Background()
	s.cfg.TransactionTimeout = time.Millisecond

	txn := testTransaction("REF-" + types.NewSessionID())
	c.Assert(s.CreateTransaction(ctx, txn), qt.IsNil)
	c.Assert(s.MarkFTDDispatched(ctx, txn.ID, &gateway.TransferResponse{ActionCode: "000"}), qt.IsNil)
	time.Sleep(10 * time.Millisecond)

	// the leg deadline is still half an hour away; the overall budget
	// is what escalates the row
	_, err := s.SweepTimeouts(ctx, 100)
	c.Assert(err, qt.IsNil)

	got, err := s.TransactionBySession(ctx, txn.SessionID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, types.TxTimeout)
	c.Assert(got.TSQNextAttemptAt, qt.IsNotNil)
}

// drainCallbackQueue resolves every PENDING callback left over from
// earlier runs as ignored.
func drainCallbackQueue(c *qt.C, s *Store) {
	ctx := context.Background()
	for {
		job, err := s.NextPendingCallback(ctx)
		c.Assert(err, qt.IsNil)
		if job == nil {
			return
		}
		c.Assert(job.Resolve(ctx, types.CallbackIgnored), qt.IsNil)
	}
}

// claimCallbackFor drains the pending queue until it claims a callback
// belonging to the given session. Rows left over from earlier runs are
// resolved as ignored so the loop always makes progress.
func claimCallbackFor(c *qt.C, s *Store, sessionID string) *CallbackJob {
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.NextPendingCallback(ctx)
		c.Assert(err, qt.IsNil)
		if job == nil {
			break
		}
		if job.Callback.SessionID == sessionID {
			return job
		}
		c.Assert(job.Resolve(ctx, types.CallbackIgnored), qt.IsNil)
	}
	c.Fatalf("no pending callback for session %s", sessionID)
	return nil
}
