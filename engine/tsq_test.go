package engine

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/meridianpay/gipswitch/types"
)

func TestPendingLeg(t *testing.T) {
	c := qt.New(t)

	c.Assert(PendingLeg(txnIn(types.TxFTDTSQ)), qt.Equals, LegFTD)
	c.Assert(PendingLeg(txnIn(types.TxFTCTSQ)), qt.Equals, LegFTC)
	c.Assert(PendingLeg(txnIn(types.TxCompleted)), qt.Equals, LegNone)

	// a timed-out row resolves the leg from the debit action code
	timedOut := txnIn(types.TxTimeout)
	c.Assert(PendingLeg(timedOut), qt.Equals, LegFTD)
	timedOut.FTDActionCode = "000"
	c.Assert(PendingLeg(timedOut), qt.Equals, LegFTC)
}

func TestRetryDelay(t *testing.T) {
	c := qt.New(t)
	r := Rules{TSQBaseInterval: 5 * time.Minute, TSQMaxInterval: time.Hour}

	c.Assert(r.RetryDelay(0), qt.Equals, 5*time.Minute)
	c.Assert(r.RetryDelay(1), qt.Equals, 10*time.Minute)
	c.Assert(r.RetryDelay(2), qt.Equals, 20*time.Minute)
	c.Assert(r.RetryDelay(3), qt.Equals, 40*time.Minute)
	c.Assert(r.RetryDelay(4), qt.Equals, time.Hour)
	c.Assert(r.RetryDelay(10), qt.Equals, time.Hour)
}

func TestResolveTSQApprovedDebit(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	txn := txnIn(types.TxFTDTSQ)
	txn.TSQAttempts = 1
	d := r.ResolveTSQ(txn, "000", "000")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTDSuccess, types.TxFTCPending})
	c.Assert(d.DispatchFTC, qt.IsTrue)
	c.Assert(d.Leg, qt.Equals, LegFTD)
	c.Assert(d.ActionCode, qt.Equals, "000")
}

func TestResolveTSQApprovedCredit(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	txn := txnIn(types.TxFTCTSQ)
	txn.TSQAttempts = 1
	d := r.ResolveTSQ(txn, "000", "000")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTCSuccess, types.TxCompleted})
	c.Assert(d.Notify, qt.Not(qt.IsNil))
	c.Assert(d.Notify.Status, qt.Equals, types.NotifyStatusSuccess)
}

func TestResolveTSQNotFound(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	txn := txnIn(types.TxFTDTSQ)
	txn.TSQAttempts = 1
	d := r.ResolveTSQ(txn, "000", "381")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTDFailed})
	c.Assert(d.Notify, qt.Not(qt.IsNil))

	// credit leg not found parks the row for the reversal worker
	txn = txnIn(types.TxFTCTSQ)
	txn.TSQAttempts = 1
	d = r.ResolveTSQ(txn, "000", "381")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTCFailed})
	c.Assert(d.Notify, qt.IsNil)
}

func TestResolveTSQPendingReschedules(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	txn := txnIn(types.TxFTDTSQ)
	txn.TSQAttempts = 1
	d := r.ResolveTSQ(txn, "000", "990")
	c.Assert(d.Transitions, qt.HasLen, 0)
	c.Assert(d.ScheduleTSQIn, qt.Equals, r.RetryDelay(1))
	c.Assert(d.CriticalAlert, qt.Equals, "")
}

func TestResolveTSQExhaustion(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	txn := txnIn(types.TxFTDTSQ)
	txn.TSQAttempts = r.TSQMaxAttempts
	d := r.ResolveTSQ(txn, "000", "990")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTDFailed})
	c.Assert(d.CriticalAlert, qt.Not(qt.Equals), "")
	c.Assert(d.Notify, qt.Not(qt.IsNil))

	// a credit leg with the debit already booked must take the
	// reversal path, never jump straight to FAILED
	txn = txnIn(types.TxFTCTSQ)
	txn.FTDActionCode = "000"
	txn.TSQAttempts = r.TSQMaxAttempts
	d = r.ResolveTSQ(txn, "000", "990")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTCFailed})
	c.Assert(d.Notify, qt.IsNil)
}

func TestResolveTSQFromTimeout(t *testing.T) {
	c := qt.New(t)
	r := DefaultRules()

	// timed-out debit leg, TSQ says approved: hop through FTD_TSQ
	txn := txnIn(types.TxTimeout)
	txn.TSQAttempts = 1
	d := r.ResolveTSQ(txn, "000", "000")
	c.Assert(d.Transitions, qt.DeepEquals,
		[]types.TxStatus{types.TxFTDTSQ, types.TxFTDSuccess, types.TxFTCPending})
	c.Assert(ValidPath(txn.Status, d.Transitions), qt.IsTrue)

	// timed-out credit leg, still pending: enter FTC_TSQ and reschedule
	txn = txnIn(types.TxTimeout)
	txn.FTDActionCode = "000"
	txn.TSQAttempts = 1
	d = r.ResolveTSQ(txn, "000", "990")
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxFTCTSQ})
	c.Assert(d.ScheduleTSQIn, qt.Equals, r.RetryDelay(1))
}

func TestTimeoutDecision(t *testing.T) {
	c := qt.New(t)

	d := TimeoutDecision(txnIn(types.TxFTDPending))
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxTimeout})
	c.Assert(d.ScheduleTSQIn > 0, qt.IsTrue)

	d = TimeoutDecision(txnIn(types.TxFTCPending))
	c.Assert(d.Transitions, qt.DeepEquals, []types.TxStatus{types.TxTimeout})

	// only pending legs can time out
	d = TimeoutDecision(txnIn(types.TxFTDTSQ))
	c.Assert(d.Resolution, qt.Equals, types.CallbackIgnored)
	c.Assert(d.Transitions, qt.HasLen, 0)
}
