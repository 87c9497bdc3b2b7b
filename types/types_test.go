package types

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestTerminal(t *testing.T) {
	c := qt.New(t)

	c.Assert(TxCompleted.Terminal(), qt.IsTrue)
	c.Assert(TxFailed.Terminal(), qt.IsTrue)
	for _, s := range []TxStatus{
		TxInitiated, TxFTDPending, TxFTDTSQ, TxFTCFailed,
		TxReversalPending, TxReversalFailed, TxTimeout,
	} {
		c.Assert(s.Terminal(), qt.IsFalse, qt.Commentf("status %s", s))
	}
}

func TestLastActionCode(t *testing.T) {
	c := qt.New(t)

	txn := &Transaction{FTDActionCode: "000"}
	c.Assert(txn.LastActionCode(), qt.Equals, "000")

	txn.FTCActionCode = "305"
	c.Assert(txn.LastActionCode(), qt.Equals, "305")

	txn.ReversalActionCode = "000"
	c.Assert(txn.LastActionCode(), qt.Equals, "000")
}

func TestNewSessionIDUnique(t *testing.T) {
	c := qt.New(t)

	a, b := NewSessionID(), NewSessionID()
	c.Assert(a, qt.Not(qt.Equals), "")
	c.Assert(a, qt.Not(qt.Equals), b)
}
