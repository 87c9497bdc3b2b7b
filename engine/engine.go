// Package engine holds the transaction state machine: the transition
// graph, the gateway action-code classification and the routing of
// callbacks and TSQ responses into state-changing decisions. The
// package is pure; persistence and HTTP live elsewhere.
package engine

import (
	"time"

	"github.com/meridianpay/gipswitch/types"
)

// Outcome classifies a gateway action code.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInconclusive
	OutcomeFailure
)

// Rules carries the tunables the engine needs. It is built once at
// startup from the daemon configuration.
type Rules struct {
	InconclusiveCodes map[string]bool
	TSQBaseInterval   time.Duration
	TSQMaxInterval    time.Duration
	TSQMaxAttempts    int
}

// DefaultRules returns the engine rules with the documented defaults.
func DefaultRules() Rules {
	return Rules{
		InconclusiveCodes: types.DefaultInconclusiveCodes(),
		TSQBaseInterval:   5 * time.Minute,
		TSQMaxInterval:    time.Hour,
		TSQMaxAttempts:    3,
	}
}

// Classify maps a gateway action code to an outcome. "000" is success,
// codes in the inconclusive set (including the empty string) require a
// TSQ, everything else is a definitive failure.
func (r Rules) Classify(actionCode string) Outcome {
	switch {
	case actionCode == types.ActionCodeSuccess:
		return OutcomeSuccess
	case r.InconclusiveCodes[actionCode]:
		return OutcomeInconclusive
	default:
		return OutcomeFailure
	}
}

// transitions is the permitted status DAG. Any persisted status change
// must be a path through this graph; backward or sideways transitions
// never commit.
var transitions = map[types.TxStatus][]types.TxStatus{
	types.TxInitiated:       {types.TxFTDPending},
	types.TxFTDPending:      {types.TxFTDSuccess, types.TxFTDTSQ, types.TxFTDFailed, types.TxTimeout},
	types.TxFTDTSQ:          {types.TxFTDSuccess, types.TxFTDFailed},
	types.TxFTDSuccess:      {types.TxFTCPending},
	types.TxFTCPending:      {types.TxFTCSuccess, types.TxFTCTSQ, types.TxFTCFailed, types.TxTimeout},
	types.TxFTCTSQ:          {types.TxFTCSuccess, types.TxFTCFailed},
	types.TxFTCSuccess:      {types.TxCompleted},
	types.TxFTCFailed:       {types.TxReversalPending},
	types.TxReversalPending: {types.TxReversalSuccess, types.TxReversalFailed},
	types.TxReversalSuccess: {types.TxFailed},
	types.TxTimeout:         {types.TxFTDTSQ, types.TxFTCTSQ},
}

// CanTransition reports whether from → to is an edge of the graph.
func CanTransition(from, to types.TxStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidPath reports whether the ordered status sequence starting at
// from is a path through the graph.
func ValidPath(from types.TxStatus, path []types.TxStatus) bool {
	cur := from
	for _, next := range path {
		if !CanTransition(cur, next) {
			return false
		}
		cur = next
	}
	return true
}

// Leg identifies which per-leg action-code column a decision writes.
type Leg string

const (
	LegNone     Leg = ""
	LegFTD      Leg = "FTD"
	LegFTC      Leg = "FTC"
	LegReversal Leg = "REVERSAL"
)

// Notification describes a terminal-state client webhook to enqueue.
type Notification struct {
	Status string
	Reason string
}

// Decision is the full effect of processing one callback or TSQ
// response. The storage layer applies it atomically under the
// transaction row lock; every field not set is a no-op.
type Decision struct {
	// Resolution for the originating GipCallback row. Always set.
	Resolution types.CallbackStatus
	// EventKind of the audit event recording the input. Always set
	// for known function codes.
	EventKind types.EventKind

	// Ordered status hops to walk; each hop must be a graph edge.
	Transitions []types.TxStatus
	// Action-code column to update, and the value.
	Leg        Leg
	ActionCode string
	// StatusMessage replaces the transaction's status_message when
	// non-empty.
	StatusMessage string

	// DispatchFTC requests the credit leg to be sent to GIP inside
	// the same database transaction, before commit.
	DispatchFTC bool
	// ScheduleTSQIn, when > 0, sets tsq_next_attempt_at = now + d.
	ScheduleTSQIn time.Duration

	Notify        *Notification
	CriticalAlert string
}

func ignored() Decision {
	return Decision{Resolution: types.CallbackIgnored}
}

// RouteCallback decides how an inbound GIP callback advances the
// transaction. The routing is a closed match over the function code;
// callbacks for legs that already advanced are recorded and ignored so
// replays are harmless.
func (r Rules) RouteCallback(txn *types.Transaction, fn types.FunctionCode, actionCode string) Decision {
	switch fn {
	case types.FuncFTD:
		return r.routeFTD(txn, actionCode)
	case types.FuncFTC:
		return r.routeFTC(txn, actionCode)
	case types.FuncReversal:
		return r.routeReversal(txn, actionCode)
	default:
		return ignored()
	}
}

func (r Rules) routeFTD(txn *types.Transaction, actionCode string) Decision {
	d := Decision{
		Resolution: types.CallbackProcessed,
		EventKind:  types.EventFTDCallback,
		Leg:        LegFTD,
		ActionCode: actionCode,
	}
	awaiting := txn.Status == types.TxFTDPending || txn.Status == types.TxFTDTSQ
	if !awaiting {
		ig := ignored()
		ig.EventKind = types.EventFTDCallback
		return ig
	}
	switch r.Classify(actionCode) {
	case OutcomeSuccess:
		d.Transitions = []types.TxStatus{types.TxFTDSuccess, types.TxFTCPending}
		d.DispatchFTC = true
	case OutcomeInconclusive:
		if txn.Status != types.TxFTDPending {
			// already scheduled for TSQ, nothing new to learn
			ig := ignored()
			ig.EventKind = types.EventFTDCallback
			return ig
		}
		d.Transitions = []types.TxStatus{types.TxFTDTSQ}
		d.ScheduleTSQIn = r.TSQBaseInterval
	case OutcomeFailure:
		d.Transitions = []types.TxStatus{types.TxFTDFailed}
		d.Notify = &Notification{Status: types.NotifyStatusFailed, Reason: types.NotifyReasonFTDFailed}
	}
	return d
}

func (r Rules) routeFTC(txn *types.Transaction, actionCode string) Decision {
	d := Decision{
		Resolution: types.CallbackProcessed,
		EventKind:  types.EventFTCCallback,
		Leg:        LegFTC,
		ActionCode: actionCode,
	}
	awaiting := txn.Status == types.TxFTCPending || txn.Status == types.TxFTCTSQ
	if !awaiting {
		ig := ignored()
		ig.EventKind = types.EventFTCCallback
		return ig
	}
	switch r.Classify(actionCode) {
	case OutcomeSuccess:
		d.Transitions = []types.TxStatus{types.TxFTCSuccess, types.TxCompleted}
		d.Notify = &Notification{Status: types.NotifyStatusSuccess}
	case OutcomeInconclusive:
		if txn.Status != types.TxFTCPending {
			ig := ignored()
			ig.EventKind = types.EventFTCCallback
			return ig
		}
		d.Transitions = []types.TxStatus{types.TxFTCTSQ}
		d.ScheduleTSQIn = r.TSQBaseInterval
	case OutcomeFailure:
		// the reversal worker polls for FTC_FAILED rows
		d.Transitions = []types.TxStatus{types.TxFTCFailed}
	}
	return d
}

func (r Rules) routeReversal(txn *types.Transaction, actionCode string) Decision {
	d := Decision{
		Resolution: types.CallbackProcessed,
		EventKind:  types.EventReversalCallback,
		Leg:        LegReversal,
		ActionCode: actionCode,
	}
	if txn.Status != types.TxReversalPending {
		ig := ignored()
		ig.EventKind = types.EventReversalCallback
		return ig
	}
	if actionCode == types.ActionCodeSuccess {
		d.Transitions = []types.TxStatus{types.TxReversalSuccess, types.TxFailed}
		d.Notify = &Notification{Status: types.NotifyStatusFailed, Reason: types.NotifyReasonReversed}
		return d
	}
	// Reversal definitively failed: the outcome is operationally
	// undefined, so no client callback; an operator must step in.
	d.Transitions = []types.TxStatus{types.TxReversalFailed}
	d.CriticalAlert = "reversal failed with action code " + actionCode
	return d
}
