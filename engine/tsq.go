package engine

import (
	"fmt"
	"time"

	"github.com/meridianpay/gipswitch/types"
)

// PendingLeg returns the leg a TSQ for the given transaction resolves.
// A row in TIMEOUT no longer carries which leg was in flight, but the
// debit action code does: once the debit succeeded, only the credit
// leg can still be open.
func PendingLeg(txn *types.Transaction) Leg {
	switch txn.Status {
	case types.TxFTDTSQ:
		return LegFTD
	case types.TxFTCTSQ:
		return LegFTC
	case types.TxTimeout:
		if txn.FTDActionCode == types.ActionCodeSuccess {
			return LegFTC
		}
		return LegFTD
	default:
		return LegNone
	}
}

// tsqEntryHop returns the transition needed before a TSQ verdict can be
// applied: a row claimed in TIMEOUT first moves to the leg's TSQ state.
func tsqEntryHop(txn *types.Transaction, leg Leg) []types.TxStatus {
	if txn.Status != types.TxTimeout {
		return nil
	}
	if leg == LegFTC {
		return []types.TxStatus{types.TxFTCTSQ}
	}
	return []types.TxStatus{types.TxFTDTSQ}
}

// RetryDelay computes the exponential TSQ backoff for the given attempt
// count: base * 2^attempts, capped at the configured maximum.
func (r Rules) RetryDelay(attempts int) time.Duration {
	d := r.TSQBaseInterval
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= r.TSQMaxInterval {
			return r.TSQMaxInterval
		}
	}
	return d
}

// ResolveTSQ interprets the authoritative two-code TSQ response for a
// transaction in FTD_TSQ, FTC_TSQ or TIMEOUT and produces the decision
// to apply under the row lock. The caller has already dispatched the
// TSQ and incremented txn.TSQAttempts for it.
func (r Rules) ResolveTSQ(txn *types.Transaction, code1, code2 string) Decision {
	leg := PendingLeg(txn)
	d := Decision{
		Resolution: types.CallbackProcessed,
		EventKind:  types.EventTSQResponse,
		Leg:        leg,
	}
	if leg == LegNone {
		return ignored()
	}
	entry := tsqEntryHop(txn, leg)

	conclusive := code1 == types.ActionCodeSuccess
	switch {
	case conclusive && code2 == types.TSQCodeApproved:
		d.ActionCode = types.ActionCodeSuccess
		if leg == LegFTD {
			d.Transitions = append(entry, types.TxFTDSuccess, types.TxFTCPending)
			d.DispatchFTC = true
		} else {
			d.Transitions = append(entry, types.TxFTCSuccess, types.TxCompleted)
			d.Notify = &Notification{Status: types.NotifyStatusSuccess}
		}
		return d

	case conclusive && code2 == types.TSQCodeNotFound:
		// the receiver never saw the leg: definitive failure
		d.ActionCode = code2
		if leg == LegFTD {
			d.Transitions = append(entry, types.TxFTDFailed)
			d.Notify = &Notification{Status: types.NotifyStatusFailed, Reason: types.NotifyReasonFTDFailed}
		} else {
			d.Transitions = append(entry, types.TxFTCFailed)
		}
		return d
	}

	// Still indeterminate (000/990 or anything unexpected): retry with
	// exponential backoff until the attempt budget is exhausted.
	if txn.TSQAttempts < r.TSQMaxAttempts {
		d.Transitions = entry
		d.ScheduleTSQIn = r.RetryDelay(txn.TSQAttempts)
		return d
	}

	// Attempts exhausted. The gateway never gave an authoritative
	// answer; park the transaction on the failure path for its leg and
	// raise an operator alert. A debit that already succeeded must go
	// through the reversal pipeline, never straight to FAILED.
	d.StatusMessage = fmt.Sprintf("TSQ exhausted after %d attempts, last response %s/%s", txn.TSQAttempts, code1, code2)
	d.CriticalAlert = d.StatusMessage
	if leg == LegFTD {
		d.Transitions = append(entry, types.TxFTDFailed)
		d.Notify = &Notification{Status: types.NotifyStatusFailed, Reason: types.NotifyReasonFTDFailed}
	} else {
		d.Transitions = append(entry, types.TxFTCFailed)
	}
	return d
}

// TimeoutDecision moves a leg whose callback deadline has passed into
// TIMEOUT and schedules an immediate TSQ. Used by the deadline sweeper.
func TimeoutDecision(txn *types.Transaction) Decision {
	if txn.Status != types.TxFTDPending && txn.Status != types.TxFTCPending {
		return ignored()
	}
	return Decision{
		Resolution:    types.CallbackProcessed,
		Transitions:   []types.TxStatus{types.TxTimeout},
		StatusMessage: "no gateway callback within deadline",
		ScheduleTSQIn: 1, // due immediately
	}
}
