// Package types defines the domain model of the switch: transaction
// aggregates, gateway events, queue rows and the code tables shared by
// every other package.
package types

// TxStatus is the lifecycle state of a funds transfer. Transitions are
// validated by the engine package; the set here is closed.
type TxStatus string

const (
	TxInitiated       TxStatus = "INITIATED"
	TxFTDPending      TxStatus = "FTD_PENDING"
	TxFTDSuccess      TxStatus = "FTD_SUCCESS"
	TxFTDTSQ          TxStatus = "FTD_TSQ"
	TxFTDFailed       TxStatus = "FTD_FAILED"
	TxFTCPending      TxStatus = "FTC_PENDING"
	TxFTCSuccess      TxStatus = "FTC_SUCCESS"
	TxFTCTSQ          TxStatus = "FTC_TSQ"
	TxFTCFailed       TxStatus = "FTC_FAILED"
	TxReversalPending TxStatus = "REVERSAL_PENDING"
	TxReversalSuccess TxStatus = "REVERSAL_SUCCESS"
	TxReversalFailed  TxStatus = "REVERSAL_FAILED"
	TxCompleted       TxStatus = "COMPLETED"
	TxFailed          TxStatus = "FAILED"
	TxTimeout         TxStatus = "TIMEOUT"
)

// Terminal reports whether no further transition can leave the status.
func (s TxStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed
}

// FunctionCode identifies the GIP operation carried by a request or
// callback.
type FunctionCode string

const (
	FuncNEC      FunctionCode = "230"
	FuncFTC      FunctionCode = "240"
	FuncFTD      FunctionCode = "241"
	FuncReversal FunctionCode = "242"
	FuncTSQ      FunctionCode = "111"
)

// ActionCodeSuccess is the gateway action code meaning the leg
// succeeded. Codes in DefaultInconclusiveCodes neither confirm nor
// deny; everything else is a definitive failure.
const ActionCodeSuccess = "000"

// TSQ response codes (second code of the two-code TSQ reply).
const (
	TSQCodeApproved = "000"
	TSQCodePending  = "990"
	TSQCodeNotFound = "381"
)

// DefaultInconclusiveCodes is the default set of action codes that must
// be resolved through a TSQ before the leg outcome is known. The empty
// string covers callbacks that arrive without an action code at all.
func DefaultInconclusiveCodes() map[string]bool {
	return InconclusiveCodeSet([]string{"909", "912", "990"})
}

// InconclusiveCodeSet builds the inconclusive lookup from a configured
// code list. The empty string is always a member: a callback without an
// action code never resolves a leg.
func InconclusiveCodeSet(codes []string) map[string]bool {
	set := map[string]bool{"": true}
	for _, code := range codes {
		set[code] = true
	}
	return set
}

// EventKind tags rows of the append-only gip_events audit log.
type EventKind string

const (
	EventFTDRequest       EventKind = "FTD_REQUEST"
	EventFTDCallback      EventKind = "FTD_CALLBACK"
	EventFTCRequest       EventKind = "FTC_REQUEST"
	EventFTCCallback      EventKind = "FTC_CALLBACK"
	EventTSQRequest       EventKind = "TSQ_REQUEST"
	EventTSQResponse      EventKind = "TSQ_RESPONSE"
	EventReversalRequest  EventKind = "REVERSAL_REQUEST"
	EventReversalCallback EventKind = "REVERSAL_CALLBACK"
)

// OutcomeDispatchFailed marks a request event whose gateway dispatch
// never got through.
const OutcomeDispatchFailed = "DISPATCH_FAILED"

// CallbackStatus is the processing state of an inbound GIP callback row.
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "PENDING"
	CallbackProcessed CallbackStatus = "PROCESSED"
	CallbackIgnored   CallbackStatus = "IGNORED"
	CallbackError     CallbackStatus = "ERROR"
)

// DeliveryStatus is the state of an outbound client webhook row.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Client notification outcomes surfaced to the originating institution.
const (
	NotifyStatusSuccess = "SUCCESS"
	NotifyStatusFailed  = "FAILED"

	NotifyReasonFTDFailed = "FTD_FAILED"
	NotifyReasonReversed  = "REVERSED"
)
