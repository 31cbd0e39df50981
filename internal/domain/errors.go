package domain

import "errors"

// RejectReason is the typed reason a call was rejected.
type RejectReason string

const (
	ReasonInvalidOrder        RejectReason = "INVALID_ORDER"
	ReasonInsufficientBalance RejectReason = "INSUFFICIENT_BALANCE"
	ReasonOrderNotFound       RejectReason = "ORDER_NOT_FOUND"
	ReasonNotCancelable       RejectReason = "ORDER_NOT_CANCELABLE"
	ReasonUnknownToken        RejectReason = "UNKNOWN_TOKEN"
	ReasonMarketClosed        RejectReason = "MARKET_CLOSED"
	ReasonInvalidTransition   RejectReason = "INVALID_TRANSITION"
)

// Sentinels for errors.Is matching against a *RejectError.
var (
	ErrInvalidOrder        = errors.New(string(ReasonInvalidOrder))
	ErrInsufficientBalance = errors.New(string(ReasonInsufficientBalance))
	ErrOrderNotFound       = errors.New(string(ReasonOrderNotFound))
	ErrNotCancelable       = errors.New(string(ReasonNotCancelable))
	ErrUnknownToken        = errors.New(string(ReasonUnknownToken))
	ErrMarketClosed        = errors.New(string(ReasonMarketClosed))
	ErrInvalidTransition   = errors.New(string(ReasonInvalidTransition))
)

var sentinels = map[RejectReason]error{
	ReasonInvalidOrder:        ErrInvalidOrder,
	ReasonInsufficientBalance: ErrInsufficientBalance,
	ReasonOrderNotFound:       ErrOrderNotFound,
	ReasonNotCancelable:       ErrNotCancelable,
	ReasonUnknownToken:        ErrUnknownToken,
	ReasonMarketClosed:        ErrMarketClosed,
	ReasonInvalidTransition:   ErrInvalidTransition,
}

// RejectError is a synchronous rejection local to the call that caused it.
// Rejections never change state.
type RejectError struct {
	Reason RejectReason
	Msg    string
}

func (e *RejectError) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Msg
}

// Is makes errors.Is(err, ErrInvalidOrder) and friends work.
func (e *RejectError) Is(target error) bool {
	return sentinels[e.Reason] == target
}

// Reject builds a *RejectError.
func Reject(reason RejectReason, msg string) error {
	return &RejectError{Reason: reason, Msg: msg}
}

// ReasonOf extracts the reject reason from err, or "" if err is not a rejection.
func ReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
