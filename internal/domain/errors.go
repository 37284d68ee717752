package domain

import "errors"

// ErrorKind classifies an error for wire transmission and strategy-facing
// events. The kinds are a closed set shared by the wire codec, the session
// layer, and every internal component that can fail.
type ErrorKind string

const (
	// KindUnsupported: vendor/broker cannot satisfy the requested
	// subscription, resolution, or capability.
	KindUnsupported ErrorKind = "unsupported"
	// KindNotFound: symbol unknown, order id unknown.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidArgument: semantically invalid request.
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindRiskRejected: brokerage risk rules prohibited the order.
	KindRiskRejected ErrorKind = "risk_rejected"
	// KindSessionClosed: underlying stream terminated.
	KindSessionClosed ErrorKind = "session_closed"
	// KindTimeout: callback deadline elapsed.
	KindTimeout ErrorKind = "timeout"
	// KindVendorError: opaque wrapper for upstream errors.
	KindVendorError ErrorKind = "vendor_error"
	// KindInternal: invariant violation.
	KindInternal ErrorKind = "internal"
)

// Error is the uniform error type carried on the wire and raised internally.
// It implements the standard error interface.
type Error struct {
	Kind   ErrorKind
	Detail string
	// Code is set only for KindVendorError, an opaque upstream error code.
	Code string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return string(e.Kind) + " [" + e.Code + "]: " + e.Detail
	}
	return string(e.Kind) + ": " + e.Detail
}

// NewError builds an Error of the given kind with a formatted detail string.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewVendorError wraps an opaque upstream error code/detail pair.
func NewVendorError(code, detail string) *Error {
	return &Error{Kind: KindVendorError, Code: code, Detail: detail}
}

// Fatal reports whether this error kind should be treated as fatal to the
// process that raised it. Only KindInternal raised from the matching engine
// is fatal; callers that are not the matching engine should not rely on this
// helper for that escalation — it is advisory only.
func (e *Error) Fatal() bool {
	return e.Kind == KindInternal
}

// Sentinel errors used internally where a typed *Error is not needed.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnsupported   = errors.New("unsupported")
	ErrInvalidArg    = errors.New("invalid argument")
	ErrSessionClosed = errors.New("session closed")
	ErrTimeout       = errors.New("timeout")
	ErrLockHeld      = errors.New("lock already held")
	ErrNotWarmedUp   = errors.New("subscription not warmed up")
)
