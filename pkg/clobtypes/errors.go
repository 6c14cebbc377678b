// Package clobtypes defines the error taxonomy shared across the client.
//
// Errors are represented as a single tagged struct rather than a hierarchy
// of exception types: retryability and loggability are properties of the
// Kind, never of Go types, so callers switch on Kind instead of using type
// assertions against a tree of error structs.
package clobtypes

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry, logging, and caller-facing decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthentication
	KindRateLimit
	KindTimeout
	KindTransientAPI
	KindCircuitOpen
	KindTrading
	KindBalanceTracking
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindTransientAPI:
		return "transient_api"
	case KindCircuitOpen:
		return "circuit_open"
	case KindTrading:
		return "trading"
	case KindBalanceTracking:
		return "balance_tracking"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// TradingSubKind further classifies KindTrading errors.
type TradingSubKind int

const (
	TradingSubKindNone TradingSubKind = iota
	TradingSubKindInsufficientBalance
	TradingSubKindInsufficientAllowance
	TradingSubKindTickSize
	TradingSubKindOrderDelayed
	TradingSubKindOrderExpired
	TradingSubKindFOKNotFilled
	TradingSubKindMarketNotReady
	TradingSubKindNonceConflict
	TradingSubKindDuplicate
	TradingSubKindOrderRejected
	TradingSubKindOrderNotFound
	TradingSubKindInvalidOrder
)

// StreamSubKind further classifies KindStream errors.
type StreamSubKind int

const (
	StreamSubKindNone StreamSubKind = iota
	StreamSubKindConnectionError
	StreamSubKindProtocolError
	StreamSubKindReconnectExhausted
)

// Error is the single error type returned across package boundaries in this
// module. Details carries structured context (status codes, endpoint names,
// order ids) without requiring a new Go type per variant.
type Error struct {
	Kind           Kind
	TradingSubKind TradingSubKind
	StreamSubKind  StreamSubKind
	Message        string
	Details        map[string]any
	cause          error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details, cause: cause}
}

// NewTrading constructs a KindTrading error with a sub-kind.
func NewTrading(sub TradingSubKind, message string, details map[string]any) *Error {
	return &Error{Kind: KindTrading, TradingSubKind: sub, Message: message, Details: details}
}

// NewStream constructs a KindStream error with a sub-kind.
func NewStream(sub StreamSubKind, message string, cause error) *Error {
	return &Error{Kind: KindStream, StreamSubKind: sub, Message: message, cause: cause}
}

// Retryable reports whether err should be retried by the retry strategy.
// Validation, authentication, circuit-open, and trading/balance-tracking
// errors are never retried; rate-limit, timeout, and transient-API errors
// are. Connection-level errors not wrapped in an Error (raw net errors) are
// treated as transient by the caller before reaching here.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindTransientAPI:
		return true
	default:
		return false
	}
}

// Is reports whether err is a clobtypes.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// AsError extracts *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
