// Package rpcerr implements the error taxonomy used across the wire
// protocol and the client/server brokers.
package rpcerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an Error for type-switch style
// dispatch at call sites, instead of string-matching on error text.
type Kind int

const (
	// KindIoError wraps a transport-level read/write failure.
	KindIoError Kind = iota
	// KindParseError wraps a codec decode/encode failure.
	KindParseError
	// KindInternal marks a broker invariant violation.
	KindInternal
	// KindInvalidArgument marks a request whose arguments cannot be
	// decoded, or an invalid argument to a broker or registry operation.
	KindInvalidArgument
	// KindServiceNotFound marks dispatch to an unregistered service.
	KindServiceNotFound
	// KindMethodNotFound marks dispatch to an unregistered method on a
	// known service.
	KindMethodNotFound
	// KindExecutionError wraps an error returned by a handler itself.
	KindExecutionError
	// KindCanceled marks a call or execution that ended via cancellation.
	KindCanceled
	// KindTimeout marks a call or execution that ended via deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindParseError:
		return "ParseError"
	case KindInternal:
		return "Internal"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindServiceNotFound:
		return "ServiceNotFound"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindExecutionError:
		return "ExecutionError"
	case KindCanceled:
		return "Canceled"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Reserved wire tokens for cancellation and timeout, carried in
// ExecutionError messages when the underlying ErrorMessage union has no
// dedicated variant for them.
const (
	CancellationToken = "RPC_TASK_CANCELLATION"
	TimeoutToken      = "RPC_TASK_TIMEOUT"
)

// Error is the concrete error type returned by every exported broker
// and client operation in this module.
type Error struct {
	Kind Kind
	// Msg carries the ExecutionError message text, or a human-readable
	// detail for Io/Parse/Internal errors.
	Msg string
	// ID is set for Canceled and Timeout errors that identify the
	// affected call; nil when no call id is attached, as for errors
	// decoded from a server reply.
	ID *uint16
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindCanceled:
		if e.ID != nil {
			return fmt.Sprintf("rpc: call %d canceled", *e.ID)
		}
		return "rpc: canceled"
	case KindTimeout:
		if e.ID != nil {
			return fmt.Sprintf("rpc: call %d timed out", *e.ID)
		}
		return "rpc: timed out"
	case KindExecutionError:
		return fmt.Sprintf("rpc: execution error: %s", e.Msg)
	default:
		if e.Msg == "" {
			return fmt.Sprintf("rpc: %s", e.Kind)
		}
		return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Msg)
	}
}

// IoError builds a transport-level error.
func IoError(msg string) *Error { return &Error{Kind: KindIoError, Msg: msg} }

// ParseError builds a codec-level error.
func ParseError(msg string) *Error { return &Error{Kind: KindParseError, Msg: msg} }

// Internal builds a broker invariant-violation error.
func Internal(msg string) *Error { return &Error{Kind: KindInternal, Msg: msg} }

// InvalidArgument builds a malformed-request error.
func InvalidArgument(msg string) *Error { return &Error{Kind: KindInvalidArgument, Msg: msg} }

// ServiceNotFound builds a dispatch error for an unregistered service.
func ServiceNotFound(service string) *Error {
	return &Error{Kind: KindServiceNotFound, Msg: service}
}

// MethodNotFound builds a dispatch error for an unregistered method.
func MethodNotFound(method string) *Error {
	return &Error{Kind: KindMethodNotFound, Msg: method}
}

// ExecutionError wraps a handler-returned error for wire transport.
func ExecutionError(msg string) *Error { return &Error{Kind: KindExecutionError, Msg: msg} }

// Canceled builds a cancellation error, optionally tied to a call id.
func Canceled(id *uint16) *Error { return &Error{Kind: KindCanceled, ID: id} }

// Timeout builds a timeout error, optionally tied to a call id.
func Timeout(id *uint16) *Error { return &Error{Kind: KindTimeout, ID: id} }

// Is reports whether err is an *Error of the given kind, unwrapping
// through fmt.Errorf %w chains the way errors.Is would.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
