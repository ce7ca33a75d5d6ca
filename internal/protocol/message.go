// Package protocol defines the wire-level message types shared by the
// client and server brokers: message ids, the header tagged union, and
// the error-message union carried in error responses.
package protocol

import "strings"

// MessageId correlates a request with its response(s). It is unique
// only among currently outstanding ids, per the wraparound rule in
// §3 of the core spec: a 16-bit counter that wraps back to zero.
type MessageId = uint16

// HeaderKind tags the variant carried by a Header.
type HeaderKind uint8

const (
	KindRequest HeaderKind = iota
	KindResponse
	KindCancel
	KindPublish
	KindSubscribe
	KindUnsubscribe
	KindAck
	// KindProduce, KindConsume and KindExt are reserved header kinds
	// carried over from the original protocol for forward
	// compatibility. This implementation decodes them without error
	// and dispatches to a catch-all branch (§9 open question).
	KindProduce
	KindConsume
	KindExt
)

func (k HeaderKind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindCancel:
		return "Cancel"
	case KindPublish:
		return "Publish"
	case KindSubscribe:
		return "Subscribe"
	case KindUnsubscribe:
		return "Unsubscribe"
	case KindAck:
		return "Ack"
	case KindProduce:
		return "Produce"
	case KindConsume:
		return "Consume"
	case KindExt:
		return "Ext"
	default:
		return "Unknown"
	}
}

// Header is the tagged union carried by every frame pair, mirroring
// toy-rpc's protocol::Header enum. Only the fields relevant to Kind
// are meaningful; the rest are zero values.
type Header struct {
	ID            MessageId
	Kind          HeaderKind
	ServiceMethod string        // Request
	Timeout       int64         // Request; milliseconds, 0 means none
	IsOK          bool          // Response
	Topic         string        // Publish/Subscribe/Unsubscribe/Produce/Consume
	Tickets       uint32        // Produce
	ExtContent    []byte        // Ext
	ExtMarker     uint8         // Ext
}

// SplitServiceMethod splits a "Service.method" string on the LAST '.'
// rather than the first, since a service name may itself contain a
// dot while the method name never should (§4.6 step 1, §6).
func SplitServiceMethod(serviceMethod string) (service, method string, ok bool) {
	idx := strings.LastIndex(serviceMethod, ".")
	if idx < 0 || idx == 0 || idx == len(serviceMethod)-1 {
		return "", "", false
	}
	return serviceMethod[:idx], serviceMethod[idx+1:], true
}

// ErrorKind tags the variant carried by an ErrorMessage.
type ErrorKind uint8

const (
	ErrInvalidArgument ErrorKind = iota
	ErrServiceNotFound
	ErrMethodNotFound
	ErrExecution
)

// ErrorMessage is the wire representation of an error response. Only
// four variants exist on the wire; timeouts and cancellations are
// carried as ErrExecution with a reserved token message, per the Open
// Question decision recorded in SPEC_FULL.md.
type ErrorMessage struct {
	Kind ErrorKind
	// Detail holds the service/method name for NotFound kinds, or the
	// handler's error text for ErrExecution.
	Detail string
}
