// Package codec defines the pluggable serialization boundary between
// the brokers and the wire: encoding a Header to bytes and encoding a
// call's argument/result body to bytes, kept separate per §4.2 so a
// header can be parsed without knowing the body's concrete type.
package codec

import "github.com/kartikbazzad/bunrpc/internal/protocol"

// Codec encodes and decodes headers and bodies independently. Bodies
// are passed as interface{} because the broker does not know their
// concrete type; callers decode into a target of their own choosing.
type Codec interface {
	EncodeHeader(h protocol.Header) ([]byte, error)
	DecodeHeader(data []byte) (protocol.Header, error)
	EncodeBody(v any) ([]byte, error)
	DecodeBody(data []byte, v any) error
	// EncodeError/DecodeError carry an ErrorMessage as a body payload,
	// used for Response headers with IsOK == false.
	EncodeError(e protocol.ErrorMessage) ([]byte, error)
	DecodeError(data []byte) (protocol.ErrorMessage, error)
}
