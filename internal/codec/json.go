package codec

import (
	"encoding/json"

	"github.com/kartikbazzad/bunrpc/internal/protocol"
	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
)

// wireHeader is the JSON-friendly projection of protocol.Header: only
// the fields relevant to Kind are populated, the rest omitted.
type wireHeader struct {
	ID            uint16 `json:"id"`
	Kind          uint8  `json:"kind"`
	ServiceMethod string `json:"service_method,omitempty"`
	Timeout       int64  `json:"timeout,omitempty"`
	IsOK          bool   `json:"is_ok,omitempty"`
	Topic         string `json:"topic,omitempty"`
	Tickets       uint32 `json:"tickets,omitempty"`
	ExtContent    []byte `json:"ext_content,omitempty"`
	ExtMarker     uint8  `json:"ext_marker,omitempty"`
}

type wireError struct {
	Kind   uint8  `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// JSONCodec is the default Codec, grounded on the module's absence of
// any directly-exercised binary serialization library in the example
// pack (protobuf and msgpack-style codecs appear only transitively);
// encoding/json is the one serialization path every pack repo reaches
// for directly, so it is the reasonable default here (see DESIGN.md).
type JSONCodec struct{}

func (JSONCodec) EncodeHeader(h protocol.Header) ([]byte, error) {
	w := wireHeader{
		ID:            h.ID,
		Kind:          uint8(h.Kind),
		ServiceMethod: h.ServiceMethod,
		Timeout:       h.Timeout,
		IsOK:          h.IsOK,
		Topic:         h.Topic,
		Tickets:       h.Tickets,
		ExtContent:    h.ExtContent,
		ExtMarker:     h.ExtMarker,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, rpcerr.ParseError(err.Error())
	}
	return b, nil
}

func (JSONCodec) DecodeHeader(data []byte) (protocol.Header, error) {
	var w wireHeader
	if err := json.Unmarshal(data, &w); err != nil {
		return protocol.Header{}, rpcerr.ParseError(err.Error())
	}
	return protocol.Header{
		ID:            w.ID,
		Kind:          protocol.HeaderKind(w.Kind),
		ServiceMethod: w.ServiceMethod,
		Timeout:       w.Timeout,
		IsOK:          w.IsOK,
		Topic:         w.Topic,
		Tickets:       w.Tickets,
		ExtContent:    w.ExtContent,
		ExtMarker:     w.ExtMarker,
	}, nil
}

func (JSONCodec) EncodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, rpcerr.ParseError(err.Error())
	}
	return b, nil
}

func (JSONCodec) DecodeBody(data []byte, v any) error {
	if len(data) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return rpcerr.ParseError(err.Error())
	}
	return nil
}

func (JSONCodec) EncodeError(e protocol.ErrorMessage) ([]byte, error) {
	b, err := json.Marshal(wireError{Kind: uint8(e.Kind), Detail: e.Detail})
	if err != nil {
		return nil, rpcerr.ParseError(err.Error())
	}
	return b, nil
}

func (JSONCodec) DecodeError(data []byte) (protocol.ErrorMessage, error) {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return protocol.ErrorMessage{}, rpcerr.ParseError(err.Error())
	}
	return protocol.ErrorMessage{Kind: protocol.ErrorKind(w.Kind), Detail: w.Detail}, nil
}
