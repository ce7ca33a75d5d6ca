// Package wire implements the length-delimited frame format described
// in §4.1 and §6 of the core spec:
//
//	id:u16_be | seq:u8 | type:u8 | len:u32_be | payload[len]
//
// Every logical message is carried as a header frame followed by a
// data frame: the header frame's payload is the encoded Header, the
// data frame's payload is the encoded body.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
)

// Type distinguishes a header frame from the data frame that follows it.
type Type uint8

const (
	TypeHeader Type = 0
	TypeData   Type = 1
)

// MaxPayload bounds a single frame's payload to guard against a
// corrupt or hostile length prefix exhausting memory.
const MaxPayload = 64 << 20 // 64 MiB

// Frame is one length-delimited unit on the wire.
type Frame struct {
	ID      uint16
	Seq     uint8
	Type    Type
	Payload []byte
}

// headerSize is the fixed 8-byte prefix: id(2) + seq(1) + type(1) + len(4).
const headerSize = 8

// WriteFrame serializes f to w as one big-endian length-delimited frame.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayload {
		return rpcerr.IoError("frame payload exceeds maximum size")
	}
	var buf [headerSize]byte
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Seq
	buf[3] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	if _, err := w.Write(buf[:]); err != nil {
		return rpcerr.IoError(err.Error())
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return rpcerr.IoError(err.Error())
	}
	return nil
}

// ReadFrame reads one frame from r, blocking until the full frame is
// available or the reader fails.
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, rpcerr.IoError(err.Error())
	}
	f := Frame{
		ID:   binary.BigEndian.Uint16(buf[0:2]),
		Seq:  buf[2],
		Type: Type(buf[3]),
	}
	length := binary.BigEndian.Uint32(buf[4:8])
	if length > MaxPayload {
		return Frame{}, rpcerr.ParseError("frame length exceeds maximum size")
	}
	if length == 0 {
		return f, nil
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, rpcerr.IoError(err.Error())
	}
	return f, nil
}

// Header and data frame sequence numbers are fixed by §6, not chosen
// by the caller: every header frame carries seq 0, every data frame
// carries seq 1.
const (
	SeqHeader uint8 = 0
	SeqData   uint8 = 1
)

// Transport is the boundary between a broker and a physical
// connection: it sends and receives one logical message (a header
// frame plus its data frame) at a time. A *net.Conn transport and a
// websocket transport both implement it, per §4.1's "payload-oriented
// transports" note.
type Transport interface {
	// WriteMessage writes the header frame and data frame for one
	// logical message, in order.
	WriteMessage(id uint16, header, data []byte) error
	// ReadMessage reads one logical message: a header frame followed
	// by its data frame. It returns the id carried by the header frame
	// and the two payloads.
	ReadMessage() (id uint16, header, data []byte, err error)
	Close() error
}

// connTransport implements Transport directly over an io.ReadWriteCloser
// using the big-endian frame format, the teacher's readFrame/writeFrame
// style generalized from a fixed 4-byte length prefix to the full
// id/seq/type/len header.
type connTransport struct {
	rw io.ReadWriteCloser
}

// NewConnTransport adapts a stream connection (TCP, TLS, or any
// io.ReadWriteCloser) to Transport.
func NewConnTransport(rw io.ReadWriteCloser) Transport {
	return &connTransport{rw: rw}
}

func (t *connTransport) WriteMessage(id uint16, header, data []byte) error {
	if err := WriteFrame(t.rw, Frame{ID: id, Seq: SeqHeader, Type: TypeHeader, Payload: header}); err != nil {
		return err
	}
	return WriteFrame(t.rw, Frame{ID: id, Seq: SeqData, Type: TypeData, Payload: data})
}

func (t *connTransport) ReadMessage() (id uint16, header, data []byte, err error) {
	hf, err := ReadFrame(t.rw)
	if err != nil {
		return 0, nil, nil, err
	}
	if hf.Type != TypeHeader || hf.Seq != SeqHeader {
		return 0, nil, nil, rpcerr.ParseError("expected header frame")
	}
	df, err := ReadFrame(t.rw)
	if err != nil {
		return 0, nil, nil, err
	}
	if df.Type != TypeData || df.Seq != SeqData {
		return 0, nil, nil, rpcerr.ParseError("expected data frame")
	}
	if df.ID != hf.ID {
		return 0, nil, nil, rpcerr.ParseError("data frame does not match header frame")
	}
	return hf.ID, hf.Payload, df.Payload, nil
}

func (t *connTransport) Close() error { return t.rw.Close() }
