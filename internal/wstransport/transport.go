// Package wstransport adapts a *websocket.Conn to the wire.Transport
// contract. A websocket message already preserves its own boundary,
// so unlike the TCP transport this never needs a length prefix: each
// logical frame becomes one WS binary message carrying a small fixed
// prefix (id, seq, type) followed directly by the payload.
package wstransport

import (
	"encoding/binary"

	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
	"github.com/kartikbazzad/bunrpc/internal/wire"
)

const prefixSize = 4 // id(2) + seq(1) + type(1)

type transport struct {
	conn *websocket.Conn
}

// New adapts conn to wire.Transport.
func New(conn *websocket.Conn) wire.Transport {
	return &transport{conn: conn}
}

func (t *transport) writeFrame(id uint16, seq uint8, typ wire.Type, payload []byte) error {
	buf := make([]byte, prefixSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], id)
	buf[2] = seq
	buf[3] = byte(typ)
	copy(buf[prefixSize:], payload)
	if err := t.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return rpcerr.IoError(err.Error())
	}
	return nil
}

func (t *transport) readFrame() (id uint16, seq uint8, typ wire.Type, payload []byte, err error) {
	msgType, data, rerr := t.conn.ReadMessage()
	if rerr != nil {
		return 0, 0, 0, nil, rpcerr.IoError(rerr.Error())
	}
	if msgType != websocket.BinaryMessage {
		return 0, 0, 0, nil, rpcerr.ParseError("expected binary websocket message")
	}
	if len(data) < prefixSize {
		return 0, 0, 0, nil, rpcerr.ParseError("websocket message shorter than frame prefix")
	}
	id = binary.BigEndian.Uint16(data[0:2])
	seq = data[2]
	typ = wire.Type(data[3])
	if len(data) > prefixSize {
		payload = data[prefixSize:]
	}
	return id, seq, typ, payload, nil
}

func (t *transport) WriteMessage(id uint16, header, data []byte) error {
	if err := t.writeFrame(id, wire.SeqHeader, wire.TypeHeader, header); err != nil {
		return err
	}
	return t.writeFrame(id, wire.SeqData, wire.TypeData, data)
}

func (t *transport) ReadMessage() (id uint16, header, data []byte, err error) {
	hid, hseq, htyp, hpayload, err := t.readFrame()
	if err != nil {
		return 0, nil, nil, err
	}
	if htyp != wire.TypeHeader || hseq != wire.SeqHeader {
		return 0, nil, nil, rpcerr.ParseError("expected header frame")
	}
	did, dseq, dtyp, dpayload, err := t.readFrame()
	if err != nil {
		return 0, nil, nil, err
	}
	if dtyp != wire.TypeData || dseq != wire.SeqData {
		return 0, nil, nil, rpcerr.ParseError("expected data frame")
	}
	if did != hid {
		return 0, nil, nil, rpcerr.ParseError("data frame does not match header frame")
	}
	return hid, hpayload, dpayload, nil
}

func (t *transport) Close() error {
	return t.conn.Close()
}
