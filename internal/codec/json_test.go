package codec

import (
	"testing"

	"github.com/kartikbazzad/bunrpc/internal/protocol"
)

func TestJSONCodecHeaderRoundTrip(t *testing.T) {
	c := JSONCodec{}
	want := protocol.Header{ID: 9, Kind: protocol.KindRequest, ServiceMethod: "Echo.Say", Timeout: 1500}
	b, err := c.EncodeHeader(want)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	got, err := c.DecodeHeader(b)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.ID != want.ID || got.Kind != want.Kind || got.ServiceMethod != want.ServiceMethod || got.Timeout != want.Timeout {
		t.Errorf("DecodeHeader = %+v, want %+v", got, want)
	}
}

func TestJSONCodecBodyRoundTrip(t *testing.T) {
	c := JSONCodec{}
	type args struct {
		Name string `json:"name"`
	}
	b, err := c.EncodeBody(args{Name: "world"})
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	var got args
	if err := c.DecodeBody(b, &got); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if got.Name != "world" {
		t.Errorf("DecodeBody = %+v", got)
	}
}

func TestJSONCodecErrorRoundTrip(t *testing.T) {
	c := JSONCodec{}
	want := protocol.ErrorMessage{Kind: protocol.ErrExecution, Detail: "boom"}
	b, err := c.EncodeError(want)
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	got, err := c.DecodeError(b)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got != want {
		t.Errorf("DecodeError = %+v, want %+v", got, want)
	}
}
