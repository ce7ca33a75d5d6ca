package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
)

type echoArgs struct {
	Text string
}

type echoReply struct {
	Text string
}

type echoService struct{}

func (echoService) Say(ctx context.Context, args *echoArgs) (echoReply, error) {
	return echoReply{Text: args.Text}, nil
}

func (echoService) Fail(ctx context.Context, args *echoArgs) (echoReply, error) {
	return echoReply{}, errors.New("always fails")
}

// NotDispatchable has the wrong signature and must be skipped.
func (echoService) NotDispatchable(x int) int { return x }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register("Echo", echoService{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m, err := r.Lookup("Echo", "Say")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	arg := m.NewArg().(*echoArgs)
	arg.Text = "hi"
	reply, err := m.Call(context.Background(), arg)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.(echoReply).Text != "hi" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestLookupServiceNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("Missing", "Whatever")
	if !rpcerr.Is(err, rpcerr.KindServiceNotFound) {
		t.Errorf("expected ServiceNotFound, got %v", err)
	}
}

func TestLookupMethodNotFound(t *testing.T) {
	r := New()
	if err := r.Register("Echo", echoService{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := r.Lookup("Echo", "Missing")
	if !rpcerr.Is(err, rpcerr.KindMethodNotFound) {
		t.Errorf("expected MethodNotFound, got %v", err)
	}
}

func TestCallPropagatesHandlerError(t *testing.T) {
	r := New()
	if err := r.Register("Echo", echoService{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, err := r.Lookup("Echo", "Fail")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	_, err = m.Call(context.Background(), m.NewArg())
	if !rpcerr.Is(err, rpcerr.KindExecutionError) {
		t.Errorf("expected ExecutionError, got %v", err)
	}
}
