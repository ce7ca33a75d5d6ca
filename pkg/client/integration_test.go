package client_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
	"github.com/kartikbazzad/bunrpc/pkg/client"
	"github.com/kartikbazzad/bunrpc/pkg/server"
)

type echoArgs struct{ Text string }
type echoReply struct{ Text string }

type echoService struct{}

func (echoService) Say(ctx context.Context, args *echoArgs) (echoReply, error) {
	return echoReply{Text: args.Text}, nil
}

func (echoService) Slow(ctx context.Context, args *echoArgs) (echoReply, error) {
	select {
	case <-time.After(2 * time.Second):
		return echoReply{Text: args.Text}, nil
	case <-ctx.Done():
		return echoReply{}, ctx.Err()
	}
}

func startServer(t *testing.T) (addr string, srv *server.Server, stop func()) {
	t.Helper()
	b, err := server.NewBuilder().Register("Echo", echoService{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go b.Accept(lis)
	return lis.Addr().String(), b, func() {
		lis.Close()
		b.Close()
	}
}

func TestCallEcho(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var reply echoReply
	err = c.Call(context.Background(), "Echo.Say", &echoArgs{Text: "hello"}, &reply, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Text != "hello" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestCallMethodNotFound(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var reply echoReply
	err = c.Call(context.Background(), "Echo.Missing", &echoArgs{}, &reply, time.Second)
	if !rpcerr.Is(err, rpcerr.KindMethodNotFound) {
		t.Errorf("expected MethodNotFound, got %v", err)
	}
}

func TestCallServiceNotFound(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var reply echoReply
	err = c.Call(context.Background(), "Missing.Say", &echoArgs{}, &reply, time.Second)
	if !rpcerr.Is(err, rpcerr.KindServiceNotFound) {
		t.Errorf("expected ServiceNotFound, got %v", err)
	}
}

func TestCallMalformedMethod(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var reply echoReply
	err = c.Call(context.Background(), "NoDot", &echoArgs{}, &reply, time.Second)
	if !rpcerr.Is(err, rpcerr.KindMethodNotFound) {
		t.Errorf("expected MethodNotFound, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	var reply echoReply
	err = c.Call(context.Background(), "Echo.Slow", &echoArgs{Text: "x"}, &reply, 100*time.Millisecond)
	if !rpcerr.Is(err, rpcerr.KindTimeout) {
		t.Errorf("expected Timeout, got %v", err)
	}
}

func TestCallCancel(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	c, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var reply echoReply
	done := make(chan error, 1)
	go func() {
		done <- c.Call(ctx, "Echo.Slow", &echoArgs{Text: "x"}, &reply, 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}

func TestPublishSubscribeFanout(t *testing.T) {
	addr, _, stop := startServer(t)
	defer stop()

	subA, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer subA.Close()
	subB, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer subB.Close()
	pub, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer pub.Close()

	var mu sync.Mutex
	var gotA, gotB []string
	ctx := context.Background()

	if err := subA.Subscribe(ctx, "news", func(data []byte) {
		mu.Lock()
		gotA = append(gotA, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	if err := subB.Subscribe(ctx, "news", func(data []byte) {
		mu.Lock()
		gotB = append(gotB, string(data))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}

	if err := pub.Publish("news", "hello subscribers"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(gotA) > 0 && len(gotB) > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 1 || len(gotB) != 1 {
		t.Fatalf("gotA=%v gotB=%v, want one message each", gotA, gotB)
	}
}
