// Package clientbroker implements the client-side broker described in
// §4.5: request/response correlation by MessageId, a single writer
// goroutine serializing outbound frames (the franz-go broker's
// handleReqs idiom), and a single reader goroutine dispatching inbound
// frames to whichever call or subscription they belong to (handleResps).
package clientbroker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kartikbazzad/bunrpc/internal/codec"
	"github.com/kartikbazzad/bunrpc/internal/deadline"
	"github.com/kartikbazzad/bunrpc/internal/logging"
	"github.com/kartikbazzad/bunrpc/internal/protocol"
	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
	"github.com/kartikbazzad/bunrpc/internal/rpcmetrics"
	"github.com/kartikbazzad/bunrpc/internal/wire"
)

// Call mirrors net/rpc's Call: the caller supplies a Reply pointer,
// and receives itself back over Done once the broker has filled in
// either Reply or Err.
type Call struct {
	ID            protocol.MessageId
	ServiceMethod string
	Reply         any
	Err           error
	Done          chan *Call

	once sync.Once
}

func (c *Call) complete(err error) {
	c.once.Do(func() {
		rpcmetrics.InFlightCalls.Dec()
		c.Err = err
		c.Done <- c
	})
}

type subscription struct {
	topic   string
	handler func(data []byte)
	acked   chan error
}

type writeJob struct {
	id     protocol.MessageId
	header protocol.Header
	body   any
}

// Broker is the client-side counterpart of §4.5. One Broker owns one
// connection; callers obtain one via pkg/client, not directly.
type Broker struct {
	transport wire.Transport
	codec     codec.Codec
	log       *logging.Logger

	mu          sync.Mutex
	nextID      protocol.MessageId
	pending     map[protocol.MessageId]*Call
	subsByTopic map[string]*subscription
	subsByID    map[protocol.MessageId]*subscription

	deadlines *deadline.Manager

	writeCh chan writeJob
	closeCh chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup

	onFatal   func(error)
	fatalOnce sync.Once
}

// New constructs a Broker over transport and starts its reader and
// writer goroutines.
func New(transport wire.Transport, c codec.Codec, log *logging.Logger, onFatal func(error)) *Broker {
	b := &Broker{
		transport:   transport,
		codec:       c,
		log:         log,
		pending:     make(map[protocol.MessageId]*Call),
		subsByTopic: make(map[string]*subscription),
		subsByID:    make(map[protocol.MessageId]*subscription),
		writeCh:     make(chan writeJob, 256),
		closeCh:     make(chan struct{}),
		onFatal:     onFatal,
	}
	b.deadlines = deadline.NewManager(b.onDeadline, 50*time.Millisecond)
	b.wg.Add(2)
	go b.writeLoop()
	go b.readLoop()
	return b
}

// allocID returns the next MessageId not currently outstanding. Per
// the recorded Open Question decision, a full wraparound collision
// (every id in [0,65535] outstanding) is reported as Internal rather
// than silently reused or blocked on forever.
func (b *Broker) allocID() (protocol.MessageId, error) {
	start := b.nextID
	for {
		id := b.nextID
		b.nextID++
		if _, callBusy := b.pending[id]; !callBusy {
			if _, subBusy := b.subsByID[id]; !subBusy {
				return id, nil
			}
		}
		if b.nextID == start {
			return 0, rpcerr.Internal("message id space exhausted")
		}
	}
}

func (b *Broker) onDeadline(id protocol.MessageId) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	rpcmetrics.CallsTotal.WithLabelValues(rpcmetrics.OutcomeTimeout).Inc()
	call.complete(rpcerr.Timeout(&id))
}

// Call issues a synchronous request and blocks until a response
// arrives, ctx is done, or timeout elapses (0 means no timeout).
func (b *Broker) Call(ctx context.Context, serviceMethod string, args, reply any, timeout time.Duration) error {
	call := b.goCall(serviceMethod, args, reply, timeout)
	select {
	case <-ctx.Done():
		b.Cancel(call.ID)
		<-call.Done
		return ctx.Err()
	case c := <-call.Done:
		return c.Err
	}
}

// AsyncCall issues a request without blocking and returns the Call;
// the caller receives the result over Call.Done.
func (b *Broker) AsyncCall(serviceMethod string, args, reply any, timeout time.Duration) *Call {
	return b.goCall(serviceMethod, args, reply, timeout)
}

// SpawnTask issues a request whose response, if any, is discarded;
// the broker still tracks it internally only long enough to free the
// allocated id once a response (or error) is observed.
func (b *Broker) SpawnTask(serviceMethod string, args any, timeout time.Duration) {
	call := b.goCall(serviceMethod, args, new(any), timeout)
	go func() { <-call.Done }()
}

func (b *Broker) goCall(serviceMethod string, args, reply any, timeout time.Duration) *Call {
	call := &Call{ServiceMethod: serviceMethod, Reply: reply, Done: make(chan *Call, 1)}
	rpcmetrics.InFlightCalls.Inc()

	b.mu.Lock()
	id, err := b.allocID()
	if err != nil {
		b.mu.Unlock()
		call.complete(err)
		return call
	}
	call.ID = id
	b.pending[id] = call
	b.mu.Unlock()

	var timeoutMs int64
	if timeout > 0 {
		timeoutMs = timeout.Milliseconds()
		b.deadlines.Set(id, time.Now().Add(timeout))
	}

	header := protocol.Header{ID: id, Kind: protocol.KindRequest, ServiceMethod: serviceMethod, Timeout: timeoutMs}
	select {
	case b.writeCh <- writeJob{id: id, header: header, body: args}:
	case <-b.closeCh:
		b.failCall(id, rpcerr.IoError("broker closed"))
	}
	return call
}

// Cancel requests cancellation of an outstanding call by id. It is a
// best-effort signal: the server may already have completed it.
func (b *Broker) Cancel(id protocol.MessageId) {
	header := protocol.Header{ID: id, Kind: protocol.KindCancel}
	select {
	case b.writeCh <- writeJob{id: id, header: header, body: nil}:
	case <-b.closeCh:
	}
}

func (b *Broker) failCall(id protocol.MessageId, err error) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		b.deadlines.Cancel(id)
		call.complete(err)
	}
}

// Subscribe registers handler for messages published to topic and
// blocks until the server acknowledges (or denies) the subscription.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler func(data []byte)) error {
	b.mu.Lock()
	if _, exists := b.subsByTopic[topic]; exists {
		b.mu.Unlock()
		return rpcerr.InvalidArgument("already subscribed to topic " + topic)
	}
	id, err := b.allocID()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	sub := &subscription{topic: topic, handler: handler, acked: make(chan error, 1)}
	b.subsByID[id] = sub
	b.subsByTopic[topic] = sub
	b.mu.Unlock()

	header := protocol.Header{ID: id, Kind: protocol.KindSubscribe, Topic: topic}
	select {
	case b.writeCh <- writeJob{id: id, header: header}:
	case <-b.closeCh:
		return rpcerr.IoError("broker closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sub.acked:
		return err
	}
}

// Unsubscribe removes a previously-registered subscription.
func (b *Broker) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	sub, ok := b.subsByTopic[topic]
	if !ok {
		b.mu.Unlock()
		return rpcerr.InvalidArgument("not subscribed to topic " + topic)
	}
	id, err := b.allocID()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	ackCh := make(chan error, 1)
	b.subsByID[id] = &subscription{topic: topic, acked: ackCh}
	b.mu.Unlock()
	_ = sub

	header := protocol.Header{ID: id, Kind: protocol.KindUnsubscribe, Topic: topic}
	select {
	case b.writeCh <- writeJob{id: id, header: header}:
	case <-b.closeCh:
		return rpcerr.IoError("broker closed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ackCh:
		if err == nil {
			b.mu.Lock()
			delete(b.subsByTopic, topic)
			b.mu.Unlock()
		}
		return err
	}
}

// Publish sends a publication to topic for the server to fan out to
// other subscribers.
func (b *Broker) Publish(topic string, payload any) error {
	b.mu.Lock()
	id, err := b.allocID()
	b.mu.Unlock()
	if err != nil {
		return err
	}
	header := protocol.Header{ID: id, Kind: protocol.KindPublish, Topic: topic}
	select {
	case b.writeCh <- writeJob{id: id, header: header, body: payload}:
		return nil
	case <-b.closeCh:
		return rpcerr.IoError("broker closed")
	}
}

// Close shuts down the writer and reader goroutines and fails every
// outstanding call.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)
	err := b.transport.Close()
	b.wg.Wait()
	b.deadlines.Stop()

	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[protocol.MessageId]*Call)
	b.mu.Unlock()
	for _, call := range pending {
		call.complete(rpcerr.IoError("broker closed"))
	}
	return err
}

func (b *Broker) writeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closeCh:
			return
		case job := <-b.writeCh:
			headerBytes, err := b.codec.EncodeHeader(job.header)
			if err != nil {
				b.failCall(job.id, err)
				continue
			}
			var dataBytes []byte
			if job.body != nil {
				dataBytes, err = b.codec.EncodeBody(job.body)
				if err != nil {
					b.failCall(job.id, err)
					continue
				}
			}
			if err := b.transport.WriteMessage(job.id, headerBytes, dataBytes); err != nil {
				b.log.Warn("write failed: %v", err)
				b.reportFatal(err)
				return
			}
		}
	}
}

func (b *Broker) readLoop() {
	defer b.wg.Done()
	for {
		id, headerBytes, dataBytes, err := b.transport.ReadMessage()
		if err != nil {
			select {
			case <-b.closeCh:
				return
			default:
			}
			b.log.Warn("read failed: %v", err)
			b.reportFatal(err)
			return
		}
		header, err := b.codec.DecodeHeader(headerBytes)
		if err != nil {
			b.log.Warn("decode header failed: %v", err)
			continue
		}
		switch header.Kind {
		case protocol.KindResponse:
			b.handleResponse(id, header, dataBytes)
		case protocol.KindAck:
			b.handleAck(id, nil)
		case protocol.KindPublish:
			b.handlePublish(header, dataBytes)
		case protocol.KindProduce, protocol.KindConsume, protocol.KindExt:
			// Reserved kinds: silently ignored by the client reader,
			// per the recorded Open Question decision.
		default:
			b.log.Debug("unexpected header kind %s on client reader", header.Kind)
		}
	}
}

func (b *Broker) handleResponse(id protocol.MessageId, header protocol.Header, dataBytes []byte) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.deadlines.Cancel(id)

	if !header.IsOK {
		errMsg, err := b.codec.DecodeError(dataBytes)
		if err != nil {
			call.complete(err)
			return
		}
		call.complete(decodeWireError(errMsg))
		rpcmetrics.CallsTotal.WithLabelValues(rpcmetrics.OutcomeError).Inc()
		return
	}
	if err := b.codec.DecodeBody(dataBytes, call.Reply); err != nil {
		call.complete(err)
		return
	}
	rpcmetrics.CallsTotal.WithLabelValues(rpcmetrics.OutcomeOK).Inc()
	call.complete(nil)
}

func (b *Broker) handleAck(id protocol.MessageId, ackErr error) {
	b.mu.Lock()
	sub, ok := b.subsByID[id]
	if ok {
		delete(b.subsByID, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.acked <- ackErr:
	default:
	}
}

func (b *Broker) handlePublish(header protocol.Header, dataBytes []byte) {
	b.mu.Lock()
	sub, ok := b.subsByTopic[header.Topic]
	b.mu.Unlock()
	if !ok || sub.handler == nil {
		return
	}
	sub.handler(dataBytes)
}

func (b *Broker) reportFatal(err error) {
	if b.onFatal != nil {
		b.fatalOnce.Do(func() { b.onFatal(err) })
	}
}

func decodeWireError(e protocol.ErrorMessage) error {
	switch e.Kind {
	case protocol.ErrInvalidArgument:
		return rpcerr.InvalidArgument(e.Detail)
	case protocol.ErrServiceNotFound:
		return rpcerr.ServiceNotFound(e.Detail)
	case protocol.ErrMethodNotFound:
		return rpcerr.MethodNotFound(e.Detail)
	default:
		switch e.Detail {
		case rpcerr.TimeoutToken:
			return rpcerr.Timeout(nil)
		case rpcerr.CancellationToken:
			return rpcerr.Canceled(nil)
		default:
			return rpcerr.ExecutionError(e.Detail)
		}
	}
}
