// Package serverbroker implements the server-side broker described in
// §4.6: per-request dispatch, an execution registry with cancellation
// and timeout support, and topic publish fan-out, grounded on
// buncast's handler.go dispatch switch and connSubscriber adapter.
package serverbroker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunrpc/internal/codec"
	"github.com/kartikbazzad/bunrpc/internal/deadline"
	"github.com/kartikbazzad/bunrpc/internal/logging"
	"github.com/kartikbazzad/bunrpc/internal/protocol"
	"github.com/kartikbazzad/bunrpc/internal/pubsub"
	"github.com/kartikbazzad/bunrpc/internal/registry"
	"github.com/kartikbazzad/bunrpc/internal/rpcerr"
	"github.com/kartikbazzad/bunrpc/internal/rpcmetrics"
	"github.com/kartikbazzad/bunrpc/internal/wire"
)

// execState is the execution state machine of §4.6: Created -> Running
// -> (Completed | Cancelled | TimedOut).
type execState int32

const (
	stateCreated execState = iota
	stateRunning
	stateCompleted
	stateCancelled
	stateTimedOut
)

type execution struct {
	id            protocol.MessageId
	serviceMethod string
	cancel        context.CancelFunc
	state         atomic.Int32
}

func (e *execution) transitionTo(s execState) bool {
	for {
		cur := execState(e.state.Load())
		if cur == stateCompleted || cur == stateCancelled || cur == stateTimedOut {
			return false
		}
		if e.state.CompareAndSwap(int32(cur), int32(s)) {
			return true
		}
	}
}

type writeJob struct {
	id     protocol.MessageId
	header protocol.Header
	body   any
}

// Broker serves a single connection: one reader goroutine dispatches
// requests, cancels, and pub/sub control messages; one writer
// goroutine serializes responses and publications back to the peer.
type Broker struct {
	connID    uuid.UUID
	transport wire.Transport
	codec     codec.Codec
	registry  *registry.Registry
	topics    *pubsub.Broker
	log       *logging.Logger

	highWaterMark int

	mu         sync.Mutex
	executions map[protocol.MessageId]*execution
	joined     map[string]struct{}

	deadlines *deadline.Manager

	writeCh chan writeJob
	closeCh chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New constructs a Broker serving transport and starts its reader and
// writer goroutines. topics is shared across every connection the
// server accepts, so publications fan out across clients.
func New(transport wire.Transport, c codec.Codec, reg *registry.Registry, topics *pubsub.Broker, log *logging.Logger, highWaterMark int) *Broker {
	b := &Broker{
		connID:        uuid.New(),
		transport:     transport,
		codec:         c,
		registry:      reg,
		topics:        topics,
		log:           log,
		highWaterMark: highWaterMark,
		executions:    make(map[protocol.MessageId]*execution),
		joined:        make(map[string]struct{}),
		writeCh:       make(chan writeJob, 256),
		closeCh:       make(chan struct{}),
	}
	b.deadlines = deadline.NewManager(b.onTimeout, 50*time.Millisecond)
	b.wg.Add(2)
	go b.writeLoop()
	go b.readLoop()
	return b
}

// Serve blocks until the connection closes.
func (b *Broker) Serve() {
	b.wg.Wait()
}

// Send implements pubsub.Subscriber: a publication destined for this
// connection's peer, written as a Publish header/body pair.
func (b *Broker) Send(topic string, payload []byte) {
	select {
	case b.writeCh <- writeJob{header: protocol.Header{Kind: protocol.KindPublish, Topic: topic}, body: rawBody(payload)}:
	case <-b.closeCh:
	}
}

// rawBody marks a payload as already encoded so the writer loop skips
// a redundant EncodeBody pass when re-publishing a raw wire payload.
type rawBody []byte

func (b *Broker) onTimeout(id protocol.MessageId) {
	b.mu.Lock()
	ex, ok := b.executions[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	if !ex.transitionTo(stateTimedOut) {
		return
	}
	ex.cancel()
	rpcmetrics.ExecutionsTotal.WithLabelValues(rpcmetrics.OutcomeTimeout).Inc()
	b.reply(id, rpcerr.ExecutionError(rpcerr.TimeoutToken))
}

func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)
	err := b.transport.Close()
	b.wg.Wait()
	b.deadlines.Stop()
	b.topics.UnsubscribeAll(b)

	b.mu.Lock()
	executions := b.executions
	b.executions = make(map[protocol.MessageId]*execution)
	b.mu.Unlock()
	for _, ex := range executions {
		ex.cancel()
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
				b.log.Warn("encode header failed: %v", err)
				continue
			}
			var dataBytes []byte
			switch body := job.body.(type) {
			case nil:
			case rawBody:
				dataBytes = body
			default:
				dataBytes, err = b.codec.EncodeBody(body)
				if err != nil {
					b.log.Warn("encode body failed: %v", err)
					continue
				}
			}
			if err := b.transport.WriteMessage(job.header.ID, headerBytes, dataBytes); err != nil {
				b.log.Warn("write failed: %v", err)
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
			default:
				b.log.Debug("connection %s read ended: %v", b.connID, err)
			}
			go b.Close()
			return
		}
		header, err := b.codec.DecodeHeader(headerBytes)
		if err != nil {
			b.log.Warn("decode header failed: %v", err)
			continue
		}
		header.ID = id
		switch header.Kind {
		case protocol.KindRequest:
			b.dispatch(header, dataBytes)
		case protocol.KindCancel:
			b.handleCancel(header.ID)
		case protocol.KindSubscribe:
			b.handleSubscribe(header)
		case protocol.KindUnsubscribe:
			b.handleUnsubscribe(header)
		case protocol.KindPublish:
			b.handlePublish(header, dataBytes)
		case protocol.KindProduce, protocol.KindConsume, protocol.KindExt:
			b.reply(header.ID, rpcerr.ExecutionError("unsupported header kind"))
		default:
			b.log.Debug("unexpected header kind %s on server reader", header.Kind)
		}
	}
}

// dispatch implements §4.6 steps 1-8: split the service.method string,
// look up the handler, decode args, run the handler on its own
// goroutine under a cancelable context, and reply.
func (b *Broker) dispatch(header protocol.Header, dataBytes []byte) {
	service, method, ok := protocol.SplitServiceMethod(header.ServiceMethod)
	if !ok {
		b.reply(header.ID, rpcerr.MethodNotFound(header.ServiceMethod))
		return
	}
	m, err := b.registry.Lookup(service, method)
	if err != nil {
		b.reply(header.ID, err)
		return
	}

	arg := m.NewArg()
	if err := b.codec.DecodeBody(dataBytes, arg); err != nil {
		b.reply(header.ID, rpcerr.InvalidArgument(err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ex := &execution{id: header.ID, serviceMethod: header.ServiceMethod, cancel: cancel}
	ex.state.Store(int32(stateCreated))

	b.mu.Lock()
	b.executions[header.ID] = ex
	b.mu.Unlock()

	if header.Timeout > 0 {
		b.deadlines.Set(header.ID, time.Now().Add(time.Duration(header.Timeout)*time.Millisecond))
	}

	rpcmetrics.InFlightExecutions.Inc()
	start := time.Now()
	if !ex.transitionTo(stateRunning) {
		rpcmetrics.InFlightExecutions.Dec()
		return
	}

	go func() {
		defer rpcmetrics.InFlightExecutions.Dec()
		reply, err := m.Call(ctx, arg)
		rpcmetrics.ExecutionDuration.WithLabelValues(header.ServiceMethod).Observe(time.Since(start).Seconds())

		b.mu.Lock()
		_, stillTracked := b.executions[header.ID]
		b.mu.Unlock()
		if !stillTracked {
			return
		}

		if !ex.transitionTo(stateCompleted) {
			// Already moved to Cancelled or TimedOut by another
			// goroutine; that path already replied.
			return
		}
		b.deadlines.Cancel(header.ID)
		b.mu.Lock()
		delete(b.executions, header.ID)
		b.mu.Unlock()

		if err != nil {
			rpcmetrics.ExecutionsTotal.WithLabelValues(rpcmetrics.OutcomeError).Inc()
			b.reply(header.ID, err)
			return
		}
		rpcmetrics.ExecutionsTotal.WithLabelValues(rpcmetrics.OutcomeOK).Inc()
		b.replyOK(header.ID, reply)
	}()
}

func (b *Broker) handleCancel(id protocol.MessageId) {
	b.mu.Lock()
	ex, ok := b.executions[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	if !ex.transitionTo(stateCancelled) {
		return
	}
	ex.cancel()
	b.deadlines.Cancel(id)
	b.mu.Lock()
	delete(b.executions, id)
	b.mu.Unlock()
	rpcmetrics.ExecutionsTotal.WithLabelValues(rpcmetrics.OutcomeCanceled).Inc()
	b.reply(id, rpcerr.ExecutionError(rpcerr.CancellationToken))
}

func (b *Broker) handleSubscribe(header protocol.Header) {
	b.topics.Subscribe(header.Topic, b, b.highWaterMark)
	b.mu.Lock()
	b.joined[header.Topic] = struct{}{}
	b.mu.Unlock()
	b.ack(header.ID)
}

func (b *Broker) handleUnsubscribe(header protocol.Header) {
	b.topics.Unsubscribe(header.Topic, b)
	b.mu.Lock()
	delete(b.joined, header.Topic)
	b.mu.Unlock()
	b.ack(header.ID)
}

func (b *Broker) handlePublish(header protocol.Header, dataBytes []byte) {
	b.topics.Publish(header.Topic, dataBytes)
	b.ack(header.ID)
}

func (b *Broker) reply(id protocol.MessageId, err error) {
	rerr, ok := err.(*rpcerr.Error)
	if !ok {
		rerr = rpcerr.Internal(err.Error())
	}
	msg := toWireError(rerr)
	encoded, encErr := b.codec.EncodeError(msg)
	if encErr != nil {
		b.log.Warn("encode error failed: %v", encErr)
		return
	}
	select {
	case b.writeCh <- writeJob{header: protocol.Header{ID: id, Kind: protocol.KindResponse, IsOK: false}, body: rawBody(encoded)}:
	case <-b.closeCh:
	}
}

func (b *Broker) replyOK(id protocol.MessageId, reply any) {
	select {
	case b.writeCh <- writeJob{header: protocol.Header{ID: id, Kind: protocol.KindResponse, IsOK: true}, body: reply}:
	case <-b.closeCh:
	}
}

func (b *Broker) ack(id protocol.MessageId) {
	select {
	case b.writeCh <- writeJob{header: protocol.Header{ID: id, Kind: protocol.KindAck}}:
	case <-b.closeCh:
	}
}

func toWireError(e *rpcerr.Error) protocol.ErrorMessage {
	switch e.Kind {
	case rpcerr.KindInvalidArgument:
		return protocol.ErrorMessage{Kind: protocol.ErrInvalidArgument, Detail: e.Msg}
	case rpcerr.KindServiceNotFound:
		return protocol.ErrorMessage{Kind: protocol.ErrServiceNotFound, Detail: e.Msg}
	case rpcerr.KindMethodNotFound:
		return protocol.ErrorMessage{Kind: protocol.ErrMethodNotFound, Detail: e.Msg}
	case rpcerr.KindExecutionError:
		return protocol.ErrorMessage{Kind: protocol.ErrExecution, Detail: e.Msg}
	default:
		return protocol.ErrorMessage{Kind: protocol.ErrExecution, Detail: e.Error()}
	}
}
