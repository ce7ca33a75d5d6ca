// Package server implements the builder and accept loop described in
// §4.8: register services, then accept connections over TCP, TLS, or
// an HTTP upgrade, each served by its own serverbroker.Broker.
package server

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunrpc/internal/codec"
	"github.com/kartikbazzad/bunrpc/internal/logging"
	"github.com/kartikbazzad/bunrpc/internal/pubsub"
	"github.com/kartikbazzad/bunrpc/internal/registry"
	"github.com/kartikbazzad/bunrpc/internal/rpcconfig"
	"github.com/kartikbazzad/bunrpc/internal/rpchttp"
	"github.com/kartikbazzad/bunrpc/internal/serverbroker"
	"github.com/kartikbazzad/bunrpc/internal/wire"
	"github.com/kartikbazzad/bunrpc/internal/wstransport"
)

// Server dispatches inbound calls to registered services and fans
// publications out to subscribers across every connection it serves.
type Server struct {
	registry *registry.Registry
	topics   *pubsub.Broker
	log      *logging.Logger
	cfg      *rpcconfig.Config
	codec    codec.Codec

	authSecret []byte

	mu    sync.Mutex
	conns map[*serverbroker.Broker]struct{}
	wg    sync.WaitGroup
}

// Builder accumulates service registrations before Build produces an
// immutable Server.
type Builder struct {
	reg   *registry.Registry
	cfg   *rpcconfig.Config
	log   *logging.Logger
	codec codec.Codec
	auth  []byte
	err   error
}

// NewBuilder starts a fresh Builder with default configuration and
// the JSON codec.
func NewBuilder() *Builder {
	return &Builder{
		reg:   registry.New(),
		cfg:   rpcconfig.Default(),
		log:   logging.Default(),
		codec: codec.JSONCodec{},
	}
}

// Register exposes rcvr's dispatchable methods under name.
func (b *Builder) Register(name string, rcvr any) *Builder {
	if b.err != nil {
		return b
	}
	b.err = b.reg.Register(name, rcvr)
	return b
}

// WithConfig overrides the default Config.
func (b *Builder) WithConfig(cfg *rpcconfig.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithLogger overrides the default logger.
func (b *Builder) WithLogger(log *logging.Logger) *Builder {
	b.log = log
	return b
}

// WithCodec overrides the default JSON codec.
func (b *Builder) WithCodec(c codec.Codec) *Builder {
	b.codec = c
	return b
}

// WithAuthSecret requires a valid bearer token on the HTTP upgrade
// path. Pure-TCP Accept is unaffected.
func (b *Builder) WithAuthSecret(secret []byte) *Builder {
	b.auth = secret
	return b
}

// Build finalizes registration and returns a ready-to-serve Server.
func (b *Builder) Build() (*Server, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Server{
		registry:   b.reg,
		topics:     pubsub.New(),
		log:        b.log,
		cfg:        b.cfg,
		codec:      b.codec,
		authSecret: b.auth,
		conns:      make(map[*serverbroker.Broker]struct{}),
	}, nil
}

func (s *Server) track(b *serverbroker.Broker) {
	s.mu.Lock()
	s.conns[b] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(b *serverbroker.Broker) {
	s.mu.Lock()
	delete(s.conns, b)
	s.mu.Unlock()
}

// serveTransport builds a serverbroker over transport and serves it
// until the connection closes.
func (s *Server) serveTransport(transport wire.Transport) {
	b := serverbroker.New(transport, s.codec, s.registry, s.topics, s.log, s.cfg.PublishHighWaterMark)
	s.track(b)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(b)
		b.Serve()
	}()
}

// Accept runs the accept loop over lis, serving each accepted
// connection concurrently with its own broker, until lis is closed.
func (s *Server) Accept(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			default:
				s.log.Warn("accept failed: %v", err)
			}
			return err
		}
		s.log.Debug("accepted connection from %s", conn.RemoteAddr())
		s.serveTransport(wire.NewConnTransport(conn))
	}
}

// AcceptTLS is Accept over a TLS listener built from cfg.
func (s *Server) AcceptTLS(lis net.Listener, cfg *tls.Config) error {
	return s.Accept(tls.NewListener(lis, cfg))
}

// MountHTTP registers the HTTP upgrade endpoint on router at
// rpchttp.DefaultRPCPath, serving each upgraded connection with its
// own broker.
func (s *Server) MountHTTP(router gin.IRouter) {
	rpchttp.Mount(router, func(conn *websocket.Conn) {
		s.serveTransport(wstransport.New(conn))
	}, rpchttp.Options{AuthSecret: s.authSecret, Log: s.log})
}

// Close closes every connection the server currently serves and waits
// for their brokers to stop.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*serverbroker.Broker, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return nil
}
