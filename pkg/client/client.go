// Package client implements the dial surface and broker facade
// described in §4.5 and §6, and the flexible with_stream/with_codec
// construction supplemented from toy-rpc's client.rs.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunrpc/internal/clientbroker"
	"github.com/kartikbazzad/bunrpc/internal/codec"
	"github.com/kartikbazzad/bunrpc/internal/logging"
	"github.com/kartikbazzad/bunrpc/internal/rpcconfig"
	"github.com/kartikbazzad/bunrpc/internal/rpchttp"
	"github.com/kartikbazzad/bunrpc/internal/wire"
	"github.com/kartikbazzad/bunrpc/internal/wstransport"
)

// DefaultRPCPath is re-exported for callers building their own dial
// URLs; it is the same constant the server mounts on.
const DefaultRPCPath = rpchttp.DefaultRPCPath

// Client is a connected, multiplexed RPC endpoint. Every exported
// method is safe for concurrent use.
type Client struct {
	id     uuid.UUID
	broker *clientbroker.Broker
	cfg    *rpcconfig.Config
}

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	codec   codec.Codec
	log     *logging.Logger
	cfg     *rpcconfig.Config
	onFatal func(error)
}

// WithCodec overrides the default JSON codec.
func WithCodec(c codec.Codec) Option { return func(o *options) { o.codec = c } }

// WithLogger overrides the default logger.
func WithLogger(log *logging.Logger) Option { return func(o *options) { o.log = log } }

// WithConfig overrides the default Config.
func WithConfig(cfg *rpcconfig.Config) Option { return func(o *options) { o.cfg = cfg } }

// OnFatal registers a callback invoked once if the underlying
// transport fails outside of an explicit Close.
func OnFatal(f func(error)) Option { return func(o *options) { o.onFatal = f } }

func resolveOptions(opts []Option) *options {
	o := &options{codec: codec.JSONCodec{}, log: logging.Default(), cfg: rpcconfig.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithStream builds a Client directly over an already-established
// stream connection (TCP, TLS, or any io.ReadWriteCloser), using the
// default JSON codec unless overridden, mirroring toy-rpc's
// Client::with_stream.
func WithStream(rw io.ReadWriteCloser, opts ...Option) *Client {
	o := resolveOptions(opts)
	return newClient(wire.NewConnTransport(rw), o)
}

// WithTransport builds a Client directly over a wire.Transport, used
// internally by DialHTTP's websocket path and exposed for callers
// adapting their own transports.
func WithTransport(transport wire.Transport, opts ...Option) *Client {
	o := resolveOptions(opts)
	return newClient(transport, o)
}

func newClient(transport wire.Transport, o *options) *Client {
	return &Client{
		id:     uuid.New(),
		broker: clientbroker.New(transport, o.codec, o.log, o.onFatal),
		cfg:    o.cfg,
	}
}

// Dial connects to addr over plain TCP.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)
	d := net.Dialer{Timeout: o.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(wire.NewConnTransport(conn), o), nil
}

// DialSecure connects to addr over TLS. crypto/tls is the stdlib
// transport-security package every pack repo defers to; no
// third-party TLS library is exercised anywhere in this module.
func DialSecure(ctx context.Context, addr string, tlsConfig *tls.Config, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)
	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: o.cfg.DialTimeout}, Config: tlsConfig}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(wire.NewConnTransport(conn), o), nil
}

// DialHTTP joins DefaultRPCPath onto baseURL, switches the scheme to
// ws/wss, and upgrades to a websocket connection, mirroring toy-rpc's
// client.rs dial_http. authToken, if non-empty, is attached as a
// bearer token.
func DialHTTP(ctx context.Context, baseURL string, authToken string, opts ...Option) (*Client, error) {
	o := resolveOptions(opts)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + DefaultRPCPath

	header := make(map[string][]string)
	if authToken != "" {
		header["Authorization"] = []string{"Bearer " + authToken}
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	return newClient(wstransport.New(conn), o), nil
}

// Call issues a synchronous request, blocking until a response
// arrives, ctx is done, or timeout elapses (0 disables the timeout,
// falling back to the connection's default if configured).
func (c *Client) Call(ctx context.Context, serviceMethod string, args, reply any, timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.cfg.DefaultCallTimeout
	}
	return c.broker.Call(ctx, serviceMethod, args, reply, timeout)
}

// AsyncCall issues a request without blocking; the result arrives over
// the returned Call's Done channel.
func (c *Client) AsyncCall(serviceMethod string, args, reply any, timeout time.Duration) *clientbroker.Call {
	if timeout == 0 {
		timeout = c.cfg.DefaultCallTimeout
	}
	return c.broker.AsyncCall(serviceMethod, args, reply, timeout)
}

// SpawnTask issues a request and discards its response, for
// fire-and-forget work.
func (c *Client) SpawnTask(serviceMethod string, args any, timeout time.Duration) {
	if timeout == 0 {
		timeout = c.cfg.DefaultCallTimeout
	}
	c.broker.SpawnTask(serviceMethod, args, timeout)
}

// Subscribe joins topic, invoking handler for every publication until
// Unsubscribe or Close.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(data []byte)) error {
	return c.broker.Subscribe(ctx, topic, handler)
}

// Unsubscribe leaves topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	return c.broker.Unsubscribe(ctx, topic)
}

// Publish sends a publication to topic for the server to fan out.
func (c *Client) Publish(topic string, payload any) error {
	return c.broker.Publish(topic, payload)
}

// Close shuts down the connection and fails every outstanding call.
func (c *Client) Close() error {
	return c.broker.Close()
}

// ID returns the client's correlation identity, used only for logs
// and metrics, never for MessageId allocation.
func (c *Client) ID() uuid.UUID { return c.id }
