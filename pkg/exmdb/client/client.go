// Package client implements ExmdbClient: a single TCP connection that
// frames, sends, and dispatches exmdb calls synchronously. A Client is not
// safe for concurrent use — the protocol has no request multiplexing, so
// callers wanting concurrency must use separate Clients on separate
// connections.
package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/grommunio/exmdb-go/internal/logger"
	"github.com/grommunio/exmdb-go/internal/metrics"
	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/requests"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// Flag controls optional dispatch behavior.
type Flag uint8

// AutoReconnect makes Send attempt one silent reconnect when a call fails
// with ProtocolError(DISPATCH_ERROR) before re-raising the error to the
// caller.
const AutoReconnect Flag = 1 << 0

const defaultDialTimeout = 3 * time.Second

// Client owns exactly one socket and the scratch buffer calls are framed
// into. It is not thread-safe.
type Client struct {
	conn    net.Conn
	buf     *iobuf.Buffer
	metrics *metrics.Metrics
	flags   Flag

	dialTimeout time.Duration

	host      string
	port      uint16
	prefix    string
	isPrivate bool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithMetrics attaches a *metrics.Metrics to observe request/reconnect
// counters. A nil Metrics (the zero value of the option) leaves every
// observation a no-op.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithFlags sets the client's dispatch flags (currently only
// AutoReconnect).
func WithFlags(f Flag) Option {
	return func(c *Client) { c.flags = f }
}

// WithDialTimeout overrides the default 3-second connect budget.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// New returns a Client with no open connection. Call Connect before
// issuing requests.
func New(opts ...Option) *Client {
	c := &Client{buf: iobuf.New(), dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect resolves host, dials the first address that accepts a
// connection within the dial timeout, and issues the Connect call that
// must open every exmdb session.
func (c *Client) Connect(ctx context.Context, host string, port uint16, prefix string, isPrivate bool) error {
	c.host, c.port, c.prefix, c.isPrivate = host, port, prefix, isPrivate

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn

	if _, err := Send[requests.ConnectResponse](c, requests.Connect{Prefix: prefix, IsPrivate: isPrivate}); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Reconnect dials a fresh connection with the parameters from the last
// Connect call and re-issues Connect. On any failure the existing
// connection, if any, is left intact and the error is returned.
func (c *Client) Reconnect(ctx context.Context) error {
	newConn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	oldConn := c.conn
	c.conn = newConn
	if _, err := Send[requests.ConnectResponse](c, requests.Connect{Prefix: c.prefix, IsPrivate: c.isPrivate}); err != nil {
		newConn.Close()
		c.conn = oldConn
		return err
	}

	if oldConn != nil {
		oldConn.Close()
	}
	if c.metrics != nil {
		c.metrics.ObserveReconnect()
	}
	return nil
}

// Close releases the underlying socket, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// dial resolves host and tries each returned address in order, the first
// to accept a connection within the dial timeout wins.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(dialCtx, c.host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", werr.ErrConnection, c.host, err)
	}

	var dialer net.Dialer
	var lastErr error
	port := strconv.Itoa(int(c.port))
	for _, addr := range addrs {
		conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			logger.Debug("exmdb: connected", "addr", addr, "port", c.port)
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: connect %s:%d: %v", werr.ErrConnection, c.host, c.port, lastErr)
}

// Send frames req, sends it on c's connection, and parses the typed
// response. When AutoReconnect is set and the call fails with
// ProtocolError(DISPATCH_ERROR), Send transparently reconnects once before
// re-raising the original error — the failed call itself is not retried.
func Send[R any](c *Client, req requests.Request[R]) (R, error) {
	var zero R

	c.buf.Clear()
	c.buf.Start()
	c.buf.PushUint8(req.Opcode())
	if err := req.WriteBody(c.buf); err != nil {
		return zero, err
	}
	if err := c.buf.Finalize(); err != nil {
		return zero, err
	}

	start := time.Now()
	body, err := c.roundTrip(c.buf.Bytes())
	if c.metrics != nil {
		c.metrics.ObserveRequest(requests.OpcodeName(req.Opcode()), time.Since(start).Seconds())
	}
	if err != nil {
		var protoErr *werr.ErrProtocol
		if errors.As(err, &protoErr) {
			if c.metrics != nil {
				c.metrics.ObserveProtocolError(protoErr.Code)
			}
		}
		if errors.As(err, &protoErr) && protoErr.Code == werr.DispatchError && c.flags&AutoReconnect != 0 {
			logger.Warn("exmdb: dispatch error, attempting silent reconnect", "opcode", requests.OpcodeName(req.Opcode()))
			if reErr := c.Reconnect(context.Background()); reErr != nil {
				logger.Warn("exmdb: auto-reconnect failed", "error", reErr)
			}
		}
		return zero, err
	}

	return req.ParseResponse(iobuf.FromBytes(body))
}

// roundTrip writes a finalized request body and reads back the 5-byte
// response header followed by its body.
func (c *Client) roundTrip(frame []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", werr.ErrConnection)
	}

	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("%w: write: %v", werr.ErrConnection, err)
	}

	var header [5]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read response header: %v", werr.ErrConnection, err)
	}
	status := header[0]
	length := binary.LittleEndian.Uint32(header[1:5])
	if status != werr.Success {
		return nil, &werr.ErrProtocol{Code: status}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", werr.ErrConnection, err)
	}
	return body, nil
}
