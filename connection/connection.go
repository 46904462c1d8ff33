// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package connection manages the single persistent transport a fuzzing
// session holds open against its target endpoint.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
)

// Transport names the wire transport a Connection speaks.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// ErrConnectFailure wraps timeout/refused/unreachable errors from open().
var ErrConnectFailure = errors.New("connect failure")

// ErrTransportError wraps broken-pipe-class errors from send().
var ErrTransportError = errors.New("transport error")

// Stats is the accounting record spec.md §4.8 requires per connection.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	SendCount       uint64
	RecvCount       uint64
	ReconnectCount  uint64
	LastSendAt      time.Time
	LastRecvAt      time.Time
	LastRecvErrored bool
}

// SizeFieldReader, when set, lets recv() find a message boundary by
// incrementally parsing a declared size field instead of returning
// whatever the first read delivers. It returns the total message length once enough
// bytes are available to determine it, or ok=false if more data is
// needed.
type SizeFieldReader func(buf []byte) (length int, ok bool)

// Connection is a single (session, endpoint) transport. It stays open
// from Open until Close or Reconnect; the persistent flag is only stored
// and reported by Persistent, and a Connection never reopens itself per
// packet.
type Connection struct {
	mu         sync.Mutex
	transport  Transport
	addr       string
	persistent bool
	maxBytes   int
	log        log.Logger

	conn  net.Conn
	stats Stats
}

// New builds a Connection. It does not dial; call Open first.
func New(transport Transport, addr string, persistent bool, maxBytes int, logger log.Logger) *Connection {
	if maxBytes <= 0 {
		maxBytes = 65536
	}
	return &Connection{
		transport:  transport,
		addr:       addr,
		persistent: persistent,
		maxBytes:   maxBytes,
		log:        logger,
	}
}

// Open establishes the transport.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Connection) openLocked(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, string(c.transport), c.addr)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrConnectFailure, c.transport, c.addr, err)
	}
	c.conn = conn
	c.log.Debug("connection opened", "transport", string(c.transport), "addr", c.addr)
	return nil
}

// Send writes all of b. Per-connection locking is the caller's
// responsibility when interleaving with the heartbeat scheduler; Send
// itself only guards the Connection's own state.
func (c *Connection) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("%w: not connected", ErrTransportError)
	}
	n, err := c.conn.Write(b)
	if err != nil {
		c.stats.LastRecvErrored = true
		return fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	c.stats.BytesSent += uint64(n)
	c.stats.SendCount++
	c.stats.LastSendAt = time.Now()
	return nil
}

// Recv reads up to a message boundary (via boundary, if non-nil). Without
// a boundary it returns the data delivered by the first read that yields
// any, capped at c.maxBytes. If timeout elapses first it returns what has
// arrived (possibly nothing) with no error. Returns the bytes read and
// whether the peer closed the connection (terminal).
func (c *Connection) Recv(timeout time.Duration, boundary SizeFieldReader) ([]byte, bool, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, false, fmt.Errorf("%w: not connected", ErrTransportError)
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.recordRecv(buf, false)
				return buf, false, nil
			}
			terminal := errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
			c.recordRecv(buf, true)
			return buf, terminal, err
		}
		if boundary != nil {
			if length, ok := boundary(buf); ok && len(buf) >= length {
				c.recordRecv(buf[:length], false)
				return buf[:length], false, nil
			}
		} else if len(buf) > 0 {
			if len(buf) > c.maxBytes {
				buf = buf[:c.maxBytes]
			}
			c.recordRecv(buf, false)
			return buf, false, nil
		}
	}
}

func (c *Connection) recordRecv(buf []byte, errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.BytesReceived += uint64(len(buf))
	c.stats.RecvCount++
	c.stats.LastRecvAt = time.Now()
	c.stats.LastRecvErrored = errored
}

// Close shuts the connection down. Idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Reconnect closes then reopens the transport, incrementing the
// reconnect counter while preserving accounting identity.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.stats.ReconnectCount++
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

// Healthy reports connected-and-no-recent-recv-error, the single source
// of truth spec.md designates for connection health.
func (c *Connection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.stats.LastRecvErrored
}

// Stats returns a copy of the current accounting record.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Persistent reports whether the session should keep this Connection
// open across messages rather than reopening per packet.
func (c *Connection) Persistent() bool {
	return c.persistent
}
