// Package udp implements the datagram side of a voice session: the one-shot
// address discovery exchange and the sealed audio datagram.
package udp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Dialer is the default dialer that this package uses for all its dialing.
var Dialer = net.Dialer{
	Timeout: 10 * time.Second,
}

// ErrClosed is returned if a Write was called on a closed connection.
var ErrClosed = errors.New("UDP connection closed")

// SendFailure is reported when a datagram could not be written. It is never
// fatal to the sender.
type SendFailure struct {
	Sequence uint16
	Err      error
}

// Error formats the failure with the frame's sequence.
func (f *SendFailure) Error() string {
	return "failed to send frame " + strconv.Itoa(int(f.Sequence)) + ": " + f.Err.Error()
}

// Unwrap returns the write error.
func (f *SendFailure) Unwrap() error { return f.Err }

// Connection is a UDP socket bound to the voice server's datagram address. The
// same socket is used for discovery and then for audio.
type Connection struct {
	// GatewayIP and GatewayPort are our external address as seen by the voice
	// server, learned through Discover.
	GatewayIP   string
	GatewayPort uint16

	conn   net.Conn
	ssrc   uint32
	closed atomic.Bool

	// buf is reused by WriteFrame.
	buf []byte
}

// DialConnection dials the voice server at addr and runs address discovery
// with the given SSRC. The discovery exchange gives up after timeout.
func DialConnection(
	ctx context.Context, addr string, ssrc uint32, timeout time.Duration) (*Connection, error) {

	return DialConnectionCustom(ctx, &Dialer, addr, ssrc, timeout)
}

// DialConnectionCustom dials the UDP connection with a custom dialer.
func DialConnectionCustom(
	ctx context.Context, dialer *net.Dialer,
	addr string, ssrc uint32, timeout time.Duration) (*Connection, error) {

	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial host")
	}

	ip, port, err := Discover(ctx, conn, ssrc, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Connection{
		GatewayIP:   ip,
		GatewayPort: port,
		conn:        conn,
		ssrc:        ssrc,
	}, nil
}

// SSRC returns the SSRC that the connection was discovered with.
func (c *Connection) SSRC() uint32 {
	return c.ssrc
}

// RemoteAddr returns the voice server's datagram address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Write writes a single datagram. ErrClosed is returned if the connection is
// closed.
func (c *Connection) Write(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	n, err := c.conn.Write(b)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return n, ErrClosed
		}
		return n, err
	}

	return n, nil
}

// WriteFrame seals the frame with the given key and writes it as a single
// datagram. Errors are returned as *SendFailure. WriteFrame must not be called
// concurrently.
func (c *Connection) WriteFrame(f *Frame, sealer Sealer, key *[32]byte) error {
	c.buf = f.AppendSealed(c.buf[:0], sealer, key)

	if _, err := c.Write(c.buf); err != nil {
		return &SendFailure{Sequence: f.Sequence, Err: err}
	}

	return nil
}

// SetWriteDeadline sets the UDP connection's write deadline.
func (c *Connection) SetWriteDeadline(deadline time.Time) error {
	return c.conn.SetWriteDeadline(deadline)
}

// Close closes the connection. Closing an already closed connection does
// nothing.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	return c.conn.Close()
}

// IsClosed returns true if Close was called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}
