// Package connection wraps a transport and its handle behind a single object
// that enforces "operations require an active connection" and translates
// transport failures into connection-level errors.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/droidwire/adblink/internal/transport"
)

// ErrConnectionRequired is returned when an operation other than connect is
// attempted on a connection that is not active.
var ErrConnectionRequired = errors.New("operation requires an active connection")

// Error wraps a transport failure translated to the connection layer.
// Timeout is preserved from the underlying transport error so callers keep
// their distinct retry policy without seeing transport types.
type Error struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("connection %s exceeded timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a connection timeout failure.
func IsTimeout(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Timeout
}

// Connection owns one transport and the handle it returned from connect.
// It is active while both are present; Disconnect clears them so further
// operations fail fast with ErrConnectionRequired.
//
// A Connection is not safe for concurrent use by multiple logical
// operations: at most one in-flight Send and one in-flight Recv.
type Connection struct {
	transport transport.Transport
	handle    transport.Handle
}

// Connect opens the given transport and returns a connection wrapping it.
func Connect(ctx context.Context, t transport.Transport) (*Connection, error) {
	handle, err := t.Connect(ctx)
	if err != nil {
		return nil, translate("connect", err)
	}
	return &Connection{transport: t, handle: handle}, nil
}

// IsConnected reports whether the connection holds both a transport and a
// handle.
func (c *Connection) IsConnected() bool {
	return c.transport != nil && c.handle != nil
}

// Disconnect closes the underlying transport and clears the connection
// state. A second Disconnect fails with ErrConnectionRequired instead of
// reaching the transport again.
func (c *Connection) Disconnect(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrConnectionRequired
	}
	err := c.transport.Disconnect(ctx, c.handle)
	c.transport = nil
	c.handle = nil
	if err != nil {
		return translate("disconnect", err)
	}
	return nil
}

// Send writes the whole buffer over the transport.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	if !c.IsConnected() {
		return ErrConnectionRequired
	}
	if err := c.transport.Send(ctx, c.handle, data); err != nil {
		return translate("send", err)
	}
	return nil
}

// Recv reads exactly n bytes, looping over short transport reads and
// concatenating until n bytes have accumulated or the transport reports end
// of stream, in which case the shorter buffer is returned. Recv of zero
// bytes returns nil without touching the transport.
func (c *Connection) Recv(ctx context.Context, n int) ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrConnectionRequired
	}
	if n == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk, err := c.transport.Recv(ctx, c.handle, n-len(buf))
		if err != nil {
			return nil, translate("recv", err)
		}
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// translate maps a transport error onto the connection error vocabulary,
// keeping the original as the cause. Transport types never leak upward.
func translate(op string, err error) error {
	return &Error{Op: op, Timeout: transport.IsTimeout(err), Err: err}
}
