// Package transport provides raw byte channels to a device over TCP or USB.
// A transport knows nothing about the messages flowing through it; it moves
// bytes and classifies its own failures so the layers above can translate
// them without inspecting transport-specific error types.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Op names the transport operation an error originated from. Timeouts carry
// the op so callers can apply distinct retry policy per operation.
type Op string

const (
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
	OpSend       Op = "send"
	OpRecv       Op = "recv"
)

// Sentinel causes carried inside transport errors.
var (
	// ErrDeviceNotFound indicates no device matched the connect filter.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrAccessDenied indicates the device exists but cannot be opened or
	// claimed (permissions, or another process holds it).
	ErrAccessDenied = errors.New("access to device denied")

	// ErrHandleRequired indicates an operation was invoked with a handle
	// that does not belong to this transport, or no handle at all.
	ErrHandleRequired = errors.New("operation requires a handle from this transport")
)

// Error is the failure type for all transport operations. Timeout
// distinguishes deadline expiry from other I/O failures; the underlying
// cause is preserved for errors.Is/errors.As.
type Error struct {
	Op      Op
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s exceeded timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a transport timeout failure.
func IsTimeout(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Timeout
}

func opError(op Op, err error, timeout bool) *Error {
	return &Error{Op: op, Timeout: timeout, Err: err}
}

// Handle is the opaque per-connection state a transport returns from Connect
// and requires for every subsequent operation. Each transport accepts only
// its own handle type; implementers mark themselves with the no-op
// TransportHandle method.
type Handle interface {
	TransportHandle()
}

// Transport is a raw byte channel to a device. Per-operation timeouts are
// expressed as context deadlines; implementations must report deadline
// expiry as a timeout Error, distinct from other failures.
//
// Recv returns fewer than n bytes only at end of stream, reported as a short
// (possibly empty) result with nil error.
type Transport interface {
	Connect(ctx context.Context) (Handle, error)
	Disconnect(ctx context.Context, h Handle) error
	Send(ctx context.Context, h Handle, data []byte) error
	Recv(ctx context.Context, h Handle, n int) ([]byte, error)
}
