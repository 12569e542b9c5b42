package protocol

import (
	"errors"
	"fmt"

	"github.com/droidwire/adblink/internal/message"
)

// Sentinel errors raised by the flow protocol.
var (
	// ErrNotConnected is returned when a stream operation is attempted
	// before the handshake has completed.
	ErrNotConnected = errors.New("flow protocol is not connected")

	// ErrNoResponse indicates the peer closed the stream before an expected
	// reply arrived.
	ErrNoResponse = errors.New("expected a response but the stream ended")

	// ErrAuthRequired indicates the device demands authentication and no key
	// provider is configured.
	ErrAuthRequired = errors.New("device requires authentication but no key provider is configured")

	// ErrAuthRejected indicates authentication was exhausted: the device
	// kept rejecting after the signature attempts and public-key fallback.
	ErrAuthRejected = errors.New("device rejected authentication")

	// ErrStreamClosed is returned for operations on a stream the device or
	// the caller has already closed.
	ErrStreamClosed = errors.New("stream is closed")

	// ErrPayloadTooLarge indicates a received header declaring a payload
	// beyond the limit for its command.
	ErrPayloadTooLarge = errors.New("declared payload exceeds the command's limit")
)

// ConnectionError wraps an underlying connection failure surfaced through
// the protocol layer.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("protocol connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// InvalidResponseError indicates a syntactically valid message whose command
// is semantically unexpected for the current state.
type InvalidResponseError struct {
	State   State
	Command message.Command
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("unexpected %s response in state %s", e.Command, e.State)
}
