package protocol

import (
	"context"
	"fmt"
	"io"

	"github.com/droidwire/adblink/internal/message"
)

// StreamState is the lifecycle position of a logical stream.
type StreamState int

const (
	StreamOpening StreamState = iota
	StreamOpen
	StreamClosing
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamOpening:
		return "opening"
	case StreamOpen:
		return "open"
	case StreamClosing:
		return "closing"
	case StreamClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// Stream is one logical channel multiplexed over a connected Flow,
// identified by the (local, remote) id pair agreed during open.
type Stream struct {
	flow        *Flow
	localID     uint32
	remoteID    uint32
	destination string
	state       StreamState
}

// LocalID returns the id this host chose for the stream.
func (s *Stream) LocalID() uint32 { return s.localID }

// RemoteID returns the id the device assigned on accept.
func (s *Stream) RemoteID() uint32 { return s.remoteID }

// Destination returns the destination string the stream was opened to.
func (s *Stream) Destination() string { return s.destination }

// State returns the stream lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// OpenStream sends OPEN for the destination and waits for the device's
// verdict: OKAY opens the stream, CLSE rejects it.
func (f *Flow) OpenStream(ctx context.Context, destination string) (*Stream, error) {
	if f.state != StateConnected {
		return nil, ErrNotConnected
	}

	localID := f.nextLocalID
	f.nextLocalID++

	s := &Stream{flow: f, localID: localID, destination: destination, state: StreamOpening}
	f.streams[localID] = s

	if err := f.wire.WriteMessage(ctx, message.Open(localID, destination)); err != nil {
		delete(f.streams, localID)
		return nil, err
	}

	msg, err := f.wire.ReadMessage(ctx)
	if err != nil {
		delete(f.streams, localID)
		return nil, err
	}

	switch {
	case msg.IsOkay() && msg.Arg1 == localID:
		s.remoteID = msg.Arg0
		s.state = StreamOpen
		flowLog.WithField("dest", destination).Debug("stream open")
		return s, nil
	case msg.IsClose() && msg.Arg1 == localID:
		s.state = StreamClosed
		delete(f.streams, localID)
		return nil, fmt.Errorf("open %q rejected: %w", destination, ErrStreamClosed)
	default:
		delete(f.streams, localID)
		return nil, &InvalidResponseError{State: f.state, Command: msg.Command}
	}
}

// Write sends data on the stream, chunked to the device's payload limit.
// Flow control allows one outstanding WRTE: each chunk waits for the
// device's OKAY before the next is sent.
func (s *Stream) Write(ctx context.Context, data []byte) error {
	if s.state != StreamOpen {
		return ErrStreamClosed
	}
	if len(data) == 0 {
		return &message.PackError{Reason: "write payload must not be empty"}
	}

	maxChunk := int(s.flow.remoteMaxData)
	for offset := 0; offset < len(data); offset += maxChunk {
		end := offset + maxChunk
		if end > len(data) {
			end = len(data)
		}

		msg, err := message.Write(s.localID, s.remoteID, data[offset:end])
		if err != nil {
			return err
		}
		if err := s.flow.wire.WriteMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.awaitAck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// awaitAck consumes the device's acknowledgment of the last WRTE.
func (s *Stream) awaitAck(ctx context.Context) error {
	msg, err := s.flow.wire.ReadMessage(ctx)
	if err != nil {
		return err
	}
	switch {
	case msg.IsOkay() && msg.Arg1 == s.localID:
		return nil
	case msg.IsClose() && msg.Arg1 == s.localID:
		s.state = StreamClosed
		delete(s.flow.streams, s.localID)
		return ErrStreamClosed
	default:
		return &InvalidResponseError{State: s.flow.state, Command: msg.Command}
	}
}

// Read waits for the next WRTE on the stream, acknowledges it with OKAY and
// returns the payload. A CLSE from the device closes the stream and is
// reported as io.EOF.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	if s.state != StreamOpen {
		return nil, ErrStreamClosed
	}

	msg, err := s.flow.wire.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.IsWrite() && msg.Arg1 == s.localID:
		if err := s.flow.wire.WriteMessage(ctx, message.Okay(s.localID, s.remoteID)); err != nil {
			return nil, err
		}
		return msg.Data, nil
	case msg.IsClose() && msg.Arg1 == s.localID:
		s.state = StreamClosed
		delete(s.flow.streams, s.localID)
		return nil, io.EOF
	default:
		return nil, &InvalidResponseError{State: s.flow.state, Command: msg.Command}
	}
}

// Close sends CLSE and marks the stream closed. Teardown is best-effort:
// the stream transitions to closed whether or not the device echoes a CLSE
// back, and a send failure still leaves it closed locally.
func (s *Stream) Close(ctx context.Context) error {
	if s.state == StreamClosed {
		return nil
	}
	s.state = StreamClosing
	err := s.flow.wire.WriteMessage(ctx, message.Close(s.localID, s.remoteID))
	s.state = StreamClosed
	delete(s.flow.streams, s.localID)
	return err
}
