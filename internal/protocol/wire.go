// Package protocol implements the ADB message layers above a connection:
// the wire protocol that moves whole messages, and the flow protocol that
// drives the CNXN/AUTH handshake and stream lifecycle.
package protocol

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/droidwire/adblink/internal/connection"
	"github.com/droidwire/adblink/internal/message"
)

var wireLog = logrus.WithField("component", "protocol.wire")

// WireProtocol reads and writes whole messages over a connection. It is
// indifferent to the transport underneath and performs no handshake logic.
//
// Reads and writes are strictly ordered within one connection: a new message
// is never decoded until the previous payload has been fully consumed, and
// partial writes of two messages never interleave.
type WireProtocol interface {
	ReadMessage(ctx context.Context) (message.Message, error)
	WriteMessage(ctx context.Context, msg message.Message) error
}

type wire struct {
	conn *connection.Connection
}

// NewWire returns a WireProtocol over the given connection.
func NewWire(conn *connection.Connection) WireProtocol {
	return &wire{conn: conn}
}

// ReadMessage reads one message: the fixed header, then however many payload
// bytes the header declares, attached with checksum validation. The declared
// length is bounded before any payload byte is read, and the magic word is
// checked once the message is complete.
func (w *wire) ReadMessage(ctx context.Context) (message.Message, error) {
	header, err := w.conn.Recv(ctx, message.HeaderSize)
	if err != nil {
		return message.Message{}, &ConnectionError{Err: err}
	}
	if len(header) < message.HeaderSize {
		return message.Message{}, ErrNoResponse
	}

	msg, err := message.Decode(header)
	if err != nil {
		return message.Message{}, err
	}
	if limit := payloadLimit(msg.Command); msg.DataLength > limit {
		return message.Message{}, fmt.Errorf("%w: %s declares a %d byte payload, limit %d",
			ErrPayloadTooLarge, msg.Command, msg.DataLength, limit)
	}

	if msg.DataLength > 0 {
		payload, err := w.conn.Recv(ctx, int(msg.DataLength))
		if err != nil {
			return message.Message{}, &ConnectionError{Err: err}
		}
		if len(payload) < int(msg.DataLength) {
			return message.Message{}, ErrNoResponse
		}
		if err := msg.AttachPayload(payload); err != nil {
			return message.Message{}, err
		}
	}

	if !msg.MagicValid() {
		return message.Message{}, &message.MagicError{Command: msg.Command, Magic: msg.Magic}
	}

	wireLog.WithField("msg", msg.String()).Debug("read message")
	return msg, nil
}

// payloadLimit returns the maximum payload a command may declare: CNXN and
// AUTH keep the older 4096 byte limit, everything else gets MaxData.
func payloadLimit(cmd message.Command) uint32 {
	if cmd == message.CmdCnxn || cmd == message.CmdAuth {
		return message.ConnectAuthMaxData
	}
	return message.MaxData
}

// WriteMessage writes one message, header then payload, as a single logical
// operation.
func (w *wire) WriteMessage(ctx context.Context, msg message.Message) error {
	wireLog.WithField("msg", msg.String()).Debug("writing message")

	if err := w.conn.Send(ctx, message.Encode(msg)); err != nil {
		return &ConnectionError{Err: err}
	}
	if len(msg.Data) > 0 {
		if err := w.conn.Send(ctx, msg.Data); err != nil {
			return &ConnectionError{Err: err}
		}
	}
	return nil
}
