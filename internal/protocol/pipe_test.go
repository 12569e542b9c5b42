package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/droidwire/adblink/internal/connection"
	"github.com/droidwire/adblink/internal/message"
	"github.com/droidwire/adblink/internal/transport"
)

// pipeTransport adapts one end of a net.Pipe to the transport interface so
// protocol tests can run against a scripted in-memory peer.
type pipeTransport struct {
	conn net.Conn
}

type pipeHandle struct {
	conn net.Conn
}

func (pipeHandle) TransportHandle() {}

func (p *pipeTransport) Connect(ctx context.Context) (transport.Handle, error) {
	return pipeHandle{conn: p.conn}, nil
}

func (p *pipeTransport) Disconnect(ctx context.Context, h transport.Handle) error {
	return p.conn.Close()
}

func (p *pipeTransport) Send(ctx context.Context, h transport.Handle, data []byte) error {
	if _, err := p.conn.Write(data); err != nil {
		return &transport.Error{Op: transport.OpSend, Err: err}
	}
	return nil
}

func (p *pipeTransport) Recv(ctx context.Context, h transport.Handle, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := p.conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &transport.Error{Op: transport.OpRecv, Err: err}
	}
	return buf[:read], nil
}

// newTestFlow wires a Flow over one end of a pipe and hands back the peer
// end for scripting.
func newTestFlow(t *testing.T, opts Options) (*Flow, net.Conn) {
	t.Helper()
	host, peer := net.Pipe()
	t.Cleanup(func() {
		host.Close()
		peer.Close()
	})

	conn, err := connection.Connect(context.Background(), &pipeTransport{conn: host})
	if err != nil {
		t.Fatal(err)
	}
	return NewFlow(NewWire(conn), opts), peer
}

// peerRead reads one full message off the raw peer conn.
func peerRead(t *testing.T, conn net.Conn) (message.Message, bool) {
	t.Helper()
	header := make([]byte, message.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Errorf("peer read header: %v", err)
		return message.Message{}, false
	}
	msg, err := message.Decode(header)
	if err != nil {
		t.Errorf("peer decode: %v", err)
		return message.Message{}, false
	}
	if msg.DataLength > 0 {
		payload := make([]byte, msg.DataLength)
		if _, err := io.ReadFull(conn, payload); err != nil {
			t.Errorf("peer read payload: %v", err)
			return message.Message{}, false
		}
		if err := msg.AttachPayload(payload); err != nil {
			t.Errorf("peer attach: %v", err)
			return message.Message{}, false
		}
	}
	return msg, true
}

// peerWrite writes one message onto the raw peer conn.
func peerWrite(t *testing.T, conn net.Conn, msg message.Message) bool {
	t.Helper()
	if _, err := conn.Write(message.Encode(msg)); err != nil {
		t.Errorf("peer write header: %v", err)
		return false
	}
	if len(msg.Data) > 0 {
		if _, err := conn.Write(msg.Data); err != nil {
			t.Errorf("peer write payload: %v", err)
			return false
		}
	}
	return true
}

// deviceAccept is the CNXN a device replies with when it accepts the host.
func deviceAccept() message.Message {
	return message.ConnectAs(message.SystemDevice, "emulator-5554", "ro.product.name=sdk;features=shell_v2")
}

// scriptSigner is a deterministic KeyProvider for handshake tests.
type scriptSigner struct {
	pub       []byte
	signCalls int
	signErr   error
}

func (s *scriptSigner) Sign(data []byte) ([]byte, error) {
	s.signCalls++
	if s.signErr != nil {
		return nil, s.signErr
	}
	return append([]byte("signed:"), data...), nil
}

func (s *scriptSigner) PublicKeyBytes() ([]byte, error) {
	return s.pub, nil
}
