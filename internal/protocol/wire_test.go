package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/droidwire/adblink/internal/connection"
	"github.com/droidwire/adblink/internal/message"
)

func newTestWire(t *testing.T) (WireProtocol, net.Conn) {
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
	return NewWire(conn), peer
}

func TestWireWriteFraming(t *testing.T) {
	w, peer := newTestWire(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		header := make([]byte, message.HeaderSize)
		if _, err := io.ReadFull(peer, header); err != nil {
			t.Errorf("read header: %v", err)
			return
		}
		msg, err := message.Decode(header)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if !msg.IsConnect() {
			t.Errorf("command = %v, want CNXN", msg.Command)
		}
		payload := make([]byte, msg.DataLength)
		if _, err := io.ReadFull(peer, payload); err != nil {
			t.Errorf("read payload: %v", err)
			return
		}
		if want := "host:0123456789ABCDEF:foobarbaz\x00"; string(payload) != want {
			t.Errorf("payload = %q, want %q", payload, want)
		}
	}()

	err := w.WriteMessage(testContext(t), message.Connect("0123456789ABCDEF", "foobarbaz"))
	if err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	<-done
}

func TestWireReadRoundTrip(t *testing.T) {
	w, peer := newTestWire(t)

	sent, err := message.Write(1, 2, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	go peerWrite(t, peer, sent)

	got, err := w.ReadMessage(testContext(t))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Command != message.CmdWrte || got.Arg0 != 1 || got.Arg1 != 2 {
		t.Errorf("header = %v %d->%d", got.Command, got.Arg0, got.Arg1)
	}
	if string(got.Data) != "hello" {
		t.Errorf("payload = %q, want %q", got.Data, "hello")
	}
}

func TestWireReadHeaderOnly(t *testing.T) {
	w, peer := newTestWire(t)

	go peerWrite(t, peer, message.Okay(4, 7))

	got, err := w.ReadMessage(testContext(t))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !got.IsOkay() || got.Arg0 != 4 || got.Arg1 != 7 {
		t.Errorf("got %v %d->%d, want OKAY 4->7", got.Command, got.Arg0, got.Arg1)
	}
	if len(got.Data) != 0 {
		t.Errorf("unexpected payload %q", got.Data)
	}
}

func TestWireReadChecksumMismatch(t *testing.T) {
	w, peer := newTestWire(t)

	corrupt, err := message.Write(1, 2, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	corrupt.DataChecksum++
	go peerWrite(t, peer, corrupt)

	_, err = w.ReadMessage(testContext(t))
	var sumErr *message.ChecksumError
	if !errors.As(err, &sumErr) {
		t.Fatalf("ReadMessage error = %v, want ChecksumError", err)
	}
	if sumErr.Expected != corrupt.DataChecksum {
		t.Errorf("expected checksum in error = 0x%x, want 0x%x", sumErr.Expected, corrupt.DataChecksum)
	}
}

func TestWireReadPayloadTooLarge(t *testing.T) {
	w, peer := newTestWire(t)

	go peerWrite(t, peer, message.Message{
		Command:    message.CmdWrte,
		Arg0:       1,
		Arg1:       2,
		DataLength: message.MaxData + 1,
		Magic:      message.Magic(message.CmdWrte),
	})

	if _, err := w.ReadMessage(testContext(t)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("ReadMessage error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestWireReadConnectPayloadLimit(t *testing.T) {
	w, peer := newTestWire(t)

	// CNXN keeps the tighter 4096 byte limit even though it is under MaxData.
	go peerWrite(t, peer, message.Message{
		Command:    message.CmdCnxn,
		Arg0:       message.Version,
		Arg1:       message.ConnectAuthMaxData,
		DataLength: message.ConnectAuthMaxData + 1,
		Magic:      message.Magic(message.CmdCnxn),
	})

	if _, err := w.ReadMessage(testContext(t)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("ReadMessage error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestWireReadCorruptMagic(t *testing.T) {
	w, peer := newTestWire(t)

	go func() {
		msg := message.Okay(4, 7)
		msg.Magic = 0xdeadbeef
		peerWrite(t, peer, msg)
	}()

	_, err := w.ReadMessage(testContext(t))
	var magicErr *message.MagicError
	if !errors.As(err, &magicErr) {
		t.Fatalf("ReadMessage error = %v, want MagicError", err)
	}
	if magicErr.Magic != 0xdeadbeef || magicErr.Command != message.CmdOkay {
		t.Fatalf("error values: %+v", magicErr)
	}
}

func TestWireReadNoResponse(t *testing.T) {
	w, peer := newTestWire(t)

	peer.Close()

	if _, err := w.ReadMessage(testContext(t)); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("ReadMessage error = %v, want ErrNoResponse", err)
	}
}

func TestWireReadTruncatedPayload(t *testing.T) {
	w, peer := newTestWire(t)

	go func() {
		msg, err := message.Write(1, 2, []byte("hello world"))
		if err != nil {
			t.Errorf("build: %v", err)
			return
		}
		if _, err := peer.Write(message.Encode(msg)); err != nil {
			t.Errorf("write header: %v", err)
			return
		}
		// Only part of the declared payload arrives before the peer is gone.
		if _, err := peer.Write(msg.Data[:4]); err != nil {
			t.Errorf("write partial payload: %v", err)
			return
		}
		peer.Close()
	}()

	if _, err := w.ReadMessage(testContext(t)); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("ReadMessage error = %v, want ErrNoResponse", err)
	}
}
