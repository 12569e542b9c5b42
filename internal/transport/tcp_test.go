package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// startEchoServer listens on loopback and echoes everything it reads on the
// first accepted connection.
func startEchoServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestTCPSendRecv(t *testing.T) {
	port := startEchoServer(t)
	tr := NewTCP("127.0.0.1", port)

	ctx := context.Background()
	h, err := tr.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Disconnect(ctx, h)

	payload := []byte("CNXN header and payload bytes")
	if err := tr.Send(ctx, h, payload); err != nil {
		t.Fatal(err)
	}

	var got []byte
	for len(got) < len(payload) {
		chunk, err := tr.Recv(ctx, h, len(payload)-len(got))
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echo mismatch: %q", got)
	}
}

func TestTCPRecvTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		// Accept but never write, so the read must time out.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	tr := NewTCP("127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	h, err := tr.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Disconnect(context.Background(), h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Recv(ctx, h, 24)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != OpRecv {
		t.Fatalf("error = %v", err)
	}
}

func TestTCPRecvStreamEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("tail"))
		conn.Close()
	}()

	tr := NewTCP("127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	h, err := tr.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Disconnect(context.Background(), h)

	ctx := context.Background()
	var got []byte
	for {
		chunk, err := tr.Recv(ctx, h, 64)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}
	if string(got) != "tail" {
		t.Fatalf("got %q", got)
	}
}

func TestTCPConnectRefused(t *testing.T) {
	// Bind a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := NewTCP("127.0.0.1", port)
	_, err = tr.Connect(context.Background())
	var terr *Error
	if !errors.As(err, &terr) || terr.Op != OpConnect {
		t.Fatalf("error = %v", err)
	}
}

func TestTCPHandleRequired(t *testing.T) {
	tr := NewTCP("127.0.0.1", 1)
	ctx := context.Background()

	if err := tr.Send(ctx, nil, []byte("x")); !errors.Is(err, ErrHandleRequired) {
		t.Fatalf("send: got %v", err)
	}
	if _, err := tr.Recv(ctx, fakeHandle{}, 1); !errors.Is(err, ErrHandleRequired) {
		t.Fatalf("recv: got %v", err)
	}
	if err := tr.Disconnect(ctx, nil); !errors.Is(err, ErrHandleRequired) {
		t.Fatalf("disconnect: got %v", err)
	}
}

type fakeHandle struct{}

func (fakeHandle) TransportHandle() {}
