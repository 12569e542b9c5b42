package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

var tcpLog = logrus.WithField("component", "transport.tcp")

// TCP is a Transport over a blocking TCP socket, the channel used for
// devices reachable at host:port (emulators, adb-over-wifi).
type TCP struct {
	host string
	port int
}

// NewTCP returns a TCP transport targeting host:port. No connection is made
// until Connect.
func NewTCP(host string, port int) *TCP {
	return &TCP{host: host, port: port}
}

// NewTCPAddr returns a TCP transport from a "host:port" string.
func NewTCPAddr(addr string) (*TCP, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, errors.New("invalid port in address " + addr)
	}
	return NewTCP(host, port), nil
}

func (t *TCP) String() string {
	return "tcp:" + t.addr()
}

func (t *TCP) addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

type tcpHandle struct {
	conn net.Conn
}

func (*tcpHandle) TransportHandle() {}

// Connect dials the configured host:port. The context deadline bounds the
// dial attempt.
func (t *TCP) Connect(ctx context.Context) (Handle, error) {
	tcpLog.WithField("addr", t.addr()).Debug("opening socket")

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, opError(OpConnect, err, isNetTimeout(err))
	}
	return &tcpHandle{conn: conn}, nil
}

// Disconnect closes the socket held by the handle.
func (t *TCP) Disconnect(ctx context.Context, h Handle) error {
	th, err := t.handle(h, OpDisconnect)
	if err != nil {
		return err
	}
	tcpLog.WithField("addr", t.addr()).Debug("closing socket")
	if err := th.conn.Close(); err != nil {
		return opError(OpDisconnect, err, false)
	}
	return nil
}

// Send writes the whole buffer to the socket, bounded by the context
// deadline.
func (t *TCP) Send(ctx context.Context, h Handle, data []byte) error {
	th, err := t.handle(h, OpSend)
	if err != nil {
		return err
	}

	tcpLog.WithFields(logrus.Fields{"addr": t.addr(), "len": len(data)}).Debug("writing data")
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		tcpLog.Tracef(">>> % x", data)
	}

	if err := setDeadline(ctx, th.conn.SetWriteDeadline); err != nil {
		return opError(OpSend, err, false)
	}
	if _, err := th.conn.Write(data); err != nil {
		return opError(OpSend, err, isNetTimeout(err))
	}
	return nil
}

// Recv performs a single read of at most n bytes. End of stream is reported
// as an empty result with nil error.
func (t *TCP) Recv(ctx context.Context, h Handle, n int) ([]byte, error) {
	th, err := t.handle(h, OpRecv)
	if err != nil {
		return nil, err
	}

	tcpLog.WithFields(logrus.Fields{"addr": t.addr(), "len": n}).Debug("reading data")

	if err := setDeadline(ctx, th.conn.SetReadDeadline); err != nil {
		return nil, opError(OpRecv, err, false)
	}

	buf := make([]byte, n)
	read, err := th.conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, opError(OpRecv, err, isNetTimeout(err))
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		tcpLog.Tracef("<<< % x", buf[:read])
	}
	return buf[:read], nil
}

func (t *TCP) handle(h Handle, op Op) (*tcpHandle, error) {
	th, ok := h.(*tcpHandle)
	if !ok || th.conn == nil {
		return nil, opError(op, ErrHandleRequired, false)
	}
	return th, nil
}

// setDeadline applies the context deadline to the socket for the scope of a
// single operation; absent a deadline, any previous one is cleared.
func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	return set(time.Time{})
}

// isNetTimeout reports whether err is a socket timeout or an expired context
// deadline.
func isNetTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
