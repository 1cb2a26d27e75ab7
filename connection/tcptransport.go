package connection

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// defaultIOTimeout bounds every read/write on the underlying net.Conn, the
// same per-call deadline style as protocol/rtmp/conn.go's read/send helpers
// (SetReadDeadline/SetWriteDeadline before every blocking call rather than
// one deadline for the whole connection lifetime).
const defaultIOTimeout = 30 * time.Second

// ErrTransportClosed is returned by TCPTransport.Send once the connection
// has been closed.
var ErrTransportClosed = errors.New("connection: transport closed")

// TCPTransport is the default Transport: a plain net.Conn with a per-call
// I/O deadline, grounded on protocol/rtmp/rtmp.go's connect (net.DialTCP)
// and protocol/rtmp/conn.go's read/send (SetReadDeadline/SetWriteDeadline
// around a single io call, no buffering layer in front of the socket).
type TCPTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// DialTCP connects to addr and returns a ready-to-use TCPTransport. The
// caller still must call Connection.OnConnected and start Pump to begin the
// greeting handshake.
func DialTCP(addr string, timeout time.Duration) (*TCPTransport, error) {
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "connection: dial failed")
	}
	return NewTCPTransport(conn, timeout), nil
}

// NewTCPTransport wraps an already-established net.Conn (e.g. one accepted
// by a net.Listener on the server side).
func NewTCPTransport(conn net.Conn, timeout time.Duration) *TCPTransport {
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &TCPTransport{conn: conn, timeout: timeout}
}

// Send implements Transport.
func (t *TCPTransport) Send(data []byte) (int, error) {
	if t.conn == nil {
		return 0, ErrTransportClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, errors.Wrap(err, "connection: set write deadline")
	}
	n, err := t.conn.Write(data)
	if err != nil {
		return n, errors.Wrap(err, "connection: write failed")
	}
	return n, nil
}

// Close closes the underlying net.Conn.
func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Pump reads from the socket in a loop, handing every chunk to c.OnData,
// until the socket errs out or is closed; it then calls c.OnDisconnected
// and returns the error that ended the loop (nil on a clean close).
// Callers run Pump in its own goroutine; it blocks until the peer
// disconnects.
func (t *TCPTransport) Pump(c *Connection) error {
	buf := make([]byte, defaultChunkSize)
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			c.OnDisconnected()
			return errors.Wrap(err, "connection: set read deadline")
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			if derr := c.OnData(buf[:n]); derr != nil {
				c.OnDisconnected()
				return derr
			}
		}
		if err != nil {
			c.OnDisconnected()
			if err == io.EOF {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return fmt.Errorf("connection: read timed out: %w", err)
			}
			return errors.Wrap(err, "connection: read failed")
		}
	}
}
