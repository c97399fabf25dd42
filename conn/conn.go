// Package conn implements buffered, framed I/O over a TCP stream: growing
// the read buffer as needed, decoding one Frame at a time, and writing
// replies through a vectorised writer when the underlying connection
// supports scatter-gather I/O.
package conn

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	singbufio "github.com/sagernet/sing/common/bufio"

	"github.com/lineframe/kvline/frame"
)

const initialReadBufSize = 4 * 1024

// ErrPeerReset is returned by ReadFrame when the peer closes the stream
// mid-frame: the read buffer holds a partial frame with nothing left to
// read. Per §4.4 this is "connection reset by peer" and the caller must
// close the connection.
var ErrPeerReset = errors.New("conn: connection reset by peer")

// Connection owns one TCP stream's buffered read and write paths. It is not
// safe for concurrent use: exactly one Handler goroutine owns a Connection.
type Connection struct {
	nc net.Conn

	readBuf []byte
	readPos int // data in readBuf[:readPos] is valid but not yet consumed
	readErr error

	vw   singbufio.VectorisedWriter
	vecd bool
	bw   *bufio.Writer
}

// New wraps nc for framed I/O. It probes nc for vectorised-write support
// (true for *net.TCPConn); when unavailable it falls back to a plain
// buffered writer, mirroring the fallback session.go's sendLoop uses.
func New(nc net.Conn) *Connection {
	c := &Connection{
		nc:      nc,
		readBuf: make([]byte, initialReadBufSize),
	}
	if vw, ok := singbufio.CreateVectorisedWriter(nc); ok {
		c.vw = vw
		c.vecd = true
	} else {
		c.bw = bufio.NewWriter(nc)
	}
	return c
}

// RemoteAddr exposes the peer address for logging.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// SetReadDeadline forwards to the underlying connection; Handler uses this
// to force an in-flight Read to return promptly on shutdown.
func (c *Connection) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

// Close closes the underlying connection.
func (c *Connection) Close() error { return c.nc.Close() }

// ReadFrame reads and decodes the next Frame, growing the read buffer and
// pulling more bytes from the stream as needed. It returns (Frame{}, false,
// nil) if the peer closed the stream cleanly with no partial frame
// buffered, and ErrPeerReset if the peer closed with a partial frame still
// in the buffer.
func (c *Connection) ReadFrame() (frame.Frame, bool, error) {
	for {
		if c.readPos > 0 {
			if _, err := frame.Check(c.readBuf[:c.readPos]); err == nil {
				f, n, err := frame.Parse(c.readBuf[:c.readPos])
				if err != nil {
					return frame.Frame{}, false, err
				}
				c.discard(n)
				return f, true, nil
			} else if !errors.Is(err, frame.ErrIncomplete) {
				return frame.Frame{}, false, err
			}
		}

		if c.readPos == len(c.readBuf) {
			c.grow()
		}

		n, err := c.nc.Read(c.readBuf[c.readPos:])
		if n > 0 {
			c.readPos += n
		}
		if err != nil {
			if n == 0 || errors.Is(err, io.EOF) {
				if c.readPos > 0 {
					return frame.Frame{}, false, ErrPeerReset
				}
				return frame.Frame{}, false, nil
			}
			return frame.Frame{}, false, err
		}
	}
}

func (c *Connection) grow() {
	next := make([]byte, len(c.readBuf)*2)
	copy(next, c.readBuf[:c.readPos])
	c.readBuf = next
}

// discard removes the first n bytes (one consumed frame) from the pending
// read buffer, sliding any remaining bytes to the front.
func (c *Connection) discard(n int) {
	remaining := c.readPos - n
	copy(c.readBuf, c.readBuf[n:c.readPos])
	c.readPos = remaining
}

// WriteFrame serializes f and flushes once, so the peer sees a complete
// frame. When the underlying connection supports vectorised writes the
// encoded bytes are sent through it directly; otherwise a plain buffered
// writer is flushed.
func (c *Connection) WriteFrame(f frame.Frame) error {
	if c.vecd {
		var buf singBuffer
		if err := frame.Encode(&buf, f); err != nil {
			return err
		}
		_, err := singbufio.WriteVectorised(c.vw, [][]byte{buf.Bytes()})
		return err
	}

	if err := frame.Encode(c.bw, f); err != nil {
		return err
	}
	return c.bw.Flush()
}

// singBuffer is a minimal growable byte buffer satisfying io.Writer,
// avoiding a bytes.Buffer import just for this one write path.
type singBuffer struct {
	b []byte
}

func (s *singBuffer) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *singBuffer) Bytes() []byte { return s.b }
