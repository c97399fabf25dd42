// Package client implements the symmetric counterpart to server.Handler:
// it issues requests and decodes replies over the same frame-based wire
// protocol. Blocking and buffered wrapper variants are not built here — the
// spec calls them derivable from this client and out of scope.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lineframe/kvline/conn"
	"github.com/lineframe/kvline/frame"
)

// Client issues commands against one server connection. It is not safe for
// concurrent use by multiple goroutines, matching Connection's single-owner
// model.
type Client struct {
	nc net.Conn
	c  *conn.Connection
}

// Dial connects to addr (host:port) and returns a ready Client.
func Dial(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, c: conn.New(nc)}, nil
}

// Close closes the underlying connection.
func (cl *Client) Close() error { return cl.nc.Close() }

func bulkStrings(name string, args ...string) frame.Frame {
	items := make([]frame.Frame, 0, len(args)+1)
	items = append(items, frame.BulkFrame([]byte(name)))
	for _, a := range args {
		items = append(items, frame.BulkFrame([]byte(a)))
	}
	return frame.ArrayOf(items)
}

// Do sends req and returns the raw reply frame, for callers that render
// replies with FormatReply instead of consuming one of the typed methods
// below.
func (cl *Client) Do(req frame.Frame) (frame.Frame, error) {
	return cl.roundTrip(req)
}

func (cl *Client) roundTrip(req frame.Frame) (frame.Frame, error) {
	if err := cl.c.WriteFrame(req); err != nil {
		return frame.Frame{}, err
	}
	reply, ok, err := cl.c.ReadFrame()
	if err != nil {
		return frame.Frame{}, err
	}
	if !ok {
		return frame.Frame{}, io.ErrUnexpectedEOF
	}
	if reply.Kind == frame.KindError {
		return frame.Frame{}, errors.New(reply.Str)
	}
	return reply, nil
}

// Ping sends PING, with an optional message. A no-arg PING replies Simple
// "PONG"; a PING with a message echoes it back as Bulk.
func (cl *Client) Ping(msg []byte) ([]byte, error) {
	var req frame.Frame
	if msg == nil {
		req = frame.Array(frame.BulkFrame([]byte("PING")))
	} else {
		req = frame.Array(frame.BulkFrame([]byte("PING")), frame.BulkFrame(msg))
	}
	reply, err := cl.roundTrip(req)
	if err != nil {
		return nil, err
	}
	switch reply.Kind {
	case frame.KindSimple:
		return []byte(reply.Str), nil
	case frame.KindBulk:
		return reply.Bulk, nil
	default:
		return nil, fmt.Errorf("client: unexpected PING reply kind %s", reply.Kind)
	}
}

// Get fetches key. ok is false if the key is absent or expired.
func (cl *Client) Get(key string) (value []byte, ok bool, err error) {
	reply, err := cl.roundTrip(bulkStrings("GET", key))
	if err != nil {
		return nil, false, err
	}
	if reply.Kind == frame.KindNull {
		return nil, false, nil
	}
	return reply.Bulk, true, nil
}

// Set stores value under key. A nil ttl means no expiry; otherwise it is
// sent as PX milliseconds, matching the client CLI's millisecond-only
// expiry argument from §6.
func (cl *Client) Set(key string, value []byte, ttl *time.Duration) error {
	var req frame.Frame
	if ttl == nil {
		req = frame.Array(frame.BulkFrame([]byte("SET")), frame.BulkFrame([]byte(key)), frame.BulkFrame(value))
	} else {
		ms := fmt.Sprintf("%d", ttl.Milliseconds())
		req = frame.Array(
			frame.BulkFrame([]byte("SET")), frame.BulkFrame([]byte(key)), frame.BulkFrame(value),
			frame.BulkFrame([]byte("PX")), frame.BulkFrame([]byte(ms)),
		)
	}
	_, err := cl.roundTrip(req)
	return err
}

// Publish sends message on channel and returns the live subscriber count.
func (cl *Client) Publish(channel string, message []byte) (int, error) {
	req := frame.Array(frame.BulkFrame([]byte("PUBLISH")), frame.BulkFrame([]byte(channel)), frame.BulkFrame(message))
	reply, err := cl.roundTrip(req)
	if err != nil {
		return 0, err
	}
	return int(reply.Int), nil
}

// Subscribe enters subscribe mode for the given channels (at least one
// required) and returns a Subscription for reading delivered messages.
func (cl *Client) Subscribe(channels ...string) (*Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("client: subscribe requires at least one channel")
	}
	if err := cl.c.WriteFrame(bulkStrings("SUBSCRIBE", channels...)); err != nil {
		return nil, err
	}
	sub := &Subscription{c: cl.c, channels: make(map[string]struct{})}
	for range channels {
		if err := sub.consumeAck(); err != nil {
			return nil, err
		}
	}
	return sub, nil
}
