package client

import (
	"fmt"
	"io"

	"github.com/lineframe/kvline/conn"
	"github.com/lineframe/kvline/frame"
)

// Subscription is the read side of a Client in subscribe mode: Next
// delivers messages as they arrive; Unsubscribe drops channels.
type Subscription struct {
	c        *conn.Connection
	channels map[string]struct{}
}

// Channels reports the currently subscribed channel set.
func (s *Subscription) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// consumeAck reads one subscribe/unsubscribe acknowledgement frame and
// updates the local channel set accordingly.
func (s *Subscription) consumeAck() error {
	f, ok, err := s.c.ReadFrame()
	if err != nil {
		return err
	}
	if !ok {
		return io.ErrUnexpectedEOF
	}
	if len(f.Items) != 3 {
		return fmt.Errorf("client: malformed subscribe ack: %+v", f)
	}
	switch f.Items[0].Str {
	case "subscribe":
		s.channels[f.Items[1].Str] = struct{}{}
	case "unsubscribe":
		delete(s.channels, f.Items[1].Str)
	default:
		return fmt.Errorf("client: unexpected ack kind %q", f.Items[0].Str)
	}
	return nil
}

// Next blocks until a pub/sub message arrives and returns its channel and
// payload. Interleaved subscribe/unsubscribe acknowledgements (from a
// concurrent Subscribe/Unsubscribe call reusing this same connection) are
// consumed transparently.
func (s *Subscription) Next() (channel string, payload []byte, err error) {
	for {
		f, ok, err := s.c.ReadFrame()
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, io.EOF
		}
		if len(f.Items) < 1 {
			continue
		}
		switch f.Items[0].Str {
		case "message":
			return f.Items[1].Str, f.Items[2].Bulk, nil
		case "subscribe":
			s.channels[f.Items[1].Str] = struct{}{}
		case "unsubscribe":
			delete(s.channels, f.Items[1].Str)
		}
	}
}

// Unsubscribe drops the given channels (or every subscribed channel, if
// none are named) and consumes their acknowledgements.
func (s *Subscription) Unsubscribe(channels ...string) error {
	items := []frame.Frame{frame.BulkFrame([]byte("UNSUBSCRIBE"))}
	for _, c := range channels {
		items = append(items, frame.BulkFrame([]byte(c)))
	}
	if err := s.c.WriteFrame(frame.ArrayOf(items)); err != nil {
		return err
	}
	n := len(channels)
	if n == 0 {
		n = len(s.channels)
	}
	for i := 0; i < n; i++ {
		if err := s.consumeAck(); err != nil {
			return err
		}
	}
	return nil
}
