// Package command decodes a request Frame into a Command and applies the
// ones that have a single, immediate reply (GET, SET, PUBLISH, PING, and
// unknown commands). SUBSCRIBE and UNSUBSCRIBE carry per-connection state
// that only the server's Handler can hold, so this package only parses
// their arguments; the server package runs the streaming state machine.
package command

import (
	"strings"
	"time"

	"github.com/lineframe/kvline/frame"
)

// Kind identifies which command a Frame decoded to.
type Kind uint8

const (
	Get Kind = iota
	Set
	Publish
	Subscribe
	Unsubscribe
	Ping
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Get:
		return "GET"
	case Set:
		return "SET"
	case Publish:
		return "PUBLISH"
	case Subscribe:
		return "SUBSCRIBE"
	case Unsubscribe:
		return "UNSUBSCRIBE"
	case Ping:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Command is the decoded, ready-to-apply form of one request Frame.
type Command struct {
	Kind Kind

	// GET / SET
	Key   string
	Value []byte
	TTL   *time.Duration // SET only; nil means no expiry

	// PUBLISH
	Channel string
	Message []byte

	// SUBSCRIBE / UNSUBSCRIBE
	Channels []string

	// PING
	HasMessage bool
	PingMsg    []byte

	// Unknown
	Name string
}

// Parse decodes f — which must be an Array frame per §3's Command shape —
// into a Command. Parse errors are protocol violations: the caller must
// close the connection, except when Kind is Unknown, which is a normal
// reply, not a parse failure.
func Parse(f frame.Frame) (Command, error) {
	cur, err := frame.NewCursor(f)
	if err != nil {
		return Command{}, err
	}
	name, err := cur.NextString()
	if err != nil {
		return Command{}, err
	}

	switch strings.ToUpper(name) {
	case "GET":
		return parseGet(cur)
	case "SET":
		return parseSet(cur)
	case "PUBLISH":
		return parsePublish(cur)
	case "SUBSCRIBE":
		return parseSubscribe(cur)
	case "UNSUBSCRIBE":
		return parseUnsubscribe(cur)
	case "PING":
		return parsePing(cur)
	default:
		return Command{Kind: Unknown, Name: name}, nil
	}
}

func parseGet(cur *frame.Cursor) (Command, error) {
	key, err := cur.NextString()
	if err != nil {
		return Command{}, err
	}
	if err := cur.Finish(); err != nil {
		return Command{}, err
	}
	return Command{Kind: Get, Key: key}, nil
}

func parseSet(cur *frame.Cursor) (Command, error) {
	key, err := cur.NextString()
	if err != nil {
		return Command{}, err
	}
	value, err := cur.NextBytes()
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Kind: Set, Key: key, Value: value}

	opt, err := cur.NextString()
	if err == frame.ErrEndOfStream {
		return cmd, nil
	}
	if err != nil {
		return Command{}, err
	}

	n, err := cur.NextInt()
	if err != nil {
		return Command{}, err
	}
	if n == 0 {
		return Command{}, invalidf("TTL must be strictly positive")
	}

	var ttl time.Duration
	switch strings.ToUpper(opt) {
	case "EX":
		ttl = time.Duration(n) * time.Second
	case "PX":
		ttl = time.Duration(n) * time.Millisecond
	default:
		return Command{}, invalidf("unsupported SET option %q", opt)
	}
	cmd.TTL = &ttl

	if err := cur.Finish(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func parsePublish(cur *frame.Cursor) (Command, error) {
	channel, err := cur.NextString()
	if err != nil {
		return Command{}, err
	}
	msg, err := cur.NextBytes()
	if err != nil {
		return Command{}, err
	}
	if err := cur.Finish(); err != nil {
		return Command{}, err
	}
	return Command{Kind: Publish, Channel: channel, Message: msg}, nil
}

func parseSubscribe(cur *frame.Cursor) (Command, error) {
	channels, err := remainingChannels(cur)
	if err != nil {
		return Command{}, err
	}
	if len(channels) == 0 {
		return Command{}, invalidf("SUBSCRIBE requires at least one channel")
	}
	return Command{Kind: Subscribe, Channels: channels}, nil
}

func parseUnsubscribe(cur *frame.Cursor) (Command, error) {
	channels, err := remainingChannels(cur)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: Unsubscribe, Channels: channels}, nil
}

func remainingChannels(cur *frame.Cursor) ([]string, error) {
	var channels []string
	for {
		c, err := cur.NextString()
		if err == frame.ErrEndOfStream {
			return channels, nil
		}
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
}

func parsePing(cur *frame.Cursor) (Command, error) {
	msg, err := cur.NextBytes()
	if err == frame.ErrEndOfStream {
		return Command{Kind: Ping}, nil
	}
	if err != nil {
		return Command{}, err
	}
	if err := cur.Finish(); err != nil {
		return Command{}, err
	}
	return Command{Kind: Ping, HasMessage: true, PingMsg: msg}, nil
}

func invalidf(format string, args ...any) error {
	return frame.NewProtocolError(format, args...)
}
