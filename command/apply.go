package command

import (
	"fmt"

	"github.com/lineframe/kvline/frame"
	"github.com/lineframe/kvline/store"
)

// Apply executes a non-streaming command (everything but SUBSCRIBE and
// UNSUBSCRIBE) against s and returns the reply Frame. Callers must route
// Subscribe/Unsubscribe to the Handler's state machine instead; Apply
// panics if called with either, since that would signal a wiring bug, not
// a runtime condition.
func Apply(cmd Command, s *store.Store) frame.Frame {
	switch cmd.Kind {
	case Get:
		v, ok := s.Get(cmd.Key)
		if !ok {
			return frame.Null()
		}
		return frame.BulkFrame(v)
	case Set:
		s.Set(cmd.Key, cmd.Value, cmd.TTL)
		return frame.Simple("OK")
	case Publish:
		n := s.Publish(cmd.Channel, cmd.Message)
		return frame.Integer(uint64(n))
	case Ping:
		if cmd.HasMessage {
			return frame.BulkFrame(cmd.PingMsg)
		}
		return frame.Simple("PONG")
	case Unknown:
		return frame.ErrorReply(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	default:
		panic(fmt.Sprintf("command: Apply called with streaming command kind %v", cmd.Kind))
	}
}
