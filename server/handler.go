package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lineframe/kvline/command"
	"github.com/lineframe/kvline/conn"
	"github.com/lineframe/kvline/frame"
	"github.com/lineframe/kvline/shutdown"
	"github.com/lineframe/kvline/store"
)

// handler owns one accepted connection end to end: reading frames,
// dispatching commands, and — while in subscribe mode — fanning pub/sub
// messages back to the client. Exactly one goroutine (the one running run)
// mutates handler state; background helpers only ever send on channels.
type handler struct {
	c        *conn.Connection
	store    *store.Store
	notifier *shutdown.Notifier
	log      *logrus.Entry
}

func newHandler(nc net.Conn, s *store.Store, n *shutdown.Notifier, log *logrus.Entry) *handler {
	return &handler{
		c:        conn.New(nc),
		store:    s,
		notifier: n,
		log:      log.WithField("remote_addr", nc.RemoteAddr().String()),
	}
}

type readResult struct {
	f   frame.Frame
	ok  bool
	err error
}

// readOnce spawns a one-shot goroutine reading the next frame; run races
// its result against the shutdown notifier, forcing the read to return
// promptly on shutdown via SetReadDeadline (net.Conn.Read can't otherwise
// be interrupted by a channel select).
func (h *handler) readOnce() <-chan readResult {
	out := make(chan readResult, 1)
	go func() {
		f, ok, err := h.c.ReadFrame()
		out <- readResult{f: f, ok: ok, err: err}
	}()
	return out
}

func (h *handler) run() {
	defer h.c.Close()
	h.log.Debug("connection accepted")
	defer h.log.Debug("connection closed")

	for {
		reads := h.readOnce()
		select {
		case <-h.notifier.Done():
			h.c.SetReadDeadline(time.Now())
			<-reads
			return
		case res := <-reads:
			if res.err != nil {
				h.log.WithError(res.err).Debug("read error")
				return
			}
			if !res.ok {
				return
			}
			if !h.dispatch(res.f) {
				return
			}
		}
	}
}

// dispatch decodes and applies one request frame. It returns false when the
// connection must close: a malformed frame, a write failure, or entering
// and then exiting subscribe mode in a way that signals close.
func (h *handler) dispatch(f frame.Frame) bool {
	cmd, err := command.Parse(f)
	if err != nil {
		h.writeError(err)
		return false
	}

	switch cmd.Kind {
	case command.Subscribe:
		return h.subscribeLoop(cmd.Channels)
	case command.Unsubscribe:
		// Stray UNSUBSCRIBE outside subscribe mode: the spec's open
		// question resolves this as an unknown command, not a close.
		return h.writeFrame(frame.ErrorReply("ERR unknown command 'UNSUBSCRIBE'"))
	default:
		reply := command.Apply(cmd, h.store)
		return h.writeFrame(reply)
	}
}

func (h *handler) writeError(err error) {
	h.writeFrame(frame.ErrorReply(fmt.Sprintf("ERR %s", err.Error())))
}

func (h *handler) writeFrame(f frame.Frame) bool {
	if err := h.c.WriteFrame(f); err != nil {
		h.log.WithError(err).Debug("write error")
		return false
	}
	return true
}

// subMessage is what a forwarder goroutine sends for one subscribed
// channel: either a delivered payload, or a lag notice (payload nil). r is
// the receiver it came from, so messages from a receiver that has since been
// unsubscribed or replaced can be told apart and dropped.
type subMessage struct {
	channel string
	r       *store.Receiver
	payload []byte
	lagged  bool
}

// subscribeLoop runs the §4.5 state machine. It returns whether the caller
// should keep the connection open (true) or close it (false); "false" also
// covers the ordinary exit-on-shutdown path, since run() closes the
// connection unconditionally once it returns.
func (h *handler) subscribeLoop(initial []string) bool {
	subs := make(map[string]*store.Receiver)
	msgs := make(chan subMessage)
	stop := make(chan struct{})

	defer func() {
		close(stop)
		for _, r := range subs {
			h.store.Unsubscribe(r)
		}
	}()

	addChannel := func(name string) {
		if _, ok := subs[name]; ok {
			return
		}
		r := h.store.Subscribe(name)
		subs[name] = r
		go forwardReceiver(r, name, msgs, stop)
	}

	for _, c := range initial {
		addChannel(c)
		if !h.writeFrame(subscribeAck("subscribe", c, len(subs))) {
			return false
		}
	}

	// A single readOnce goroutine is kept in flight at a time; it is only
	// replaced once its result has actually been consumed on the reads
	// case below. Re-issuing readOnce on every loop iteration (including
	// the msgs case, which doesn't touch the connection) would leave the
	// previous attempt's goroutine still calling h.c.ReadFrame() while a
	// new one started, racing on conn.Connection's unsynchronized state.
	reads := h.readOnce()
	for {
		select {
		case <-h.notifier.Done():
			h.c.SetReadDeadline(time.Now())
			<-reads
			return false

		case msg := <-msgs:
			if subs[msg.channel] != msg.r {
				continue // from a receiver already unsubscribed or replaced
			}
			if msg.lagged {
				old := subs[msg.channel]
				h.store.Unsubscribe(old)
				newR := h.store.Subscribe(msg.channel)
				subs[msg.channel] = newR
				go forwardReceiver(newR, msg.channel, msgs, stop)
				continue
			}
			if !h.writeFrame(frame.Array(frame.Simple("message"), frame.Simple(msg.channel), frame.BulkFrame(msg.payload))) {
				return false
			}

		case res := <-reads:
			if res.err != nil || !res.ok {
				return false
			}
			cmd, err := command.Parse(res.f)
			if err != nil {
				h.writeError(err)
				return false
			}
			switch cmd.Kind {
			case command.Subscribe:
				for _, c := range cmd.Channels {
					addChannel(c)
					if !h.writeFrame(subscribeAck("subscribe", c, len(subs))) {
						return false
					}
				}
			case command.Unsubscribe:
				names := cmd.Channels
				if len(names) == 0 {
					for c := range subs {
						names = append(names, c)
					}
				}
				for _, c := range names {
					if r, ok := subs[c]; ok {
						h.store.Unsubscribe(r)
						delete(subs, c)
					}
					if !h.writeFrame(subscribeAck("unsubscribe", c, len(subs))) {
						return false
					}
				}
				if len(subs) == 0 {
					return true
				}
			case command.Ping:
				if !h.writeFrame(command.Apply(cmd, h.store)) {
					return false
				}
			default:
				h.writeError(fmt.Errorf("unexpected command %q during subscribe mode", cmd.Kind))
				return false
			}
			reads = h.readOnce()
		}
	}
}

func subscribeAck(kind, channel string, count int) frame.Frame {
	return frame.Array(frame.Simple(kind), frame.Simple(channel), frame.Integer(uint64(count)))
}

// forwardReceiver pumps messages from one store.Receiver into out until
// stop is closed, the receiver's channel is torn down (store shutdown), or
// it has forwarded a lag notice (the handler then replaces the receiver).
func forwardReceiver(r *store.Receiver, channel string, out chan<- subMessage, stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		payload, lagged, err := r.Recv(ctx)
		if err != nil {
			return
		}
		select {
		case out <- subMessage{channel: channel, r: r, payload: payload, lagged: lagged}:
		case <-stop:
			return
		}
		if lagged {
			return
		}
	}
}
