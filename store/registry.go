package store

import "sync"

// PubSubRegistry maps channel names to their broadcast channel, creating
// entries lazily on first subscribe. Store holds it by pointer; it has its
// own mutex for map access, separate from Store's. subscribe and publish
// release that mutex before touching a broadcastChannel (which has its own
// lock); closeAll, used once at shutdown, closes every channel while still
// holding it.
type PubSubRegistry struct {
	mu       sync.Mutex
	channels map[string]*broadcastChannel
}

func newPubSubRegistry() *PubSubRegistry {
	return &PubSubRegistry{channels: make(map[string]*broadcastChannel)}
}

func (r *PubSubRegistry) get(channel string) *broadcastChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[channel]
	if !ok {
		c = newBroadcastChannel()
		r.channels[channel] = c
	}
	return c
}

// subscribe returns a Receiver bound to channel, lazily creating its
// broadcast channel.
func (r *PubSubRegistry) subscribe(channel string) *Receiver {
	c := r.get(channel)
	c.addReceiver()
	return &Receiver{channel: channel, ch: c, cursor: c.next}
}

// unsubscribe releases a Receiver. Empty channels are left in the registry
// (matching the spec's lazily-created-on-first-subscribe design, which
// never states channels are reclaimed); a later Publish on an emptied
// channel simply reports zero subscribers.
func (r *PubSubRegistry) unsubscribe(rcv *Receiver) {
	rcv.ch.dropReceiver()
}

// publish sends payload to channel's existing broadcast channel, if one was
// ever created by a subscribe call. Returns the number of live receivers,
// or 0 if the channel has never been subscribed to.
func (r *PubSubRegistry) publish(channel string, payload []byte) int {
	r.mu.Lock()
	c, ok := r.channels[channel]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return c.publish(payload)
}

func (r *PubSubRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		c.close()
	}
}
