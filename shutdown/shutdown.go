// Package shutdown implements the per-connection shutdown observer: a
// one-shot latch derived from a single broadcast source, restating the
// source's "broadcast sender + per-Handler receiver" design as a closed-once
// channel, which is the idiomatic Go substitute for a broadcast-of-unit.
package shutdown

import (
	"context"
	"sync"
)

// Broadcaster is owned by the Listener. Closing it (via Shutdown) notifies
// every derived Notifier at once; it has no other state because a closed
// channel IS the notification.
type Broadcaster struct {
	ch   chan struct{}
	once sync.Once
}

// NewBroadcaster creates a Broadcaster ready to hand out Notifiers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

// Shutdown fires the broadcast. Safe to call more than once, and safe for
// concurrent use; only the first call has effect.
func (b *Broadcaster) Shutdown() {
	b.once.Do(func() { close(b.ch) })
}

// Notifier derives a per-Handler observer from the Broadcaster.
func (b *Broadcaster) Notifier() *Notifier {
	return &Notifier{ch: b.ch}
}

// Notifier is one Handler's view of the shutdown signal. IsShutdown and
// Recv both latch true forever once the underlying broadcast fires.
type Notifier struct {
	ch <-chan struct{}
}

// IsShutdown reports whether the broadcast has fired, without blocking.
func (n *Notifier) IsShutdown() bool {
	select {
	case <-n.ch:
		return true
	default:
		return false
	}
}

// Done returns the channel that closes when shutdown fires. Handlers select
// on this alongside their other suspension points (socket read, pub/sub
// receive) to satisfy §4.5's "concurrently await" requirement.
func (n *Notifier) Done() <-chan struct{} { return n.ch }

// Recv blocks until the broadcast fires or ctx is done, whichever is first.
// Once the broadcast has fired, every subsequent call returns immediately.
func (n *Notifier) Recv(ctx context.Context) error {
	select {
	case <-n.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
