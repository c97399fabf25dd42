// Package store implements the shared key/value state:
// entries with optional TTL, an ordered expiration index serviced by a
// background reaper, and a pub/sub registry of bounded-backlog broadcast
// channels.
package store

import (
	"sync"
	"time"
)

// Entry is one key/value binding. Data is treated as shared-immutable once
// inserted: callers read it without copying and must not mutate it.
type Entry struct {
	Data      []byte
	ExpiresAt *time.Time
}

// Store is the top-level shared state. All handles created via Guard.Store
// see the same state; the mutex guards entries, the expiration index, and
// the shutdown flag. Pub/sub broadcast channels have their own internal
// locking and are not covered by this mutex.
type Store struct {
	mu          sync.Mutex
	entries     map[string]Entry
	expirations *expirationIndex
	shutdown    bool

	pubsub *PubSubRegistry

	wake     chan struct{} // capacity 1, non-blocking send: wakes the reaper early
	done     chan struct{} // closed once, on shutdown
	doneOnce sync.Once
}

func newStore() *Store {
	return &Store{
		entries:     make(map[string]Entry),
		expirations: newExpirationIndex(),
		pubsub:      newPubSubRegistry(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Get returns the value bound to key. Per §4.3, the reaper — not the
// reader — is responsible for enforcing expiry; a key whose instant has
// passed but hasn't been reaped yet is still returned here.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// Set overwrites any prior binding for key. If ttl is non-nil and positive,
// the entry expires after ttl elapses from now. The old expiration index
// entry, if any, is removed before the new one is inserted so no phantom
// index entries keep the key name alive after it's overwritten. The mutex
// is released before notifying the reaper to avoid a handoff stall.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	now := time.Now()

	s.mu.Lock()
	if old, ok := s.entries[key]; ok && old.ExpiresAt != nil {
		s.expirations.remove(*old.ExpiresAt, key)
	}

	var wakeReaper bool
	entry := Entry{Data: value}
	if ttl != nil {
		expiresAt := now.Add(*ttl)
		entry.ExpiresAt = &expiresAt
		if first, ok := s.expirations.firstDue(); !ok || expiresAt.Before(first.at) {
			wakeReaper = true
		}
		s.expirations.insert(expiresAt, key)
	}
	s.entries[key] = entry
	s.mu.Unlock()

	if wakeReaper {
		s.notifyReaper()
	}
}

// Subscribe returns a Receiver bound to channel, creating its broadcast
// channel lazily on first subscribe.
func (s *Store) Subscribe(channel string) *Receiver {
	return s.pubsub.subscribe(channel)
}

// Unsubscribe releases a Receiver obtained from Subscribe.
func (s *Store) Unsubscribe(r *Receiver) {
	s.pubsub.unsubscribe(r)
}

// Publish sends value on channel and returns the number of live
// subscribers. Zero is not an error: it simply means nobody is listening.
func (s *Store) Publish(channel string, value []byte) int {
	return s.pubsub.publish(channel, value)
}

// notifyReaper wakes a sleeping reaper without blocking the caller: the
// channel's capacity of 1 means a pending wake is never lost, and a second
// wake arriving before the first is consumed is simply a no-op.
func (s *Store) notifyReaper() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// shutdown marks the store as shutting down and wakes the reaper so it can
// observe the flag and exit. Safe to call more than once; only the first
// call has effect.
func (s *Store) shutdown() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		close(s.done)
		s.pubsub.closeAll()
	})
}

func (s *Store) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
