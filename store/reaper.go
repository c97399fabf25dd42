package store

import (
	"time"

	"github.com/sirupsen/logrus"
)

// runReaper is the background expiration task: while the store is not
// shutting down, it purges everything due, then sleeps until either the
// next-due instant or an explicit wake (a SET that moved the earliest
// deadline earlier), whichever comes first. It exits once Store.shutdown
// has closed s.done.
func runReaper(s *Store) {
	log := logrus.WithField("component", "reaper")
	log.Debug("reaper started")
	defer log.Debug("reaper stopped")

	for {
		nextDue, hasNext := purgeDue(s)
		if s.isShutdown() {
			return
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if hasNext {
			d := time.Until(nextDue)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// purgeDue removes every entry whose expiration instant has passed,
// visiting the expiration index in ascending (instant, key) order. It
// returns the next not-yet-due instant, if the index still holds one.
func purgeDue(s *Store) (nextDue time.Time, hasNext bool) {
	now := time.Now()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return time.Time{}, false
	}

	var purged []expirationKey
	nextDue, hasNext = s.expirations.dueBefore(now, func(ek expirationKey) bool {
		purged = append(purged, ek)
		return true
	})
	for _, ek := range purged {
		delete(s.entries, ek.key)
		s.expirations.remove(ek.at, ek.key)
	}
	s.mu.Unlock()

	// Logging happens after the unlock: the mutex guards only in-memory
	// state, never I/O.
	if len(purged) > 0 {
		logrus.WithField("component", "reaper").WithField("count", len(purged)).Debug("purged expired keys")
	}
	return nextDue, hasNext
}
