// Package server implements the accept loop and per-connection command
// loop: Listener binds a socket, admits up to MaxConnections concurrent
// clients, and drains every Handler on graceful shutdown; Handler decodes
// and applies one command at a time, including the SUBSCRIBE/UNSUBSCRIBE
// streaming state machine.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/lineframe/kvline/shutdown"
	"github.com/lineframe/kvline/store"
)

// maxAcceptBackoff mirrors the original accept loop's give-up threshold:
// after a sleep at this backoff or higher fails to produce a connection,
// the next consecutive failure propagates instead of sleeping further.
const maxAcceptBackoff = 64 * time.Second

// Listener owns the TCP socket, the connection-admission semaphore, and the
// shutdown broadcast all Handlers observe.
type Listener struct {
	nc   net.Listener
	sem  *semaphore.Weighted
	bcst *shutdown.Broadcaster
	wg   sync.WaitGroup
	log  *logrus.Entry

	guard *store.Guard
}

// New binds cfg.Addr and returns a Listener ready to Run. The returned
// Listener owns a fresh Store via its internal Guard; callers get at it
// through Store() for out-of-band access (tests, metrics).
func New(cfg Config) (*Listener, error) {
	nc, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		nc:    nc,
		sem:   semaphore.NewWeighted(MaxConnections),
		bcst:  shutdown.NewBroadcaster(),
		log:   logrus.WithField("component", "listener"),
		guard: store.NewGuard(),
	}, nil
}

// Store returns the shared key/value store backing this server.
func (l *Listener) Store() *store.Store { return l.guard.Store() }

// Addr returns the bound address, useful when cfg.Addr used port 0.
func (l *Listener) Addr() net.Addr { return l.nc.Addr() }

// Run accepts connections until the listener is closed (via Shutdown) or an
// unrecoverable accept error occurs. It returns nil on a clean shutdown.
func (l *Listener) Run() error {
	for {
		if err := l.sem.Acquire(context.Background(), 1); err != nil {
			return err
		}

		nc, err := l.acceptWithBackoff()
		if err != nil {
			l.sem.Release(1)
			if l.bcst.Notifier().IsShutdown() {
				return nil
			}
			l.log.WithError(err).Error("accept loop exiting")
			return err
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			h := newHandler(nc, l.guard.Store(), l.bcst.Notifier(), l.log)
			h.run()
		}()
	}
}

func (l *Listener) acceptWithBackoff() (net.Conn, error) {
	backoff := time.Second
	for {
		nc, err := l.nc.Accept()
		if err == nil {
			return nc, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		if backoff > maxAcceptBackoff {
			return nil, err
		}
		l.log.WithError(err).WithField("backoff", backoff).Warn("accept failed, backing off")
		time.Sleep(backoff)
		backoff *= 2
	}
}

// Shutdown runs the graceful sequence from §4.7: notify every live Handler,
// stop accepting (the broadcast fires first so Run sees shutdown when Accept
// fails), then wait for them all to finish their in-flight command and
// return. It blocks until every Handler has exited or ctx is
// done, whichever comes first.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.bcst.Shutdown()
	l.nc.Close() // unblocks Accept in Run, which observes shutdown and returns nil

	drained := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		l.guard.Close()
		return nil
	case <-ctx.Done():
		l.guard.Close()
		return ctx.Err()
	}
}
