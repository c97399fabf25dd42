package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	_, ok := s.Get("hello")
	require.False(t, ok)

	s.Set("hello", []byte("world"), nil)
	v, ok := s.Get("hello")
	require.True(t, ok)
	require.Equal(t, []byte("world"), v)
}

func TestSetOverwriteDropsOldExpiration(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	ttl := 50 * time.Millisecond
	s.Set("k", []byte("v1"), &ttl)

	longTTL := time.Hour
	s.Set("k", []byte("v2"), &longTTL)

	time.Sleep(150 * time.Millisecond)

	v, ok := s.Get("k")
	require.True(t, ok, "overwritten key must not be reaped using the stale TTL")
	require.Equal(t, []byte("v2"), v)
}

func TestExpirationLiveness(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	ttl := 30 * time.Millisecond
	s.Set("k", []byte("v"), &ttl)

	require.Eventually(t, func() bool {
		_, ok := s.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPublishWithNoSubscribersReturnsZero(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	n := s.Publish("ch", []byte("x"))
	require.Equal(t, 0, n)
}

func TestPublishSubscribeDelivery(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	r := s.Subscribe("ch1")
	defer s.Unsubscribe(r)

	n := s.Publish("ch1", []byte("hi"))
	require.Equal(t, 1, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, lagged, err := r.Recv(ctx)
	require.NoError(t, err)
	require.False(t, lagged)
	require.Equal(t, []byte("hi"), payload)
}

// TestPublishBeforeSubscribeNotDelivered covers §5's ordering guarantee: a
// publish that completes before the subscribe call is not observed by that
// subscriber.
func TestPublishBeforeSubscribeNotDelivered(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	s.Publish("ch1", []byte("before"))

	r := s.Subscribe("ch1")
	defer s.Unsubscribe(r)

	s.Publish("ch1", []byte("after"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	payload, lagged, err := r.Recv(ctx)
	require.NoError(t, err)
	require.False(t, lagged)
	require.Equal(t, []byte("after"), payload)
}

func TestBoundedBacklogDropsOldestWithoutBlockingPublisher(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	r := s.Subscribe("ch")
	defer s.Unsubscribe(r)

	const n = backlogSize * 3
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			s.Publish("ch", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, lagged, err := r.Recv(ctx)
	require.NoError(t, err)
	require.True(t, lagged, "a receiver that never read during 3x backlog publishes must observe lag")
}

func TestRecvContextCancellation(t *testing.T) {
	g := NewGuard()
	defer g.Close()
	s := g.Store()

	r := s.Subscribe("ch")
	defer s.Unsubscribe(r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGuardCloseStopsReaperAndClosesChannels(t *testing.T) {
	g := NewGuard()
	s := g.Store()
	r := s.Subscribe("ch")

	g.Close()
	g.Close() // idempotent

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := r.Recv(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
