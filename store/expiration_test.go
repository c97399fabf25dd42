package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpirationIndexOrdersByInstantThenKey(t *testing.T) {
	idx := newExpirationIndex()
	base := time.Unix(1000, 0)

	idx.insert(base, "b")
	idx.insert(base, "a")
	idx.insert(base.Add(time.Second), "z")

	var order []string
	_, hasNext := idx.dueBefore(base.Add(2*time.Second), func(ek expirationKey) bool {
		order = append(order, ek.key)
		return true
	})
	require.False(t, hasNext)
	require.Equal(t, []string{"a", "b", "z"}, order)
}

func TestExpirationIndexDueBeforeStopsAtFuture(t *testing.T) {
	idx := newExpirationIndex()
	base := time.Unix(2000, 0)
	idx.insert(base, "due")
	idx.insert(base.Add(time.Hour), "future")

	var visited []string
	nextDue, hasNext := idx.dueBefore(base, func(ek expirationKey) bool {
		visited = append(visited, ek.key)
		return true
	})
	require.Equal(t, []string{"due"}, visited)
	require.True(t, hasNext)
	require.True(t, nextDue.Equal(base.Add(time.Hour)))
}

func TestExpirationIndexRemove(t *testing.T) {
	idx := newExpirationIndex()
	at := time.Unix(3000, 0)
	idx.insert(at, "k")
	require.Equal(t, 1, idx.len())
	idx.remove(at, "k")
	require.Equal(t, 0, idx.len())
}
