package store

import (
	"time"

	"github.com/google/btree"
)

// expirationKey is one (instant, key) pair in the expiration index. Ties on
// instant are broken by key, matching the spec's tie-break rule for keys
// sharing an expiration moment.
type expirationKey struct {
	at  time.Time
	key string
}

func (a expirationKey) less(b expirationKey) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.key < b.key
}

// expirationIndex is an ordered set of expirationKey giving the reaper
// O(log n) insert/remove and an O(log n + k) scan of the k keys currently
// due.
type expirationIndex struct {
	tree *btree.BTreeG[expirationKey]
}

func newExpirationIndex() *expirationIndex {
	return &expirationIndex{
		tree: btree.NewG(32, func(a, b expirationKey) bool { return a.less(b) }),
	}
}

func (idx *expirationIndex) insert(at time.Time, key string) {
	idx.tree.ReplaceOrInsert(expirationKey{at: at, key: key})
}

func (idx *expirationIndex) remove(at time.Time, key string) {
	idx.tree.Delete(expirationKey{at: at, key: key})
}

// firstDue returns the earliest-expiring key, if the index is non-empty.
func (idx *expirationIndex) firstDue() (expirationKey, bool) {
	return idx.tree.Min()
}

// dueBefore visits every entry with at <= now in ascending order, stopping
// as soon as visit returns false or an entry is found that is not yet due.
// It returns the instant of the first remaining (not-yet-due) entry, if any.
func (idx *expirationIndex) dueBefore(now time.Time, visit func(expirationKey) bool) (nextDue time.Time, hasNext bool) {
	idx.tree.Ascend(func(ek expirationKey) bool {
		if ek.at.After(now) {
			nextDue, hasNext = ek.at, true
			return false
		}
		return visit(ek)
	})
	return nextDue, hasNext
}

func (idx *expirationIndex) len() int { return idx.tree.Len() }
