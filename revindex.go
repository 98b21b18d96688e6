// Revision index (C3). A hash table of dirty pages for the in-progress
// revision: separately chained buckets, each a singly linked chain,
// growing by doubling. Point lookups dominate ("did I already dirty this page?"), so
// a hash table is the right structure; the merge step at commit (C4)
// handles ordering (§4.3, §9).
package onion

import "fmt"

const initialBucketLog2 = 10 // 2^10 buckets at Init, per §4.3

type revIndexNode struct {
	entry IndexEntry
	next  *revIndexNode
}

// RevisionIndex is the live, unordered multiset-by-key of dirty pages held
// only while a revision is being authored (§3, §4.3).
type RevisionIndex struct {
	buckets   []*revIndexNode
	entries   int
	populated int
}

// newRevisionIndex allocates a fresh table of 2^10 null buckets.
func newRevisionIndex() *RevisionIndex {
	return &RevisionIndex{buckets: make([]*revIndexNode, 1<<initialBucketLog2)}
}

func (r *RevisionIndex) mask() uint64 { return uint64(len(r.buckets) - 1) }

func (r *RevisionIndex) key(logiPage uint64) uint64 { return logiPage & r.mask() }

// shouldResize reports whether the doubling predicate holds: entries is at
// least twice the bucket count, or populated buckets is at least half the
// bucket count (§3).
func (r *RevisionIndex) shouldResize() bool {
	n := len(r.buckets)
	return r.entries >= 2*n || r.populated >= n/2
}

// Insert records that logical page entry.LogiPage maps to entry.PhysAddr
// in the in-progress revision. Re-inserting the same (LogiPage, PhysAddr)
// pair is a no-op update; inserting a different PhysAddr for an existing
// LogiPage is a hard error (§4.3).
func (r *RevisionIndex) Insert(entry IndexEntry) error {
	if r.shouldResize() {
		r.resize()
	}

	k := r.key(entry.LogiPage)
	wasEmpty := r.buckets[k] == nil

	for n := r.buckets[k]; n != nil; n = n.next {
		if n.entry.LogiPage == entry.LogiPage {
			if n.entry.PhysAddr != entry.PhysAddr {
				return newErr(KindBadArgument, "revindex.insert", fmt.Errorf("logical page %d already mapped to physical offset %d, cannot remap to %d", entry.LogiPage, n.entry.PhysAddr, entry.PhysAddr))
			}
			n.entry = entry
			return nil
		}
	}

	node := &revIndexNode{entry: entry}
	if r.buckets[k] == nil {
		r.buckets[k] = node
	} else {
		tail := r.buckets[k]
		for tail.next != nil {
			tail = tail.next
		}
		tail.next = node
	}
	r.entries++
	if wasEmpty {
		r.populated++
	}
	return nil
}

// Find looks up logiPage, returning the matching entry and true, or the
// zero value and false.
func (r *RevisionIndex) Find(logiPage uint64) (IndexEntry, bool) {
	k := logiPage & r.mask()
	for n := r.buckets[k]; n != nil; n = n.next {
		if n.entry.LogiPage == logiPage {
			return n.entry, true
		}
	}
	return IndexEntry{}, false
}

// resize allocates a table twice as large, rehashes every node under the
// new mask, and recounts populated buckets. Chain order within a bucket is
// not preserved (§4.3).
func (r *RevisionIndex) resize() {
	newBuckets := make([]*revIndexNode, len(r.buckets)*2)
	newMask := uint64(len(newBuckets) - 1)
	populated := 0

	for _, head := range r.buckets {
		for n := head; n != nil; {
			next := n.next
			k := n.entry.LogiPage & newMask
			if newBuckets[k] == nil {
				populated++
			}
			n.next = newBuckets[k]
			newBuckets[k] = n
			n = next
		}
	}

	r.buckets = newBuckets
	r.populated = populated
}

// Len returns the number of distinct logical pages held.
func (r *RevisionIndex) Len() int { return r.entries }

// all returns every entry in the table, used by the merge step (C4).
func (r *RevisionIndex) all() []IndexEntry {
	out := make([]IndexEntry, 0, r.entries)
	for _, head := range r.buckets {
		for n := head; n != nil; n = n.next {
			out = append(out, n.entry)
		}
	}
	return out
}
