// Revision index tests: insert/find/dedup, the collision rule, and the
// doubling predicate from §3/§4.3.
package onion

import "testing"

func TestRevisionIndexInsertFind(t *testing.T) {
	r := newRevisionIndex()
	if err := r.Insert(IndexEntry{LogiPage: 5, PhysAddr: 500}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	e, ok := r.Find(5)
	if !ok || e.PhysAddr != 500 {
		t.Errorf("Find(5) = (%+v, %v), want (PhysAddr=500, true)", e, ok)
	}
	if _, ok := r.Find(6); ok {
		t.Error("Find(6) = found, want not found")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

// TestRevisionIndexReinsertSamePhysAddrIsNoOp covers the §3 dedup
// contract: re-inserting the same (logi_page, phys_addr) pair updates in
// place without growing the table.
func TestRevisionIndexReinsertSamePhysAddrIsNoOp(t *testing.T) {
	r := newRevisionIndex()
	if err := r.Insert(IndexEntry{LogiPage: 1, PhysAddr: 100}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.Insert(IndexEntry{LogiPage: 1, PhysAddr: 100}); err != nil {
		t.Fatalf("re-insert same pair: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() after re-insert = %d, want 1", r.Len())
	}
}

// TestRevisionIndexRemapIsHardError covers §3/§4.3: inserting a
// different phys_addr for an already-present logi_page must fail rather
// than silently overwrite.
func TestRevisionIndexRemapIsHardError(t *testing.T) {
	r := newRevisionIndex()
	if err := r.Insert(IndexEntry{LogiPage: 1, PhysAddr: 100}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := r.Insert(IndexEntry{LogiPage: 1, PhysAddr: 200}); err == nil {
		t.Error("Insert with remapped phys_addr: want error, got nil")
	}
}

// TestRevisionIndexResize inserts more than 2*buckets sequential pages and
// checks the table grew and every previously-inserted entry is still
// reachable afterward. Sequential pages each populate a fresh bucket, so
// the populated >= buckets/2 clause of the doubling predicate is the one
// that fires.
func TestRevisionIndexResize(t *testing.T) {
	r := newRevisionIndex()
	initialBuckets := len(r.buckets)

	n := 2*initialBuckets + 10
	for i := 0; i < n; i++ {
		if err := r.Insert(IndexEntry{LogiPage: uint64(i), PhysAddr: uint64(i) * 512}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	if len(r.buckets) <= initialBuckets {
		t.Errorf("bucket count after %d inserts = %d, want > %d", n, len(r.buckets), initialBuckets)
	}
	for i := 0; i < n; i++ {
		e, ok := r.Find(uint64(i))
		if !ok || e.PhysAddr != uint64(i)*512 {
			t.Errorf("Find(%d) after resize = (%+v, %v), want (PhysAddr=%d, true)", i, e, ok, uint64(i)*512)
		}
	}
}

func TestRevisionIndexAll(t *testing.T) {
	r := newRevisionIndex()
	want := map[uint64]uint64{1: 100, 2: 200, 3: 300}
	for p, a := range want {
		if err := r.Insert(IndexEntry{LogiPage: p, PhysAddr: a}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	all := r.all()
	if len(all) != len(want) {
		t.Fatalf("all() length = %d, want %d", len(all), len(want))
	}
	for _, e := range all {
		if want[e.LogiPage] != e.PhysAddr {
			t.Errorf("all() entry %+v not in expected set", e)
		}
	}
}
