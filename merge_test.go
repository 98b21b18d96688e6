// Archival/revision merge tests (C4, §4.4, §8): pages(merged) =
// pages(R) ∪ (pages(A) \ pages(R)), sorted ascending.
package onion

import "testing"

func TestMergeIndexesSupersedesParent(t *testing.T) {
	parent := &ArchivalIndex{List: []IndexEntry{
		{LogiPage: 0, PhysAddr: 40},
		{LogiPage: 1, PhysAddr: 552},
		{LogiPage: 2, PhysAddr: 1064},
	}}
	rev := newRevisionIndex()
	if err := rev.Insert(IndexEntry{LogiPage: 1, PhysAddr: 9000}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	merged := mergeIndexes(rev, parent)

	want := []IndexEntry{
		{LogiPage: 0, PhysAddr: 40},
		{LogiPage: 1, PhysAddr: 9000}, // superseded by the revision
		{LogiPage: 2, PhysAddr: 1064},
	}
	if len(merged) != len(want) {
		t.Fatalf("merged length = %d, want %d", len(merged), len(want))
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("merged[%d] = %+v, want %+v", i, merged[i], want[i])
		}
	}
}

func TestMergeIndexesAddsNewPages(t *testing.T) {
	parent := &ArchivalIndex{List: []IndexEntry{{LogiPage: 5, PhysAddr: 500}}}
	rev := newRevisionIndex()
	rev.Insert(IndexEntry{LogiPage: 9, PhysAddr: 900})

	merged := mergeIndexes(rev, parent)
	if len(merged) != 2 {
		t.Fatalf("merged length = %d, want 2", len(merged))
	}
	if merged[0].LogiPage != 5 || merged[1].LogiPage != 9 {
		t.Errorf("merged = %+v, want ascending [5, 9]", merged)
	}
}

func TestMergeIndexesEmptyParentAndRevision(t *testing.T) {
	parent := &ArchivalIndex{List: []IndexEntry{}}
	rev := newRevisionIndex()
	merged := mergeIndexes(rev, parent)
	if len(merged) != 0 {
		t.Errorf("merged length = %d, want 0", len(merged))
	}
}
