// Archival/revision merge (C4). Folds the in-progress revision index into
// its parent's archival index, producing the new revision's archival
// index: every dirtied page from the revision index, plus every page from
// the parent that the revision didn't touch (§3, §4.4, §8).
package onion

import "sort"

// mergeIndexes folds revIdx into parent, returning a newly allocated,
// ascending-by-LogiPage list. Every entry in revIdx appears exactly once
// (guaranteed by §4.3); every entry in parent whose page is NOT in revIdx
// is carried over unchanged.
func mergeIndexes(revIdx *RevisionIndex, parent *ArchivalIndex) []IndexEntry {
	dirty := revIdx.all()
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].LogiPage < dirty[j].LogiPage })

	inherited := make([]IndexEntry, 0, len(parent.List))
	for _, e := range parent.List {
		if _, found := findSorted(dirty, e.LogiPage); !found {
			inherited = append(inherited, e)
		}
	}

	merged := make([]IndexEntry, 0, len(dirty)+len(inherited))
	merged = append(merged, dirty...)
	merged = append(merged, inherited...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].LogiPage < merged[j].LogiPage })

	return merged
}

// findSorted binary-searches a LogiPage-ascending slice.
func findSorted(list []IndexEntry, logiPage uint64) (IndexEntry, bool) {
	n := len(list)
	if n == 0 {
		return IndexEntry{}, false
	}
	i := sort.Search(n, func(i int) bool { return list[i].LogiPage >= logiPage })
	if i < n && list[i].LogiPage == logiPage {
		return list[i], true
	}
	return IndexEntry{}, false
}
