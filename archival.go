// Archival index (C2). A committed revision's sorted page map: strictly
// ascending by logical page, immutable once the revision is committed,
// looked up by binary search.
package onion

import "sort"

// ArchivalIndex is the sorted, committed page map belonging to one
// revision (§3, §4.2).
type ArchivalIndex struct {
	PageLog2 uint
	List     []IndexEntry
}

// valid reports whether the list is non-nil and strictly ascending by
// LogiPage, per §4.2.
func (a *ArchivalIndex) valid() bool {
	if a.List == nil {
		return false
	}
	for i := 1; i < len(a.List); i++ {
		if a.List[i-1].LogiPage >= a.List[i].LogiPage {
			return false
		}
	}
	return true
}

// Find performs a binary search for logiPage, returning the matching
// entry and true, or the zero value and false if not present. Addresses
// outside [List[0].LogiPage, List[n-1].LogiPage] are rejected immediately
// without searching (§4.2).
func (a *ArchivalIndex) Find(logiPage uint64) (IndexEntry, bool) {
	n := len(a.List)
	if n == 0 {
		return IndexEntry{}, false
	}
	if logiPage < a.List[0].LogiPage || logiPage > a.List[n-1].LogiPage {
		return IndexEntry{}, false
	}

	i := sort.Search(n, func(i int) bool { return a.List[i].LogiPage >= logiPage })
	if i < n && a.List[i].LogiPage == logiPage {
		return a.List[i], true
	}
	return IndexEntry{}, false
}
