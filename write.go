// Write path (C7). Page-by-page read-modify-write: an already-dirty page
// is rewritten in place at its existing physical offset (the revision
// index "dedup" contract — never a second slot per page per revision);
// a clean page gets a freshly appended slot, seeded from the archival
// index, then the canonical file, zero-filled past origin_eof (§4.7, §8).
package onion

import "fmt"

// Write overlays data onto the logical file starting at offset, copying
// on write at page granularity. A zero-length data is a no-op.
func (db *DB) Write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	if !db.writable {
		return newErr(KindUnsupported, "write", ErrNotOpenForWrite)
	}
	// A write session's logi_eoa is unbounded (see createTruncate) and a
	// read-only session has already been refused above, so this check does
	// not reject a range for any session that reaches it.
	if offset+uint64(len(data)) > db.logiEOA {
		return newErr(KindBadArgument, "write", fmt.Errorf("range [%d, %d) exceeds addressable size %d", offset, offset+uint64(len(data)), db.logiEOA))
	}

	pageSize := uint64(db.pageSize)
	remaining := len(data)
	cursor := 0
	page := pageNumber(offset, db.pageLog2)
	pos := offset

	for remaining > 0 {
		headGap := pos % pageSize
		chunk := pageSize - headGap
		if uint64(remaining) < chunk {
			chunk = uint64(remaining)
		}

		if err := db.writePage(page, headGap, data[cursor:cursor+int(chunk)]); err != nil {
			return err
		}

		cursor += int(chunk)
		remaining -= int(chunk)
		pos += chunk
		page++
	}

	if newEnd := offset + uint64(len(data)); newEnd > db.logiEOF {
		db.logiEOF = newEnd
	}
	return nil
}

// writePage overlays overlay onto logical page p starting headGap bytes
// in, following the slot-reuse rule in §4.7.
func (db *DB) writePage(p uint64, headGap uint64, overlay []byte) error {
	if e, ok := db.revIndex.Find(p); ok {
		return db.rewriteExistingSlot(e.PhysAddr, headGap, overlay)
	}
	return db.allocateNewSlot(p, headGap, overlay)
}

// rewriteExistingSlot performs a read-modify-write of a page this
// revision has already dirtied, at its existing physical offset.
func (db *DB) rewriteExistingSlot(physAddr uint64, headGap uint64, overlay []byte) error {
	pageSize := int64(db.pageSize)
	tailGap := pageSize - int64(headGap) - int64(len(overlay))

	if headGap == 0 && tailGap == 0 {
		return db.onion.WriteAt(int64(physAddr), overlay)
	}

	buf := make([]byte, pageSize)
	if err := db.onion.ReadAt(int64(physAddr), buf); err != nil {
		return err
	}
	copy(buf[headGap:], overlay)
	return db.onion.WriteAt(int64(physAddr), buf)
}

// allocateNewSlot appends a new page image at history_eof, seeded from
// the archival index then the canonical file (zero-filled past
// origin_eof), with overlay applied on top, and records the new slot in
// the revision index.
func (db *DB) allocateNewSlot(p uint64, headGap uint64, overlay []byte) error {
	pageSize := int64(db.pageSize)
	buf := make([]byte, pageSize)

	if e, ok := db.archival.Find(p); ok {
		if err := db.onion.ReadAt(int64(e.PhysAddr), buf); err != nil {
			return err
		}
	} else {
		start := p * uint64(db.pageSize)
		avail := int64(0)
		if start < db.originEOF {
			avail = int64(db.originEOF - start)
		}
		if avail > pageSize {
			avail = pageSize
		}
		if avail > 0 {
			if err := db.canonical.ReadAt(int64(start), buf[:avail]); err != nil {
				return err
			}
		}
		// buf[avail:] is already zero (fresh allocation).
	}

	copy(buf[headGap:], overlay)

	physAddr := db.historyEOF
	if err := db.onion.WriteAt(physAddr, buf); err != nil {
		return err
	}
	if err := db.revIndex.Insert(IndexEntry{LogiPage: p, PhysAddr: uint64(physAddr)}); err != nil {
		return err
	}
	db.historyEOF += pageSize
	return nil
}
