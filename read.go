// Read path (C6). Page-by-page lookup: the in-progress revision index
// first (write sessions only), then the committed archival index, then
// the canonical file, zero-filling anything past origin_eof (§4.6, §8).
package onion

import "fmt"

// Read fills buf with len(buf) bytes starting at the logical offset
// offset, as seen through this session's revision (§4.6). A zero-length
// buf is a no-op.
func (db *DB) Read(offset uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := db.checkOpen(); err != nil {
		return err
	}
	if offset+uint64(len(buf)) > db.logiEOA {
		return newErr(KindBadArgument, "read", fmt.Errorf("range [%d, %d) exceeds addressable size %d", offset, offset+uint64(len(buf)), db.logiEOA))
	}

	pageSize := uint64(db.pageSize)
	firstPage := pageNumber(offset, db.pageLog2)
	remaining := len(buf)
	cursor := 0
	page := firstPage
	pos := offset

	for remaining > 0 {
		headGap := pos % pageSize
		chunk := pageSize - headGap
		if uint64(remaining) < chunk {
			chunk = uint64(remaining)
		}

		dst := buf[cursor : cursor+int(chunk)]
		if err := db.readPage(page, headGap, dst); err != nil {
			return err
		}

		cursor += int(chunk)
		remaining -= int(chunk)
		pos += chunk
		page++
	}
	return nil
}

// readPage resolves and reads chunk bytes starting headGap bytes into
// logical page p, following the strict source-resolution order in §4.6.
func (db *DB) readPage(p uint64, headGap uint64, dst []byte) error {
	chunk := int64(len(dst))

	if db.writable {
		if e, ok := db.revIndex.Find(p); ok {
			return db.onion.ReadAt(int64(e.PhysAddr)+int64(headGap), dst)
		}
	}
	if e, ok := db.archival.Find(p); ok {
		return db.onion.ReadAt(int64(e.PhysAddr)+int64(headGap), dst)
	}

	// Fall through to the canonical file, zero-filling past origin_eof.
	start := p*uint64(db.pageSize) + headGap
	avail := int64(0)
	if start < db.originEOF {
		avail = int64(db.originEOF - start)
	}
	if avail > chunk {
		avail = chunk
	}
	if avail > 0 {
		if err := db.canonical.ReadAt(int64(start), dst[:avail]); err != nil {
			return err
		}
	}
	for i := avail; i < chunk; i++ {
		dst[i] = 0
	}
	return nil
}
