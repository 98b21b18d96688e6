// Whole-history codec (C1/§4.1). The whole-history is the ordered list of
// pointers to every committed revision record (§3); it is rewritten at
// offset header.WholeHistoryAddr on every commit. Decode follows the
// two-phase contract (§4.1): decodeWholeHistoryHeader tells the caller how
// many bytes to read for the full record before decodeWholeHistory parses
// and verifies it.
package onion

import (
	"encoding/binary"
	"fmt"
)

const (
	historyMagic       = "OWHS"
	historyVersion     = 1
	historyFixedSize   = 16 // magic + ver + pad(3) + n_revisions(8)
	historyEntrySize   = 20 // phys_addr(8) + record_size(8) + entry_checksum(4)
)

// RecordPointer locates one committed revision record inside the onion
// file. Its on-disk entry checksum over these two fields is computed by
// encode and verified by decode; it is not stored in the struct.
type RecordPointer struct {
	PhysAddr   uint64
	RecordSize uint64
}

// WholeHistory is the ordered sequence of record pointers, one per
// committed revision in commit order (§3).
type WholeHistory struct {
	Records []RecordPointer
}

// wholeHistorySize returns the total encoded size for n revisions.
func wholeHistorySize(n int) int64 {
	return int64(historyFixedSize) + int64(n)*historyEntrySize + 4
}

// encode serialises the whole-history, recomputing each pointer's 16-byte
// entry checksum and the overall trailing checksum.
func (wh *WholeHistory) encode() ([]byte, error) {
	n := len(wh.Records)
	size := wholeHistorySize(n)
	buf := make([]byte, size)

	copy(buf[0:4], historyMagic)
	buf[4] = historyVersion
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n))

	off := historyFixedSize
	for i := 0; i < n-1; i++ {
		if wh.Records[i].PhysAddr >= wh.Records[i+1].PhysAddr {
			return nil, newErr(KindBadArgument, "history.encode", fmt.Errorf("record pointers must be strictly increasing in phys_addr at index %d", i))
		}
	}
	for _, rec := range wh.Records {
		entry := buf[off : off+16]
		binary.LittleEndian.PutUint64(entry[0:8], rec.PhysAddr)
		binary.LittleEndian.PutUint64(entry[8:16], rec.RecordSize)
		sum := fletcher32(entry)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], sum)
		off += historyEntrySize
	}

	sum := fletcher32(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], sum)
	return buf, nil
}

// decodeWholeHistoryHeader is the first decode pass: it validates the
// fixed-size prefix and reports how many total bytes the full record
// occupies, so the caller can read exactly that much before the second
// pass.
func decodeWholeHistoryHeader(buf []byte) (nRevisions uint64, totalSize int64, err error) {
	if len(buf) < historyFixedSize {
		return 0, 0, newErr(KindCorrupt, "history.decode", fmt.Errorf("buffer too small for fixed header: %d bytes", len(buf)))
	}
	if string(buf[0:4]) != historyMagic {
		return 0, 0, newErr(KindCorrupt, "history.decode", fmt.Errorf("bad signature %q", buf[0:4]))
	}
	if buf[4] != historyVersion {
		return 0, 0, newErr(KindCorrupt, "history.decode", fmt.Errorf("unsupported version %d", buf[4]))
	}
	n := binary.LittleEndian.Uint64(buf[8:16])
	return n, wholeHistorySize(int(n)), nil
}

// decodeWholeHistory is the second decode pass: buf must be exactly the
// totalSize reported by decodeWholeHistoryHeader. It fills the entry list
// and verifies every per-entry and overall checksum.
func decodeWholeHistory(buf []byte, nRevisions uint64) (*WholeHistory, error) {
	wantSize := wholeHistorySize(int(nRevisions))
	if int64(len(buf)) != wantSize {
		return nil, newErr(KindCorrupt, "history.decode", fmt.Errorf("size mismatch between passes: buffer %d, expected %d", len(buf), wantSize))
	}

	records := make([]RecordPointer, nRevisions)
	off := historyFixedSize
	for i := range records {
		entry := buf[off : off+16]
		wantSum := binary.LittleEndian.Uint32(buf[off+16 : off+20])
		gotSum := fletcher32(entry)
		if gotSum != wantSum {
			return nil, newErr(KindCorrupt, "history.decode", fmt.Errorf("entry %d checksum mismatch: got %#x want %#x", i, gotSum, wantSum))
		}
		records[i] = RecordPointer{
			PhysAddr:   binary.LittleEndian.Uint64(entry[0:8]),
			RecordSize: binary.LittleEndian.Uint64(entry[8:16]),
		}
		if i > 0 && records[i-1].PhysAddr >= records[i].PhysAddr {
			return nil, newErr(KindCorrupt, "history.decode", fmt.Errorf("record pointers not strictly increasing at index %d", i))
		}
		off += historyEntrySize
	}

	wantSum := binary.LittleEndian.Uint32(buf[off : off+4])
	gotSum := fletcher32(buf[:off])
	if gotSum != wantSum {
		return nil, newErr(KindCorrupt, "history.decode", fmt.Errorf("overall checksum mismatch: got %#x want %#x", gotSum, wantSum))
	}

	return &WholeHistory{Records: records}, nil
}
