// Revision record codec (C1/§4.1). A revision record is the immutable
// metadata describing one committed revision: identity, timestamp, logical
// EOF, and the archival index produced by merging the revision index into
// the parent's archival index (§3, §4.4). Decode follows the same
// two-phase contract as the whole-history: decodeRevisionRecordHeader
// reports the variable-length tail sizes, decodeRevisionRecord fills and
// verifies them.
package onion

import (
	"encoding/binary"
	"fmt"
)

const (
	recordMagic     = "ORRS"
	recordVersion   = 1
	recordFixedSize = 72 // up to and including comment_size
	recordEntrySize = 20 // logi_addr(8) + phys_addr(8) + entry_checksum(4)
)

// IndexEntry is one (logical page, physical offset) pair, shared by the
// archival index (C2), the revision index (C3), and on-disk records.
type IndexEntry struct {
	LogiPage uint64
	PhysAddr uint64
}

// RevisionRecord is the metadata for one revision, committed or
// in-progress. Entries holds the archival index this revision owns once
// merged (§4.4); while a revision is being authored in memory, the live
// dirty-page state instead lives in the session's RevisionIndex (C3).
type RevisionRecord struct {
	RevisionID       uint64
	ParentRevisionID uint64
	TimeOfCreation   [16]byte
	LogiEOF          uint64
	PageSize         uint32
	UserID           uint32
	Entries          []IndexEntry
	Username         string
	Comment          string
}

func revisionRecordSize(nEntries int, usernameSize, commentSize uint32) int64 {
	return int64(recordFixedSize) + int64(nEntries)*recordEntrySize + int64(usernameSize) + int64(commentSize) + 4
}

// encode serialises the revision record. Entries must already be sorted by
// LogiPage ascending (the merge step, C4, guarantees this); encode does
// not re-sort.
func (r *RevisionRecord) encode() ([]byte, error) {
	if !validPageSize(r.PageSize) {
		return nil, newErr(KindBadArgument, "record.encode", fmt.Errorf("page size %d is not valid", r.PageSize))
	}
	log2 := pageLog2(r.PageSize)

	usernameBytes := nulTerminated(r.Username)
	commentBytes := nulTerminated(r.Comment)

	n := len(r.Entries)
	size := revisionRecordSize(n, uint32(len(usernameBytes)), uint32(len(commentBytes)))
	buf := make([]byte, size)

	copy(buf[0:4], recordMagic)
	buf[4] = recordVersion
	binary.LittleEndian.PutUint64(buf[8:16], r.RevisionID)
	binary.LittleEndian.PutUint64(buf[16:24], r.ParentRevisionID)
	copy(buf[24:40], r.TimeOfCreation[:])
	binary.LittleEndian.PutUint64(buf[40:48], r.LogiEOF)
	binary.LittleEndian.PutUint32(buf[48:52], r.PageSize)
	binary.LittleEndian.PutUint32(buf[52:56], r.UserID)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(n))
	binary.LittleEndian.PutUint32(buf[64:68], uint32(len(usernameBytes)))
	binary.LittleEndian.PutUint32(buf[68:72], uint32(len(commentBytes)))

	off := recordFixedSize
	for i, e := range r.Entries {
		if i > 0 && r.Entries[i-1].LogiPage >= e.LogiPage {
			return nil, newErr(KindBadArgument, "record.encode", fmt.Errorf("entries not strictly ascending at index %d", i))
		}
		entry := buf[off : off+16]
		binary.LittleEndian.PutUint64(entry[0:8], e.LogiPage<<log2)
		binary.LittleEndian.PutUint64(entry[8:16], e.PhysAddr)
		sum := fletcher32(entry)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], sum)
		off += recordEntrySize
	}

	copy(buf[off:off+len(usernameBytes)], usernameBytes)
	off += len(usernameBytes)
	copy(buf[off:off+len(commentBytes)], commentBytes)
	off += len(commentBytes)

	sum := fletcher32(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], sum)
	return buf, nil
}

// decodeRevisionRecordHeader is the first decode pass: it validates the
// fixed 72-byte prefix and reports the counts/sizes needed to size the
// variable-length tail.
func decodeRevisionRecordHeader(buf []byte) (nEntries uint64, usernameSize, commentSize uint32, totalSize int64, err error) {
	if len(buf) < recordFixedSize {
		return 0, 0, 0, 0, newErr(KindCorrupt, "record.decode", fmt.Errorf("buffer too small for fixed header: %d bytes", len(buf)))
	}
	if string(buf[0:4]) != recordMagic {
		return 0, 0, 0, 0, newErr(KindCorrupt, "record.decode", fmt.Errorf("bad signature %q", buf[0:4]))
	}
	if buf[4] != recordVersion {
		return 0, 0, 0, 0, newErr(KindCorrupt, "record.decode", fmt.Errorf("unsupported version %d", buf[4]))
	}
	nEntries = binary.LittleEndian.Uint64(buf[56:64])
	usernameSize = binary.LittleEndian.Uint32(buf[64:68])
	commentSize = binary.LittleEndian.Uint32(buf[68:72])
	totalSize = revisionRecordSize(int(nEntries), usernameSize, commentSize)
	return nEntries, usernameSize, commentSize, totalSize, nil
}

// decodeRevisionRecord is the second decode pass: buf must be exactly the
// totalSize reported by decodeRevisionRecordHeader. It fills the archival
// index list and username/comment strings, verifying every checksum and
// the page-alignment invariant on each logical address.
func decodeRevisionRecord(buf []byte, nEntries uint64, usernameSize, commentSize uint32) (*RevisionRecord, error) {
	wantSize := revisionRecordSize(int(nEntries), usernameSize, commentSize)
	if int64(len(buf)) != wantSize {
		return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("size mismatch between passes: buffer %d, expected %d", len(buf), wantSize))
	}

	r := &RevisionRecord{
		RevisionID:       binary.LittleEndian.Uint64(buf[8:16]),
		ParentRevisionID: binary.LittleEndian.Uint64(buf[16:24]),
		LogiEOF:          binary.LittleEndian.Uint64(buf[40:48]),
		PageSize:         binary.LittleEndian.Uint32(buf[48:52]),
		UserID:           binary.LittleEndian.Uint32(buf[52:56]),
	}
	copy(r.TimeOfCreation[:], buf[24:40])
	if !validPageSize(r.PageSize) {
		return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("invalid page size %d", r.PageSize))
	}
	log2 := pageLog2(r.PageSize)

	r.Entries = make([]IndexEntry, nEntries)
	off := recordFixedSize
	for i := range r.Entries {
		entry := buf[off : off+16]
		wantSum := binary.LittleEndian.Uint32(buf[off+16 : off+20])
		gotSum := fletcher32(entry)
		if gotSum != wantSum {
			return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("entry %d checksum mismatch: got %#x want %#x", i, gotSum, wantSum))
		}
		logiAddr := binary.LittleEndian.Uint64(entry[0:8])
		if logiAddr%uint64(r.PageSize) != 0 {
			return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("entry %d logical address %d is not page-aligned", i, logiAddr))
		}
		r.Entries[i] = IndexEntry{
			LogiPage: logiAddr >> log2,
			PhysAddr: binary.LittleEndian.Uint64(entry[8:16]),
		}
		if i > 0 && r.Entries[i-1].LogiPage >= r.Entries[i].LogiPage {
			return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("entries not strictly ascending at index %d", i))
		}
		off += recordEntrySize
	}

	usernameBytes := buf[off : off+int(usernameSize)]
	off += int(usernameSize)
	commentBytes := buf[off : off+int(commentSize)]
	off += int(commentSize)
	r.Username = fromNulTerminated(usernameBytes)
	r.Comment = fromNulTerminated(commentBytes)

	wantSum := binary.LittleEndian.Uint32(buf[off : off+4])
	gotSum := fletcher32(buf[:off])
	if gotSum != wantSum {
		return nil, newErr(KindCorrupt, "record.decode", fmt.Errorf("overall checksum mismatch: got %#x want %#x", gotSum, wantSum))
	}

	return r, nil
}

// nulTerminated returns s as UTF-8 bytes with a trailing NUL, or an empty
// slice if s is empty (the "optional" field is omitted entirely).
func nulTerminated(s string) []byte {
	if s == "" {
		return nil
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// fromNulTerminated strips a trailing NUL, if present, and returns the
// remaining bytes as a string.
func fromNulTerminated(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
