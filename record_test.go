// Revision record codec tests: the two-phase decode contract, the
// logi_addr<->logi_page shift, and the username/comment NUL-terminated
// tail encoding.
package onion

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRevisionRecordRoundTrip(t *testing.T) {
	r := &RevisionRecord{
		RevisionID:       3,
		ParentRevisionID: 2,
		TimeOfCreation:   timeStamp(),
		LogiEOF:          2048,
		PageSize:         512,
		UserID:           1000,
		Entries: []IndexEntry{
			{LogiPage: 0, PhysAddr: 40},
			{LogiPage: 4, PhysAddr: 552},
		},
		Username: "alice",
		Comment:  "second revision",
	}

	buf, err := r.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	nEntries, usernameSize, commentSize, totalSize, err := decodeRevisionRecordHeader(buf[:recordFixedSize])
	if err != nil {
		t.Fatalf("decodeRevisionRecordHeader: %v", err)
	}
	if nEntries != 2 {
		t.Errorf("n_entries = %d, want 2", nEntries)
	}
	if totalSize != int64(len(buf)) {
		t.Errorf("reported size = %d, want %d", totalSize, len(buf))
	}

	got, err := decodeRevisionRecord(buf, nEntries, usernameSize, commentSize)
	if err != nil {
		t.Fatalf("decodeRevisionRecord: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRevisionRecordEmptyOptionalFields(t *testing.T) {
	r := &RevisionRecord{PageSize: 512}
	buf, err := r.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	nEntries, usernameSize, commentSize, _, err := decodeRevisionRecordHeader(buf[:recordFixedSize])
	if err != nil {
		t.Fatalf("decodeRevisionRecordHeader: %v", err)
	}
	if usernameSize != 0 || commentSize != 0 {
		t.Errorf("expected zero-size optional fields, got username=%d comment=%d", usernameSize, commentSize)
	}
	got, err := decodeRevisionRecord(buf, nEntries, usernameSize, commentSize)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Username != "" || got.Comment != "" {
		t.Errorf("expected empty strings, got username=%q comment=%q", got.Username, got.Comment)
	}
}

// TestRevisionRecordLogiAddrShift pins the §4.1 requirement that
// logi_addr on disk is logi_page shifted by page_size_log2, not the raw
// page number.
func TestRevisionRecordLogiAddrShift(t *testing.T) {
	r := &RevisionRecord{
		PageSize: 512,
		Entries:  []IndexEntry{{LogiPage: 3, PhysAddr: 999}},
	}
	buf, err := r.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	off := recordFixedSize
	var logiAddr uint64
	for i := 0; i < 8; i++ {
		logiAddr |= uint64(buf[off+i]) << (8 * i)
	}
	if want := uint64(3) << pageLog2(512); logiAddr != want {
		t.Errorf("on-disk logi_addr = %d, want %d", logiAddr, want)
	}
}

func TestRevisionRecordRejectsNonAscendingEntries(t *testing.T) {
	r := &RevisionRecord{
		PageSize: 512,
		Entries: []IndexEntry{
			{LogiPage: 5, PhysAddr: 100},
			{LogiPage: 5, PhysAddr: 200},
		},
	}
	if _, err := r.encode(); err == nil {
		t.Error("encode with duplicate logi_page: want error, got nil")
	}
}

func TestRevisionRecordDecodeRejectsMisalignedLogiAddr(t *testing.T) {
	r := &RevisionRecord{PageSize: 512, Entries: []IndexEntry{{LogiPage: 1, PhysAddr: 512}}}
	buf, err := r.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt the on-disk logi_addr to a non-page-aligned value while
	// leaving its entry checksum untouched, so the alignment check -- not
	// the checksum check -- is what fires.
	off := recordFixedSize
	buf[off] = 1 // logi_addr low byte now 1, no longer a multiple of 512
	entry := buf[off : off+16]
	sum := fletcher32(entry)
	buf[off+16] = byte(sum)
	buf[off+17] = byte(sum >> 8)
	buf[off+18] = byte(sum >> 16)
	buf[off+19] = byte(sum >> 24)
	// Recompute the overall checksum so only the alignment check fails.
	tailStart := off + recordEntrySize
	newSum := fletcher32(buf[:tailStart])
	buf[tailStart] = byte(newSum)
	buf[tailStart+1] = byte(newSum >> 8)
	buf[tailStart+2] = byte(newSum >> 16)
	buf[tailStart+3] = byte(newSum >> 24)

	if _, err := decodeRevisionRecord(buf, 1, 0, 0); err == nil {
		t.Error("decode with misaligned logi_addr: want error, got nil")
	}
}

func TestNulTerminatedRoundTrip(t *testing.T) {
	if got := fromNulTerminated(nulTerminated("")); got != "" {
		t.Errorf("round trip of empty string = %q, want empty", got)
	}
	if got := fromNulTerminated(nulTerminated("hello")); got != "hello" {
		t.Errorf("round trip = %q, want %q", got, "hello")
	}
}
