// Onion-file I/O (C5). Ingest routines read, decode, and checksum-verify
// the fixed records (header, whole-history, revision record); write
// routines encode into a transient buffer and hand it to the backend.
// Every ingest bounds-checks against EOF and extends EOA to cover what it
// read (§4.5).
package onion

import "fmt"

// ingestHeader reads and decodes the HeaderSize-byte header at offset 0.
func ingestHeader(b Backend) (*Header, error) {
	eof, err := b.EOF()
	if err != nil {
		return nil, err
	}
	if HeaderSize > eof {
		return nil, newErr(KindIoError, "ingest.header", fmt.Errorf("file too small for header: %d bytes", eof))
	}

	buf := make([]byte, HeaderSize)
	if err := b.ReadAt(0, buf); err != nil {
		return nil, err
	}
	if err := b.SetEOA(max64(b.EOA(), HeaderSize)); err != nil {
		return nil, err
	}

	return decodeHeader(buf)
}

// writeHeader encodes and writes h at offset 0.
func writeHeader(b Backend, h *Header) error {
	buf, err := h.encode()
	if err != nil {
		return err
	}
	if err := b.WriteAt(0, buf); err != nil {
		return err
	}
	return b.SetEOA(max64(b.EOA(), int64(len(buf))))
}

// ingestWholeHistory reads and decodes the whole-history at addr, whose
// encoded size is size bytes (from header.WholeHistorySize).
func ingestWholeHistory(b Backend, addr int64, size int64) (*WholeHistory, error) {
	eof, err := b.EOF()
	if err != nil {
		return nil, err
	}
	if addr+size > eof {
		return nil, newErr(KindIoError, "ingest.history", fmt.Errorf("whole-history at %d+%d exceeds file size %d", addr, size, eof))
	}

	head := make([]byte, historyFixedSize)
	if err := b.ReadAt(addr, head); err != nil {
		return nil, err
	}
	n, totalSize, err := decodeWholeHistoryHeader(head)
	if err != nil {
		return nil, err
	}
	if totalSize != size {
		return nil, newErr(KindCorrupt, "ingest.history", fmt.Errorf("header n_revisions=%d implies size %d, header.WholeHistorySize says %d", n, totalSize, size))
	}

	full := make([]byte, totalSize)
	if err := b.ReadAt(addr, full); err != nil {
		return nil, err
	}
	if err := b.SetEOA(max64(b.EOA(), addr+totalSize)); err != nil {
		return nil, err
	}

	return decodeWholeHistory(full, n)
}

// writeWholeHistory encodes and writes wh starting at addr, returning its
// encoded size.
func writeWholeHistory(b Backend, addr int64, wh *WholeHistory) (int64, error) {
	buf, err := wh.encode()
	if err != nil {
		return 0, err
	}
	if err := b.WriteAt(addr, buf); err != nil {
		return 0, err
	}
	if err := b.SetEOA(max64(b.EOA(), addr+int64(len(buf)))); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}

// ingestRevisionRecord reads and decodes the revision record at addr,
// whose encoded size is size bytes (from the matching RecordPointer).
func ingestRevisionRecord(b Backend, addr int64, size int64) (*RevisionRecord, error) {
	eof, err := b.EOF()
	if err != nil {
		return nil, err
	}
	if addr+size > eof {
		return nil, newErr(KindIoError, "ingest.record", fmt.Errorf("revision record at %d+%d exceeds file size %d", addr, size, eof))
	}

	head := make([]byte, recordFixedSize)
	if err := b.ReadAt(addr, head); err != nil {
		return nil, err
	}
	nEntries, usernameSize, commentSize, totalSize, err := decodeRevisionRecordHeader(head)
	if err != nil {
		return nil, err
	}
	if totalSize != size {
		return nil, newErr(KindCorrupt, "ingest.record", fmt.Errorf("header implies size %d, record pointer says %d", totalSize, size))
	}

	full := make([]byte, totalSize)
	if err := b.ReadAt(addr, full); err != nil {
		return nil, err
	}
	if err := b.SetEOA(max64(b.EOA(), addr+totalSize)); err != nil {
		return nil, err
	}

	return decodeRevisionRecord(full, nEntries, usernameSize, commentSize)
}

// writeRevisionRecord encodes and appends r at addr, returning its encoded
// size.
func writeRevisionRecord(b Backend, addr int64, r *RevisionRecord) (int64, error) {
	buf, err := r.encode()
	if err != nil {
		return 0, err
	}
	if err := b.WriteAt(addr, buf); err != nil {
		return 0, err
	}
	if err := b.SetEOA(max64(b.EOA(), addr+int64(len(buf)))); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
