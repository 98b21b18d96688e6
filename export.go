// Snapshot export (C9, additive, SPEC_FULL §2). Materializes the complete
// logical file as seen by this session through the ordinary read path (C6)
// and streams it through a zstd encoder. This never touches page storage,
// so it cannot violate the page-alignment invariants of §3/§8-S6 — it is a
// pure consumer of Read.
package onion

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

const exportChunkSize = 1 << 20

// Export streams a zstd-compressed copy of this session's logical file,
// offset 0 through logi_eof, to w. A zero-length logical file produces an
// empty zstd frame.
func (db *DB) Export(w io.Writer) error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return newErr(KindIoError, "export", err)
	}

	buf := make([]byte, exportChunkSize)
	remaining := db.logiEOF
	offset := uint64(0)

	for remaining > 0 {
		n := uint64(exportChunkSize)
		if remaining < n {
			n = remaining
		}
		if err := db.Read(offset, buf[:n]); err != nil {
			enc.Close()
			return err
		}
		if _, err := enc.Write(buf[:n]); err != nil {
			enc.Close()
			return newErr(KindIoError, "export", err)
		}
		offset += n
		remaining -= n
	}

	if err := enc.Close(); err != nil {
		return newErr(KindIoError, "export", err)
	}
	return nil
}
