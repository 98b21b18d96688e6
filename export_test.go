// Snapshot export tests (C9): round trip through zstd and the
// zero-length edge case.
package onion

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "doc", testConfig(512, true, true))
	if err != nil {
		t.Fatalf("create-truncate open: %v", err)
	}
	payload := bytes.Repeat([]byte("export-me "), 200) // spans multiple pages
	if err := db.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var out bytes.Buffer
	if err := db.Export(&out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec, err := zstd.NewReader(&out)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decompressed export = %d bytes, want %d bytes matching payload", len(got), len(payload))
	}
}

func TestExportEmptyFile(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "doc", testConfig(512, true, true))
	if err != nil {
		t.Fatalf("create-truncate open: %v", err)
	}
	defer db.Close()

	var out bytes.Buffer
	if err := db.Export(&out); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Len() == 0 {
		t.Error("Export of an empty logical file produced zero bytes, want a valid (empty) zstd frame")
	}

	dec, err := zstd.NewReader(&out)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decompressed empty export = %d bytes, want 0", len(got))
	}
}
