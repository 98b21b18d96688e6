package onion

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestVerifyingBackendPassesThroughOnMatch(t *testing.T) {
	root := openTestRoot(t)
	fb, err := OpenFileBackend(root, "v.bin", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFileBackend: %v", err)
	}
	defer fb.Close()

	v := NewVerifyingBackend(fb, IntegrityXXH3, newDiscardLogger(), "test")
	if err := v.WriteAt(0, []byte("abcdef")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 6)
	if err := v.ReadAt(0, buf); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "abcdef" {
		t.Errorf("read back %q, want %q", buf, "abcdef")
	}
}

// TestVerifyingBackendDetectsUnderlyingCorruption simulates storage-level
// bit rot: bytes change underneath the backend between write and read,
// something Fletcher-32 on the format's own records never sees because it
// doesn't cover arbitrary page bodies (SPEC_FULL §2, C10).
func TestVerifyingBackendDetectsUnderlyingCorruption(t *testing.T) {
	root := openTestRoot(t)
	fb, err := OpenFileBackend(root, "v2.bin", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("OpenFileBackend: %v", err)
	}
	defer fb.Close()

	v := NewVerifyingBackend(fb, IntegrityXXH3, newDiscardLogger(), "test")
	if err := v.WriteAt(0, []byte("abcdef")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	// Corrupt the underlying bytes directly, bypassing the digest cache.
	if err := fb.WriteAt(0, []byte("ZZZZZZ")); err != nil {
		t.Fatalf("direct WriteAt: %v", err)
	}
	buf := make([]byte, 6)
	if err := v.ReadAt(0, buf); err == nil {
		t.Error("ReadAt over corrupted bytes: want error, got nil")
	}
}

func TestDigestAlgorithms(t *testing.T) {
	data := []byte("payload")
	algs := []IntegrityAlg{IntegrityXXH3, IntegrityBlake2b, IntegrityFNV1a}
	seen := make(map[uint64]bool)
	for _, alg := range algs {
		d := digest(alg, data)
		if seen[d] {
			t.Errorf("algorithm %v produced a digest already seen from another algorithm: %#x", alg, d)
		}
		seen[d] = true
		if digest(alg, data) != d {
			t.Errorf("algorithm %v not deterministic", alg)
		}
	}
}
