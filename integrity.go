// Page-integrity backend wrapper (C10, supplements §6). Optional decorator
// around any Backend that remembers a digest of every written byte range
// and checks it back on a later read at the same offset/size. Fletcher-32
// (C1) only protects header/whole-history/revision-record bytes; page
// bodies are arbitrary payload and carry no on-disk checksum by design, so
// this catches storage-level bit-rot the format itself does not. Mirrors
// folio's hash.go three-algorithm switch, repurposed from label hashing to
// byte-range digests.
package onion

import (
	"hash/fnv"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// IntegrityAlg selects the digest used by VerifyingBackend.
type IntegrityAlg int

const (
	IntegrityXXH3 IntegrityAlg = iota // default, fastest
	IntegrityBlake2b
	IntegrityFNV1a // no external dependencies
)

func digest(alg IntegrityAlg, data []byte) uint64 {
	switch alg {
	case IntegrityBlake2b:
		h, _ := blake2b.New(8, nil)
		h.Write(data)
		sum := h.Sum(nil)
		var v uint64
		for _, b := range sum {
			v = v<<8 | uint64(b)
		}
		return v
	case IntegrityFNV1a:
		h := fnv.New64a()
		h.Write(data)
		return h.Sum64()
	default:
		return xxh3.Hash(data)
	}
}

type rangeDigest struct {
	size   int
	digest uint64
}

// VerifyingBackend wraps a Backend, recording a digest per written byte
// range and checking it back on a matching read. Off by default; the
// caller opts in via Config.VerifyIntegrity, and Config.IntegrityAlg picks
// the digest (IntegrityXXH3 when left zero).
type VerifyingBackend struct {
	Backend
	alg     IntegrityAlg
	log     *logrus.Logger
	name    string
	digests map[int64]rangeDigest
}

// NewVerifyingBackend wraps backend, logging mismatches through log under
// the given name (used to disambiguate canonical/onion/recovery streams in
// multi-backend sessions).
func NewVerifyingBackend(backend Backend, alg IntegrityAlg, log *logrus.Logger, name string) *VerifyingBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VerifyingBackend{
		Backend: backend,
		alg:     alg,
		log:     log,
		name:    name,
		digests: make(map[int64]rangeDigest),
	}
}

func (v *VerifyingBackend) WriteAt(offset int64, data []byte) error {
	if err := v.Backend.WriteAt(offset, data); err != nil {
		return err
	}
	v.digests[offset] = rangeDigest{size: len(data), digest: digest(v.alg, data)}
	return nil
}

func (v *VerifyingBackend) ReadAt(offset int64, buf []byte) error {
	if err := v.Backend.ReadAt(offset, buf); err != nil {
		return err
	}
	if want, ok := v.digests[offset]; ok && want.size == len(buf) {
		if got := digest(v.alg, buf); got != want.digest {
			v.log.WithFields(logrus.Fields{
				"backend": v.name,
				"offset":  offset,
				"size":    len(buf),
			}).Warn("onion: page-integrity digest mismatch")
			return newErr(KindCorrupt, "integrity.verify", ErrCorrupt)
		}
	}
	return nil
}
