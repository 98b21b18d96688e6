// Header codec (C1). The header is the fixed 40-byte record at offset 0
// of every onion file: global metadata plus the pointer to the
// whole-history. It is written once at create-truncate open and rewritten
// in place on every commit (§3, §4.8).
package onion

import (
	"encoding/binary"
	"fmt"
)

const (
	headerMagic   = "OHDH"
	headerVersion = 1
	// HeaderSize is the fixed on-disk size of the header record.
	HeaderSize = 40
)

// Header flag bits (at most 24 bits used, per §3/§4.1).
const (
	FlagWriteLock        uint32 = 1 << 0
	FlagDivergentHistory uint32 = 1 << 1
	FlagPageAlignment    uint32 = 1 << 2

	knownFlagsMask uint32 = FlagWriteLock | FlagDivergentHistory | FlagPageAlignment
)

// Header is the global metadata block at the start of an onion file.
type Header struct {
	Flags            uint32
	PageSize         uint32
	OriginEOF        uint64
	WholeHistoryAddr uint64
	WholeHistorySize uint64
}

func (h *Header) writeLocked() bool      { return h.Flags&FlagWriteLock != 0 }
func (h *Header) divergentHistory() bool { return h.Flags&FlagDivergentHistory != 0 }
func (h *Header) pageAligned() bool      { return h.Flags&FlagPageAlignment != 0 }

// encode serialises the header into exactly HeaderSize bytes, including
// the trailing Fletcher-32 checksum over everything before it.
func (h *Header) encode() ([]byte, error) {
	if !validPageSize(h.PageSize) {
		return nil, newErr(KindBadArgument, "header.encode", fmt.Errorf("page size %d is not a valid power of two in range", h.PageSize))
	}
	if h.Flags&^knownFlagsMask != 0 {
		return nil, newErr(KindBadArgument, "header.encode", fmt.Errorf("unknown flag bits set: %#x", h.Flags))
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:4], headerMagic)
	buf[4] = headerVersion

	var flagWord [4]byte
	binary.LittleEndian.PutUint32(flagWord[:], h.Flags)
	copy(buf[5:8], flagWord[:3])

	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.OriginEOF)
	binary.LittleEndian.PutUint64(buf[20:28], h.WholeHistoryAddr)
	binary.LittleEndian.PutUint64(buf[28:36], h.WholeHistorySize)

	sum := fletcher32(buf[:36])
	binary.LittleEndian.PutUint32(buf[36:40], sum)

	return buf, nil
}

// decodeHeader parses a HeaderSize-byte buffer, verifying magic, version,
// and checksum.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) != HeaderSize {
		return nil, newErr(KindCorrupt, "header.decode", fmt.Errorf("expected %d bytes, got %d", HeaderSize, len(buf)))
	}
	if string(buf[0:4]) != headerMagic {
		return nil, newErr(KindCorrupt, "header.decode", fmt.Errorf("bad signature %q", buf[0:4]))
	}
	if buf[4] != headerVersion {
		return nil, newErr(KindCorrupt, "header.decode", fmt.Errorf("unsupported version %d", buf[4]))
	}

	wantSum := binary.LittleEndian.Uint32(buf[36:40])
	gotSum := fletcher32(buf[:36])
	if gotSum != wantSum {
		return nil, newErr(KindCorrupt, "header.decode", fmt.Errorf("checksum mismatch: got %#x want %#x", gotSum, wantSum))
	}

	var flagWord [4]byte
	copy(flagWord[:3], buf[5:8])
	flags := binary.LittleEndian.Uint32(flagWord[:])
	if flags&^knownFlagsMask != 0 {
		return nil, newErr(KindBadArgument, "header.decode", fmt.Errorf("unknown flag bits set: %#x", flags))
	}

	h := &Header{
		Flags:            flags,
		PageSize:         binary.LittleEndian.Uint32(buf[8:12]),
		OriginEOF:        binary.LittleEndian.Uint64(buf[12:20]),
		WholeHistoryAddr: binary.LittleEndian.Uint64(buf[20:28]),
		WholeHistorySize: binary.LittleEndian.Uint64(buf[28:36]),
	}
	if !validPageSize(h.PageSize) {
		return nil, newErr(KindCorrupt, "header.decode", fmt.Errorf("invalid page size %d", h.PageSize))
	}
	return h, nil
}
