// Raw-I/O backend (§6). The engine treats canonical/onion/recovery bytes
// purely through this interface; everything above it is backend-agnostic.
// FileBackend is the one concrete implementation this module ships,
// sandboxed under os.Root the way folio's DB borrows root *os.Root (§6,
// C5).
package onion

import (
	"fmt"
	"io"
	"os"
)

// Backend is the pluggable raw-I/O interface consumed by this system
// (§6). get_eof/get_eoa/set_eoa map to EOF/EOA/SetEOA.
type Backend interface {
	ReadAt(offset int64, buf []byte) error
	WriteAt(offset int64, data []byte) error
	EOF() (int64, error)
	EOA() int64
	SetEOA(int64) error
	Close() error
}

// FileBackend is a Backend over a single *os.File, opened beneath an
// os.Root so paths cannot escape the directory the engine was told to
// operate in.
type FileBackend struct {
	f   *os.File
	eoa int64
}

// OpenFileBackend opens name beneath root with the given flags, creating
// it if O_CREATE is set. The end-of-addressable starts equal to the
// current file size.
func OpenFileBackend(root *os.Root, name string, flags int, perm os.FileMode) (*FileBackend, error) {
	f, err := root.OpenFile(name, flags, perm)
	if err != nil {
		return nil, newErr(KindIoError, "backend.open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr(KindIoError, "backend.open", err)
	}
	return &FileBackend{f: f, eoa: info.Size()}, nil
}

func (b *FileBackend) ReadAt(offset int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	_, err := b.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return newErr(KindIoError, "backend.read", err)
	}
	return nil
}

func (b *FileBackend) WriteAt(offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := b.f.WriteAt(data, offset)
	if err != nil {
		return newErr(KindIoError, "backend.write", err)
	}
	if end := offset + int64(len(data)); end > b.eoa {
		b.eoa = end
	}
	return nil
}

func (b *FileBackend) EOF() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, newErr(KindIoError, "backend.stat", err)
	}
	return info.Size(), nil
}

func (b *FileBackend) EOA() int64 { return b.eoa }

func (b *FileBackend) SetEOA(addr int64) error {
	if addr < 0 {
		return newErr(KindBadArgument, "backend.setEOA", fmt.Errorf("negative address %d", addr))
	}
	b.eoa = addr
	return nil
}

func (b *FileBackend) Close() error {
	if err := b.f.Close(); err != nil {
		return newErr(KindIoError, "backend.close", err)
	}
	return nil
}

// Sync flushes to stable storage. It is not part of the Backend interface,
// and the commit path in db.go does not call it.
func (b *FileBackend) Sync() error {
	if err := b.f.Sync(); err != nil {
		return newErr(KindIoError, "backend.sync", err)
	}
	return nil
}
