// Open/commit orchestrator (C8). Dispatches to the three open variants in
// §4.8 (create-truncate, read-only, read-write-on-existing) and runs the
// commit protocol on close in write mode. Mirrors folio's db.go: os.Root
// sandboxing, a fileLock layered under the format's own write-lock flag as
// defense-in-depth, and logrus for the transitions folio itself never
// needed to log (folio has no multi-step commit; Onion's does).
package onion

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
)

// StoreTarget selects where a revision's history lives (§6). Only the
// sidecar target is implemented; canonical-embedded is reserved and always
// refused (§9 open question).
type StoreTarget int

const (
	StoreOnionSidecar StoreTarget = iota
	StoreCanonicalEmbedded
)

// RevisionLatest is the sentinel RevisionID meaning "most recently
// committed revision" (§6).
const RevisionLatest uint64 = ^uint64(0)

// Creation-flag bits accepted by Config.CreationFlags, independent of the
// on-disk header flag bits so callers never need to know FlagWriteLock
// exists.
const (
	CreateDivergentHistory uint32 = 1 << 0
	CreatePageAlignment    uint32 = 1 << 1

	knownCreationFlags = CreateDivergentHistory | CreatePageAlignment
)

// Config configures one Open call (§6). §6 explicitly scopes the
// embedding library's property-list plumbing out of the engine; this is a
// plain struct the embedder fills in directly, the way folio's Config is.
type Config struct {
	PageSize      uint32
	StoreTarget   StoreTarget
	RevisionID    uint64 // explicit id, or RevisionLatest; ignored on Create
	CreationFlags uint32 // only meaningful on Create
	Comment       string

	Create   bool // create-truncate open
	Writable bool // read-write-on-existing open (ignored when Create)

	IntegrityAlg    IntegrityAlg
	VerifyIntegrity bool
	Logger          *logrus.Logger
}

// RevisionSummary is a read-only projection of one revision's metadata
// (SPEC_FULL §3, used by onion-inspect's "log" subcommand).
type RevisionSummary struct {
	RevisionID       uint64
	ParentRevisionID uint64
	TimeOfCreation   string
	LogiEOF          uint64
	UserID           uint32
	Username         string
	Comment          string
}

// DB is one open onion file session; it exclusively owns the in-memory
// header, whole-history, mutable revision record, live revision index, and
// recovery-file path for the duration of the open (§3 Ownership).
type DB struct {
	root *os.Root
	name string

	canonical Backend
	onion     Backend
	lock      *fileLock

	header       *Header
	wholeHistory *WholeHistory
	record       *RevisionRecord
	archival     *ArchivalIndex
	revIndex     *RevisionIndex

	writable   bool
	closed     bool
	pageSize   uint32
	pageLog2   uint
	originEOF  uint64
	logiEOF    uint64
	logiEOA    uint64
	historyEOF int64

	recoveryPath string
	log          *logrus.Logger
}

// LockMode selects shared (read) or exclusive (write) locking for fileLock.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// fileLock coordinates OS-level flock/LockFileEx locking (lock_unix.go,
// lock_windows.go) with safe handle teardown: it is the defense-in-depth
// layer underneath the header write-lock flag that ingestForOpen checks
// (§5). The mu field serialises flock syscalls against setFile so that a
// concurrent Close cannot invalidate the fd mid-syscall.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

// Lock acquires a shared or exclusive flock. Returns nil immediately
// if the handle has been cleared via setFile(nil).
func (l *fileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.lock(mode)
}

// Unlock releases the flock. Returns nil immediately if the handle
// has been cleared via setFile(nil).
func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying file handle. Passing nil drains any
// in-flight flock (blocks until the mutex is available) and disables
// further locking. Used by closeReadOnly and commitAndClose before
// closing the fd.
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}

// Open opens or creates the onion file for the canonical file named name
// inside dir.
func Open(dir, name string, cfg Config) (*DB, error) {
	if cfg.StoreTarget == StoreCanonicalEmbedded {
		return nil, newErr(KindUnsupported, "open", ErrUnsupportedTarget)
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, newErr(KindIoError, "open", err)
	}

	onionName, recoveryName := onionPath(name), recoveryPath(name)

	if cfg.Create {
		db, err := createTruncate(root, name, onionName, recoveryName, cfg, log)
		if err != nil {
			root.Close()
			return nil, err
		}
		return db, nil
	}

	if _, statErr := root.Stat(onionName); os.IsNotExist(statErr) {
		root.Close()
		return nil, newErr(KindIoError, "open", fmt.Errorf("onion file %q does not exist; create-truncate open required", onionName))
	}

	var db *DB
	if cfg.Writable {
		db, err = openReadWrite(root, name, onionName, recoveryName, cfg, log)
	} else {
		db, err = openReadOnly(root, name, onionName, cfg, log)
	}
	if err != nil {
		root.Close()
		return nil, err
	}
	return db, nil
}

// onionPath and recoveryPath implement the backing-file naming rule (§6):
// given canonical path P, onion path is P.onion, recovery path is
// P.onion.recovery.
func onionPath(name string) string    { return name + ".onion" }
func recoveryPath(name string) string { return name + ".onion.recovery" }

func currentUser() (uint32, string) {
	uid := uint32(os.Getuid())
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return uid, username
}

func wrapIntegrity(fb *FileBackend, cfg Config, log *logrus.Logger, name string) Backend {
	if !cfg.VerifyIntegrity {
		return fb
	}
	return NewVerifyingBackend(fb, cfg.IntegrityAlg, log, name)
}

func closeAll(backends ...Backend) {
	for _, b := range backends {
		if b != nil {
			b.Close()
		}
	}
}

// createTruncate implements "Open, create-truncate" (§4.8).
func createTruncate(root *os.Root, name, onionName, recoveryName string, cfg Config, log *logrus.Logger) (*DB, error) {
	if !validPageSize(cfg.PageSize) {
		return nil, newErr(KindBadArgument, "open.create", fmt.Errorf("page size %d is not a valid power of two in range", cfg.PageSize))
	}
	if cfg.CreationFlags&^knownCreationFlags != 0 {
		return nil, newErr(KindBadArgument, "open.create", fmt.Errorf("unknown creation flag bits: %#x", cfg.CreationFlags))
	}

	flags := FlagWriteLock
	if cfg.CreationFlags&CreateDivergentHistory != 0 {
		flags |= FlagDivergentHistory
	}
	if cfg.CreationFlags&CreatePageAlignment != 0 {
		flags |= FlagPageAlignment
	}

	uid, username := currentUser()

	canonicalFB, err := OpenFileBackend(root, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	onionFB, err := OpenFileBackend(root, onionName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		closeAll(canonicalFB)
		return nil, err
	}

	lock := &fileLock{f: onionFB.f}
	if err := lock.Lock(LockExclusive); err != nil {
		closeAll(canonicalFB, onionFB)
		return nil, newErr(KindIoError, "open.create", err)
	}

	canonical := wrapIntegrity(canonicalFB, cfg, log, "canonical")
	onionB := wrapIntegrity(onionFB, cfg, log, "onion")

	if err := canonical.WriteAt(0, []byte("ONIONEOF")); err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}

	wh := &WholeHistory{}
	whBuf, err := wh.encode()
	if err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}
	if err := atomicWriteRecovery(root, recoveryName, whBuf); err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}

	// The canonical file was just truncated; the ONIONEOF sentinel is not
	// logical content, so origin_eof is 0 and fresh pages read as zero.
	header := &Header{Flags: flags, PageSize: cfg.PageSize, OriginEOF: 0}
	if err := writeHeader(onionB, header); err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}

	historyEOF := int64(HeaderSize)
	if header.pageAligned() {
		historyEOF = int64(pageAlign(uint64(historyEOF), cfg.PageSize))
	}

	record := &RevisionRecord{
		PageSize: cfg.PageSize,
		UserID:   uid,
		Username: username,
		Comment:  cfg.Comment,
	}

	db := &DB{
		root:         root,
		name:         name,
		canonical:    canonical,
		onion:        onionB,
		lock:         lock,
		header:       header,
		wholeHistory: wh,
		record:       record,
		archival:     &ArchivalIndex{PageLog2: pageLog2(cfg.PageSize), List: []IndexEntry{}},
		revIndex:     newRevisionIndex(),
		writable:     true,
		pageSize:     cfg.PageSize,
		pageLog2:     pageLog2(cfg.PageSize),
		originEOF:    0,
		logiEOF:      0,
		// A write session's addressable range is unbounded, so the range
		// check in Write (§4.7) never caps how far a write session may
		// extend the logical file; read-only sessions are refused by
		// Write's writable check. logi_eoa is only a fixed bound once a
		// revision is committed and reopened read-only, where it is the
		// end of the page holding that revision's logi_eof.
		logiEOA:      math.MaxUint64,
		historyEOF:   historyEOF,
		recoveryPath: recoveryName,
		log:          log,
	}
	log.WithFields(logrus.Fields{"path": onionName, "page_size": cfg.PageSize}).Debug("onion: created")
	return db, nil
}

// ingestForOpen performs the shared ingest steps of the two open-on-
// existing variants: header (refusing a write-locked file), whole-history,
// and the target revision record, per the "Open, read-only" steps in §4.8.
func ingestForOpen(onionB Backend, cfg Config) (*Header, *WholeHistory, *RevisionRecord, error) {
	header, err := ingestHeader(onionB)
	if err != nil {
		return nil, nil, nil, err
	}
	if header.writeLocked() {
		return nil, nil, nil, newErr(KindUnsupported, "open", ErrWriteLocked)
	}

	wh, err := ingestWholeHistory(onionB, int64(header.WholeHistoryAddr), int64(header.WholeHistorySize))
	if err != nil {
		return nil, nil, nil, err
	}

	n := uint64(len(wh.Records))
	revID := cfg.RevisionID
	if revID == RevisionLatest {
		if n == 0 {
			return nil, nil, nil, newErr(KindBadArgument, "open", ErrRevisionNotFound)
		}
		revID = n - 1
	}
	if revID >= n {
		return nil, nil, nil, newErr(KindBadArgument, "open", ErrRevisionNotFound)
	}

	ptr := wh.Records[revID]
	record, err := ingestRevisionRecord(onionB, int64(ptr.PhysAddr), int64(ptr.RecordSize))
	if err != nil {
		return nil, nil, nil, err
	}
	return header, wh, record, nil
}

// historyEOFFrom computes history_eof from the onion backend's current
// end-of-addressable, page-aligned if the header flag is set (§4.8).
func historyEOFFrom(onionB Backend, header *Header) int64 {
	eof := onionB.EOA()
	if header.pageAligned() {
		eof = int64(pageAlign(uint64(eof), header.PageSize))
	}
	return eof
}

// openReadOnly implements "Open, read-only" (§4.8). logi_eoa is set to
// logi_eof rounded up to a whole page rather than the literal "0" in
// §4.8's prose: read-only with logi_eoa=0 would reject every read,
// contradicting S1 (a 512-byte read of a 5-byte revision right after a
// read-only reopen, with bytes past logi_eof reading as zero). A read past
// the end of the page holding logi_eof is rejected.
func openReadOnly(root *os.Root, name, onionName string, cfg Config, log *logrus.Logger) (*DB, error) {
	canonicalFB, err := OpenFileBackend(root, name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	onionFB, err := OpenFileBackend(root, onionName, os.O_RDONLY, 0)
	if err != nil {
		closeAll(canonicalFB)
		return nil, err
	}

	canonical := wrapIntegrity(canonicalFB, cfg, log, "canonical")
	onionB := wrapIntegrity(onionFB, cfg, log, "onion")

	// The header write-lock flag (checked inside ingestForOpen) is the
	// authoritative cross-process exclusion mechanism and must be checked
	// before the OS-level flock below: flock is defense-in-depth, and
	// reading it first means a held write-lock always surfaces as
	// ErrWriteLocked rather than racing a non-blocking flock failure.
	header, wh, record, err := ingestForOpen(onionB, cfg)
	if err != nil {
		closeAll(canonical, onionB)
		return nil, err
	}

	lock := &fileLock{f: onionFB.f}
	if err := lock.Lock(LockShared); err != nil {
		closeAll(canonical, onionB)
		return nil, newErr(KindIoError, "open.readonly", err)
	}

	db := &DB{
		root:         root,
		name:         name,
		canonical:    canonical,
		onion:        onionB,
		lock:         lock,
		header:       header,
		wholeHistory: wh,
		record:       record,
		archival:     &ArchivalIndex{PageLog2: pageLog2(header.PageSize), List: record.Entries},
		writable:     false,
		pageSize:     header.PageSize,
		pageLog2:     pageLog2(header.PageSize),
		originEOF:    header.OriginEOF,
		logiEOF:      record.LogiEOF,
		logiEOA:      pageAlign(record.LogiEOF, header.PageSize),
		historyEOF:   historyEOFFrom(onionB, header),
		log:          log,
	}
	log.WithFields(logrus.Fields{"path": onionName, "revision_id": record.RevisionID}).Debug("onion: opened read-only")
	return db, nil
}

// openReadWrite implements "Open, read-write on existing" (§4.8): the
// read-only steps to resolve the parent revision, then the crash-recovery
// anchor, write-lock flag, fresh revision index, and revision_id bump.
func openReadWrite(root *os.Root, name, onionName, recoveryName string, cfg Config, log *logrus.Logger) (*DB, error) {
	canonicalFB, err := OpenFileBackend(root, name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	onionFB, err := OpenFileBackend(root, onionName, os.O_RDWR, 0)
	if err != nil {
		closeAll(canonicalFB)
		return nil, err
	}

	canonical := wrapIntegrity(canonicalFB, cfg, log, "canonical")
	onionB := wrapIntegrity(onionFB, cfg, log, "onion")

	// See openReadOnly: the header write-lock flag is checked before the
	// OS-level flock is even acquired, so a second read-write attempt
	// against an already write-locked file always refuses with
	// ErrWriteLocked instead of blocking or racing on flock.
	header, wh, parent, err := ingestForOpen(onionB, cfg)
	if err != nil {
		closeAll(canonical, onionB)
		return nil, err
	}

	lock := &fileLock{f: onionFB.f}
	if err := lock.Lock(LockExclusive); err != nil {
		closeAll(canonical, onionB)
		return nil, newErr(KindIoError, "open.readwrite", err)
	}

	whBuf, err := wh.encode()
	if err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}
	if err := atomicWriteRecovery(root, recoveryName, whBuf); err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}

	header.Flags |= FlagWriteLock
	if err := writeHeader(onionB, header); err != nil {
		lock.Unlock()
		closeAll(canonical, onionB)
		return nil, err
	}

	uid, username := currentUser()
	record := &RevisionRecord{
		RevisionID:       parent.RevisionID + 1,
		ParentRevisionID: parent.RevisionID,
		LogiEOF:          parent.LogiEOF,
		PageSize:         header.PageSize,
		UserID:           uid,
		Username:         username,
		Comment:          cfg.Comment,
	}

	db := &DB{
		root:         root,
		name:         name,
		canonical:    canonical,
		onion:        onionB,
		lock:         lock,
		header:       header,
		wholeHistory: wh,
		record:       record,
		archival:     &ArchivalIndex{PageLog2: pageLog2(header.PageSize), List: parent.Entries},
		revIndex:     newRevisionIndex(),
		writable:     true,
		pageSize:     header.PageSize,
		pageLog2:     pageLog2(header.PageSize),
		originEOF:    header.OriginEOF,
		logiEOF:      parent.LogiEOF,
		// See createTruncate: a write session's addressable range is
		// unbounded so it can always extend past the parent revision's
		// logi_eof.
		logiEOA:      math.MaxUint64,
		historyEOF:   historyEOFFrom(onionB, header),
		recoveryPath: recoveryName,
		log:          log,
	}
	log.WithFields(logrus.Fields{"path": onionName, "revision_id": record.RevisionID, "parent_revision_id": parent.RevisionID}).Debug("onion: opened read-write")
	return db, nil
}

// atomicWriteRecovery replaces the recovery file's full contents in one
// atomic rename, so a crash mid-write never leaves a torn recovery file.
func atomicWriteRecovery(root *os.Root, recoveryName string, data []byte) error {
	path := filepath.Join(root.Name(), recoveryName)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return newErr(KindIoError, "recovery.write", err)
	}
	return nil
}

func timeStamp() [16]byte {
	var b [16]byte
	copy(b[:], time.Now().UTC().Format("20060102T150405Z"))
	return b
}

// checkOpen rejects any operation on a closed DB.
func (db *DB) checkOpen() error {
	if db.closed {
		return newErr(KindUnsupported, "checkOpen", ErrClosed)
	}
	return nil
}

// Close commits the in-progress revision (write mode) or simply releases
// resources (read-only mode).
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	if !db.writable {
		return db.closeReadOnly()
	}
	return db.commitAndClose()
}

func (db *DB) closeReadOnly() error {
	db.lock.Unlock()
	db.lock.setFile(nil)

	var firstErr error
	if err := db.onion.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.canonical.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.root.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closed = true
	if firstErr != nil {
		return newErr(KindIoError, "close", firstErr)
	}
	return nil
}

// commitAndClose runs the commit protocol (§4.8 "Commit"). Any failure at
// step (c) or later leaves the header's write-lock flag set, so the next
// opener recognizes the dirty close and refuses read access (§4.8, §7).
func (db *DB) commitAndClose() error {
	db.record.TimeOfCreation = timeStamp()
	db.record.Entries = mergeIndexes(db.revIndex, db.archival)
	db.record.LogiEOF = db.logiEOF

	recordAddr := db.historyEOF
	recordSize, err := writeRevisionRecord(db.onion, recordAddr, db.record)
	if err != nil {
		db.log.WithError(err).Warn("onion: commit failed writing revision record, write-lock left set")
		return err
	}
	db.historyEOF = recordAddr + recordSize
	if db.header.pageAligned() {
		db.historyEOF = int64(pageAlign(uint64(db.historyEOF), db.header.PageSize))
	}

	db.wholeHistory.Records = append(db.wholeHistory.Records, RecordPointer{
		PhysAddr:   uint64(recordAddr),
		RecordSize: uint64(recordSize),
	})

	historyAddr := db.historyEOF
	historySize, err := writeWholeHistory(db.onion, historyAddr, db.wholeHistory)
	if err != nil {
		db.log.WithError(err).Warn("onion: commit failed writing whole-history, write-lock left set")
		return err
	}
	db.header.WholeHistoryAddr = uint64(historyAddr)
	db.header.WholeHistorySize = uint64(historySize)

	db.header.Flags &^= FlagWriteLock
	if err := writeHeader(db.onion, db.header); err != nil {
		db.log.WithError(err).Warn("onion: commit failed rewriting header, write-lock left set")
		return err
	}

	if err := db.root.Remove(db.recoveryPath); err != nil && !os.IsNotExist(err) {
		db.log.WithError(err).Warn("onion: failed to remove recovery file after clean commit")
	}

	db.lock.Unlock()
	db.lock.setFile(nil)

	var firstErr error
	if err := db.onion.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.canonical.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.root.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closed = true

	db.log.WithFields(logrus.Fields{"revision_id": db.record.RevisionID}).Debug("onion: committed")
	if firstErr != nil {
		return newErr(KindIoError, "close", firstErr)
	}
	return nil
}

// Revisions lists every committed revision, plus the in-progress one when
// open for write (SPEC_FULL §3).
func (db *DB) Revisions() ([]RevisionSummary, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]RevisionSummary, 0, len(db.wholeHistory.Records)+1)
	for _, ptr := range db.wholeHistory.Records {
		rec, err := ingestRevisionRecord(db.onion, int64(ptr.PhysAddr), int64(ptr.RecordSize))
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(rec))
	}
	if db.writable {
		s := summarize(db.record)
		s.LogiEOF = db.logiEOF
		out = append(out, s)
	}
	return out, nil
}

func summarize(r *RevisionRecord) RevisionSummary {
	return RevisionSummary{
		RevisionID:       r.RevisionID,
		ParentRevisionID: r.ParentRevisionID,
		TimeOfCreation:   string(r.TimeOfCreation[:]),
		LogiEOF:          r.LogiEOF,
		UserID:           r.UserID,
		Username:         r.Username,
		Comment:          r.Comment,
	}
}
