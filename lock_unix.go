//go:build unix || linux || darwin

// flock(2) implementation for Unix platforms.
// Both methods are called with l.mu held by the exported Lock/Unlock.
package onion

import "syscall"

func (l *fileLock) lock(mode LockMode) error {
	op := syscall.LOCK_SH | syscall.LOCK_NB
	if mode == LockExclusive {
		op = syscall.LOCK_EX | syscall.LOCK_NB
	}
	// Non-blocking: the header write-lock flag is the cross-process
	// exclusion mechanism (§5); this is defense-in-depth and must fail
	// fast rather than wedge the process waiting on another holder.
	return syscall.Flock(int(l.f.Fd()), op)
}

func (l *fileLock) unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
