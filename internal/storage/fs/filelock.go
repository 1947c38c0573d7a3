package fs

import (
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileLock is an exclusive flock on a sidecar file. It serializes schema
// file writes across processes; within one process the guard is per file
// descriptor, so each writer acquires its own lock.
type FileLock struct {
	path string
	file *os.File
}

// AcquireFileLock blocks until the lock on path is held.
func AcquireFileLock(path string) (*FileLock, error) {
	return AcquireFileLockWithTimeout(path, 0)
}

// AcquireFileLockWithTimeout polls for the lock until timeout and returns
// os.ErrDeadlineExceeded once it passes. A timeout of zero blocks
// indefinitely. The lock file and its parent directory are created as
// needed.
func AcquireFileLockWithTimeout(path string, timeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
			_ = file.Close()
			return nil, err
		}
		return &FileLock{path: path, file: file}, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			_ = file.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return nil, os.ErrDeadlineExceeded
		}
		time.Sleep(50 * time.Millisecond)
	}
	return &FileLock{path: path, file: file}, nil
}

// Release unlocks and closes the lock file. Releasing a nil or already
// released lock is a no-op.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
