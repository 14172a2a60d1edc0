package platform

import "errors"

// ErrLocked indicates another process holds the lock file.
var ErrLocked = errors.New("lock held by another process")

// ErrLockUnsupported indicates the current platform has no lock backend implementation.
var ErrLockUnsupported = errors.New("file lock unsupported")

// FileLock is an acquired advisory lock on a file.
type FileLock interface {
	Release() error
}

// AcquireFileLock takes an exclusive, non-blocking lock on path, creating
// the file if needed. The holder's PID is written into the file.
func AcquireFileLock(path string) (FileLock, error) {
	return acquireFileLock(path)
}
