//go:build !unix

package platform

func acquireFileLock(string) (FileLock, error) {
	return nil, ErrLockUnsupported
}
