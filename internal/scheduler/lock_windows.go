//go:build windows

package scheduler

import (
	"errors"
	"os"
)

// FileLock keeps a second worker from running against the same queue
// directory. On Windows it relies on exclusive creation of the lock file.
type FileLock struct {
	path   string
	locked bool
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock reports false without error when another process holds the lock.
func (l *FileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := writeHolder(f); err != nil {
		f.Close()
		os.Remove(l.path)
		return false, err
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return false, err
	}
	l.locked = true
	return true, nil
}

// Unlock releases the lock and removes the lock file.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.locked = false
	return nil
}
