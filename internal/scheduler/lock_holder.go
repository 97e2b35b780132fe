package scheduler

import (
	"os"
	"strconv"
	"strings"
)

// Holder returns the pid of the worker holding the lock, or 0 when the lock
// file is missing or carries no pid.
func (l *FileLock) Holder() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func writeHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}
