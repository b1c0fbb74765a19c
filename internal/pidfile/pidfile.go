// Package pidfile implements the octopus.pid lock (spec.md §6),
// adapted from the teacher's acquirePIDLock in internal/daemon/daemon.go.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// Acquire writes the current PID to path, refusing if another live
// process already holds it. A PID file referencing a dead process is
// treated as stale and silently replaced.
func Acquire(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another octopus instance is running (pid %d)", pid)
				}
			}
		}
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// Release removes the PID file. Safe to call even if it never existed.
func Release(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Read returns the PID recorded at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
