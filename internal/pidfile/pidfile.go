// Package pidfile guards against two bridge processes attaching to the same
// state database: the second instance would race snapshot writes and double
// every chat send.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Acquire claims the pidfile at path for this process. If another live
// process already holds it, Acquire fails with its pid; a stale file left by
// a dead process is taken over. The returned release function removes the
// file.
func Acquire(path string) (release func(), err error) {
	if pid, alive := holder(path); alive {
		return nil, fmt.Errorf("another instance is running (pid %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pidfile directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pidfile: %w", err)
	}
	return func() {
		// Only remove our own claim.
		if pid, _ := holder(path); pid == os.Getpid() {
			_ = os.Remove(path)
		}
	}, nil
}

// holder reads the pid recorded at path and reports whether that process is
// still alive.
func holder(path string) (pid int, alive bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// Signal 0 probes existence without delivering anything.
	return pid, proc.Signal(syscall.Signal(0)) == nil
}
