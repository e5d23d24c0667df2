// Package pidfile keeps a single daemon instance per state directory.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tiroq/scenerec/internal/ipc"
)

// ErrRunning is returned by New while the recorded process is alive.
var ErrRunning = errors.New("another instance is already running")

// PIDFile is the lock held by the running daemon.
type PIDFile struct {
	path string
	pid  int
}

// New claims path for the current process. A file left behind by a dead
// process is replaced; one naming a live process yields ErrRunning.
func New(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	if pid, err := readPID(path); err == nil {
		if alive(pid) {
			return nil, fmt.Errorf("%w (PID %d)", ErrRunning, pid)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale pid file: %w", err)
		}
	}

	self := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(self)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDFile{path: path, pid: self}, nil
}

// Remove deletes the file if it still names this process.
func (p *PIDFile) Remove() error {
	if p == nil {
		return nil
	}
	if pid, err := readPID(p.path); err == nil && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// GetPIDFilePath returns the pid file for appName, next to the daemon's
// command and status files.
func GetPIDFilePath(appName string) string {
	return filepath.Join(ipc.Dir(), appName+".pid")
}

// ReadPID returns the PID recorded at path and whether that process is alive.
func ReadPID(path string) (int, bool) {
	pid, err := readPID(path)
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
