package diaglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultMaxSize = 10 * 1024 * 1024
	DefaultBackups = 1
)

// rotatingFile appends NDJSON lines to path and, once the next line would
// push it past maxSize, shifts it to path.1 (path.1 to path.2 and so on,
// dropping the oldest). A line is never split across generations.
type rotatingFile struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	backups int
	f       *os.File
	size    int64
}

func openRotating(path string, maxSize int64, backups int) (*rotatingFile, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if backups < 0 {
		backups = 0
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create diag directory: %w", err)
	}
	rf := &rotatingFile{path: path, maxSize: maxSize, backups: backups}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.size > 0 && rf.size+int64(len(p)) > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("rotate diag log: %w", err)
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	if err != nil {
		return n, err
	}
	// a crash must not lose the events leading up to it
	_ = rf.f.Sync()
	return n, nil
}

func (rf *rotatingFile) close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	_ = rf.f.Sync()
	return rf.f.Close()
}

func (rf *rotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	rf.f = f
	rf.size = info.Size()
	return nil
}

func (rf *rotatingFile) rotate() error {
	_ = rf.f.Close()
	if rf.backups == 0 {
		if err := os.Truncate(rf.path, 0); err != nil {
			return err
		}
		return rf.open()
	}
	_ = os.Remove(rf.generation(rf.backups))
	for i := rf.backups; i >= 2; i-- {
		_ = os.Rename(rf.generation(i-1), rf.generation(i))
	}
	if err := os.Rename(rf.path, rf.generation(1)); err != nil {
		return err
	}
	return rf.open()
}

// generation returns the path of the n-th older file; 0 is the live one.
func (rf *rotatingFile) generation(n int) string {
	if n == 0 {
		return rf.path
	}
	return fmt.Sprintf("%s.%d", rf.path, n)
}
