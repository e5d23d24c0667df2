package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientSpace is returned when the output volume is too full to
// start a new recording.
var ErrInsufficientSpace = errors.New("insufficient free disk space")

// RecordingExt is the extension of every recording file.
const RecordingExt = ".mp4"

// NewSessionPath returns a fresh, collision-free recording path in dir.
func NewSessionPath(dir string) string {
	return filepath.Join(dir, uuid.NewString()+RecordingExt)
}

// SessionID extracts the session identifier from a recording path.
func SessionID(recordingPath string) string {
	base := filepath.Base(recordingPath)
	return base[:len(base)-len(filepath.Ext(base))]
}

// CheckFreeSpace fails with ErrInsufficientSpace when the volume holding dir
// has fewer than minFree bytes available. minFree <= 0 disables the check.
func CheckFreeSpace(dir string, minFree int64) error {
	if minFree <= 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	if usage.Free < uint64(minFree) {
		return fmt.Errorf("%w: %d bytes free on %s, need %d", ErrInsufficientSpace, usage.Free, dir, minFree)
	}
	return nil
}
