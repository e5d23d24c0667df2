package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot represents the daemon state at a point in time
type StatusSnapshot struct {
	State          string    `json:"state"`           // Recorder state
	Microphone     string    `json:"microphone"`      // Cached permission decision
	Finalizing     bool      `json:"finalizing"`      // A session is being finalized
	SessionPath    string    `json:"session_path"`    // Current or last session file
	WriterStatus   string    `json:"writer_status"`   // Writer state of that session
	StartedAt      time.Time `json:"started_at"`      // Session start
	DurationMs     int64     `json:"duration_ms"`     // Recorded time excluding pauses
	FramesWritten  uint64    `json:"frames_written"`  // Video samples in the file
	FramesDropped  uint64    `json:"frames_dropped"`  // Frames lost to backpressure or pause
	AudioWritten   uint64    `json:"audio_written"`   // Audio buffers in the file
	NotReadyTicks  uint64    `json:"not_ready_ticks"` // Ticks skipped because the writer was busy
	Sessions       uint64    `json:"sessions"`        // Sessions opened since start
	LastAction     string    `json:"last_action"`     // Last command handled
	LastError      string    `json:"last_error"`      // Last error message
	LastRecording  string    `json:"last_recording"`  // Last successfully written file
	LastExport     string    `json:"last_export"`     // Destination of the last export
	Timestamp      time.Time `json:"timestamp"`       // Snapshot time
	PID            int       `json:"pid"`             // Daemon process
	StatusFeedAddr string    `json:"status_feed_addr,omitempty"`
}

// StatusPath is where the daemon publishes its snapshot.
func StatusPath() string {
	return filepath.Join(Dir(), "status.json")
}

// WriteStatus persists StatusSnapshot using atomic write
func WriteStatus(status *StatusSnapshot) error {
	if err := os.MkdirAll(Dir(), 0755); err != nil {
		return err
	}
	return atomicWriteJSON(StatusPath(), status)
}

// ReadStatus loads the last published StatusSnapshot
func ReadStatus() (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath())
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	// Sync to disk before rename
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	return os.Rename(tmpPath, path)
}
