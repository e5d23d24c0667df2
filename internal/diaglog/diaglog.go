// Package diaglog provides structured NDJSON diagnostic logging for the
// recorder. Activated by SCENEREC_DEBUG_RECORDING=true. When the env var is
// absent, all Log calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// DebugEnv is the environment variable that enables diagnostic logging.
const DebugEnv = "SCENEREC_DEBUG_RECORDING"

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentController = "recorder-controller"
	ComponentWriter     = "container-writer"
	ComponentAudio      = "audio-capture"
	ComponentExport     = "export-sink"
	ComponentDaemon     = "scenerec-daemon"
	ComponentDiagExport = "diag-export"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventRecordingStart     = "recording_start"
	EventRecordingPause     = "recording_pause"
	EventRecordingResume    = "recording_resume"
	EventRecordingStop      = "recording_stop"
	EventRecordingFailed    = "recording_failed"
	EventRecordingEnded     = "recording_ended"
	EventStopIgnored        = "stop_ignored"
	EventSessionOpen        = "session_open"
	EventSessionFinalize    = "session_finalize"
	EventWriterFailed       = "writer_failed"
	EventFrameDropped       = "frame_dropped"
	EventMicPermission      = "mic_permission"
	EventExportStart        = "export_start"
	EventExportDone         = "export_done"
	EventExportUnauthorized = "export_unauthorized"
	EventCommandReceived    = "command_received"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`        // RFC3339Nano
	Component string      `json:"component"` // see Component* constants
	Event     string      `json:"event"`     // see Event* constants
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rotating NDJSON file. When debug mode is
// disabled every Log call is a no-op.
type Logger struct {
	rw      *rotatingFile
	mu      sync.Mutex
	enabled bool
}

type options struct {
	maxSize int64
	backups int
}

// Option tunes the log file.
type Option func(*options)

// WithMaxSize sets the size at which the file is rotated. Non-positive
// values keep DefaultMaxSize.
func WithMaxSize(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.maxSize = bytes
		}
	}
}

// WithBackups sets how many rotated files are kept next to the live one.
// Zero truncates in place.
func WithBackups(n int) Option {
	return func(o *options) { o.backups = n }
}

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string, opts ...Option) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	o := options{maxSize: DefaultMaxSize, backups: DefaultBackups}
	for _, opt := range opts {
		opt(&o)
	}
	rw, err := openRotating(path, o.maxSize, o.backups)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether SCENEREC_DEBUG_RECORDING is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv(DebugEnv) == "true"
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
