// Package fileutil provides recording file utilities: session paths, library
// naming and the sidecar metadata written next to each recording.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RecordingMetadata is the sidecar metadata written alongside each recording.
type RecordingMetadata struct {
	Version       string      `json:"version"`
	SessionID     string      `json:"session_id"`
	StartedAt     time.Time   `json:"started_at"`
	StoppedAt     time.Time   `json:"stopped_at"`
	Duration      string      `json:"duration"`
	DurationMs    int64       `json:"duration_ms"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	VideoCodec    string      `json:"video_codec"`
	FramesWritten uint64      `json:"frames_written"`
	FramesDropped uint64      `json:"frames_dropped"`
	OutputFile    string      `json:"output_file"`
	Audio         *AudioMeta  `json:"audio,omitempty"`
	Export        *ExportMeta `json:"export,omitempty"`
}

// AudioMeta describes the audio track, when one was recorded.
type AudioMeta struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	Buffers    uint64 `json:"buffers_written"`
}

// ExportMeta captures where the recording was exported to.
type ExportMeta struct {
	Sink        string    `json:"sink"`
	Destination string    `json:"destination,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ExportedAt  time.Time `json:"exported_at,omitempty"`
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// recording. Uses atomic write (temp + rename) consistent with ipc patterns.
func WriteMetadata(recordingPath string, meta *RecordingMetadata) error {
	metaPath := metadataPath(recordingPath)
	dir := filepath.Dir(metaPath)

	tmpFile, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("create metadata temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close metadata temp: %w", err)
	}
	success = true // prevent defer cleanup

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar written for recordingPath.
func ReadMetadata(recordingPath string) (*RecordingMetadata, error) {
	data, err := os.ReadFile(metadataPath(recordingPath))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta RecordingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// metadataPath returns <basepath>.meta.json for a given recording file path.
func metadataPath(recordingPath string) string {
	ext := filepath.Ext(recordingPath)
	base := recordingPath[:len(recordingPath)-len(ext)]
	return base + ".meta.json"
}
