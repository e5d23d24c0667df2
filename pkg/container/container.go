// Package container writes one recording session into a fragmented MP4
// file: a fixed-size video track and an optional PCM audio track sharing a
// time origin fixed by the first accepted frame.
package container

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/frame"
)

var (
	ErrFinalized         = errors.New("writer is finalized")
	ErrEmptySession      = errors.New("no frames were recorded")
	ErrWriterFailed      = errors.New("container writer failed")
	ErrInvalidDimensions = errors.New("invalid video dimensions")
	ErrInvalidPath       = errors.New("invalid output path")
	ErrUnsupportedFormat = errors.New("unsupported container format")
)

// FormatMP4 is the only container format produced.
const FormatMP4 = "mp4"

// VideoTimeScale is the video track time base (microseconds).
const VideoTimeScale = 1_000_000

// DefaultFrameInterval is the duration given to the last frame of a session
// that contains a single frame.
const DefaultFrameInterval = time.Second / 30

// Status is the writing status of a session.
type Status int

const (
	StatusNotStarted Status = iota
	StatusWriting
	StatusFinished
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusWriting:
		return "writing"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// VideoFormat describes the video track.
type VideoFormat struct {
	Codec   Codec
	Size    frame.Dimensions
	Quality QualityPreset
}

// OutputDescriptor fixes everything about the output file at construction.
type OutputDescriptor struct {
	Path   string
	Format string
	Video  VideoFormat
	// Audio is nil for video-only files.
	Audio *audio.Format
	// OptimizeForStreaming shortens fragments so the file is playable while
	// it is still being written.
	OptimizeForStreaming bool
}

// Validate checks the descriptor can be written.
func (d OutputDescriptor) Validate() error {
	if d.Path == "" || strings.HasSuffix(d.Path, string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, d.Path)
	}
	if d.Format != "" && d.Format != FormatMP4 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, d.Format)
	}
	if !d.Video.Size.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, d.Video.Size.Width, d.Video.Size.Height)
	}
	if err := validateEncoderConfig(EncoderConfig{Codec: d.Video.Codec, Quality: d.Video.Quality, Size: d.Video.Size}); err != nil {
		return err
	}
	if d.Audio != nil {
		if err := d.Audio.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TrackKind distinguishes video from audio tracks.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// Track describes one container track.
type Track struct {
	ID        int
	Kind      TrackKind
	TimeScale uint32
	Video     VideoFormat
	Audio     audio.Format
}

// Sample is one encoded access unit. PTS is relative to the session origin.
type Sample struct {
	PTS      time.Duration
	Duration time.Duration
	Payload  []byte
}

// MuxerOptions tune fragmenting.
type MuxerOptions struct {
	FragmentDuration time.Duration
}

// Muxer serializes samples into a container. Calls are made from a single
// goroutine.
type Muxer interface {
	WriteSample(trackID int, s Sample) error
	// Flush writes any buffered samples.
	Flush() error
}

// MuxerFactory creates a Muxer over w and writes the container header.
type MuxerFactory func(w io.WriteSeeker, tracks []Track, opts MuxerOptions) (Muxer, error)

// Stats is a snapshot of session counters.
type Stats struct {
	FramesWritten  uint64
	FramesDropped  uint64
	FramesRejected uint64
	AudioWritten   uint64
	AudioDropped   uint64
	// Span is the presentation time of the last written frame relative to
	// the first.
	Span time.Duration
	// Duration is the video track duration including the last frame.
	Duration time.Duration
}

// Result is delivered to the Finalize completion handler.
type Result struct {
	// Path is empty when no session was ever opened.
	Path     string
	Status   Status
	Err      error
	Stats    Stats
	HasAudio bool
}

// toTicks converts d to a track time base without overflowing for long
// sessions.
func toTicks(d time.Duration, timeScale uint32) uint64 {
	if d <= 0 {
		return 0
	}
	ts := uint64(timeScale)
	return uint64(d/time.Second)*ts + uint64(d%time.Second)*ts/uint64(time.Second)
}
