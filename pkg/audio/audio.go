// Package audio captures live microphone audio for muxing alongside the
// recorded video. Capture runs on its own goroutine and delivers buffers
// through a callback, independently of frame production.
package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidFormat  = errors.New("invalid audio format")
	ErrAlreadyRunning = errors.New("audio capture already running")
)

// MicrophoneState caches the outcome of a microphone permission request.
type MicrophoneState int

const (
	MicrophoneUnknown MicrophoneState = iota
	MicrophoneEnabled
	MicrophoneDisabled
)

func (s MicrophoneState) String() string {
	switch s {
	case MicrophoneEnabled:
		return "enabled"
	case MicrophoneDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is 48 kHz mono 16-bit.
func DefaultFormat() Format {
	return Format{SampleRate: 48000, Channels: 1, BitDepth: 16}
}

// Validate checks the format is one the container can carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > 192000 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	}
	if f.BitDepth != 16 && f.BitDepth != 24 {
		return fmt.Errorf("%w: bit depth %d", ErrInvalidFormat, f.BitDepth)
	}
	return nil
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// FrameDuration converts a sample-frame count to a duration.
func (f Format) FrameDuration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Buffer is one block of captured PCM.
type Buffer struct {
	Data   []byte
	Frames int
	PTS    time.Duration
	Format Format
}

// Duration is the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return b.Format.FrameDuration(b.Frames)
}

// Device is a platform capture backend. Start delivers buffers on a
// goroutine owned by the device until Stop returns.
type Device interface {
	Format() Format
	Start(callback func(Buffer)) error
	Stop()
}
