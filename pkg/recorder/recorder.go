// Package recorder coordinates a frame source, a per-session container
// writer, microphone capture and an export sink behind a small
// record/pause/stop lifecycle.
package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/tiroq/scenerec/internal/statemachine"
	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/container"
	"github.com/tiroq/scenerec/pkg/export"
	"github.com/tiroq/scenerec/pkg/frame"
)

// ErrEmptySession is reported when a session is stopped before any frame
// was written.
var ErrEmptySession = container.ErrEmptySession

// ErrFinalizing is returned by Prepare while a session is being finalized.
var ErrFinalizing = errors.New("previous session is still finalizing")

// State is the recorder lifecycle state.
type State = statemachine.State

const (
	StateUnknown       = statemachine.StateUnknown
	StateReadyToRecord = statemachine.StateReadyToRecord
	StateRecording     = statemachine.StateRecording
	StatePaused        = statemachine.StatePaused
)

// Observer receives session outcomes. Either callback may arrive without
// the other; OnRecordingEnded with success false is the signal to discard
// the file at path (path is empty when no file was created). Callbacks run
// on the controller's goroutines and must not call back into Stop.
type Observer interface {
	OnRecordingEnded(path string, success bool)
	OnRecordingFailed(err error)
}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Ended  func(path string, success bool)
	Failed func(err error)
}

func (o ObserverFuncs) OnRecordingEnded(path string, success bool) {
	if o.Ended != nil {
		o.Ended(path, success)
	}
}

func (o ObserverFuncs) OnRecordingFailed(err error) {
	if o.Failed != nil {
		o.Failed(err)
	}
}

// SessionWriter is the part of *container.Writer the controller drives.
type SessionWriter interface {
	Ready() bool
	Insert(f frame.Frame, pts time.Duration) error
	Pause(at time.Duration)
	Resume(at time.Duration)
	Finalize(onComplete func(container.Result)) error
	Status() container.Status
	Path() string
	Stats() container.Stats
}

// WriterFactory creates the writer for a new session. capture is nil for
// video-only sessions.
type WriterFactory func(desc container.OutputDescriptor, capture *audio.Capture) (SessionWriter, error)

// SessionConfig is applied by Prepare and used for every following session.
type SessionConfig struct {
	OutputDir            string
	OptimizeForStreaming bool
	Quality              container.QualityPreset
}

// SessionPreparer arms whatever produces the frames before recording.
type SessionPreparer interface {
	Prepare(ctx context.Context, cfg SessionConfig) error
}

// ExportResult is delivered by StopAndExport.
type ExportResult struct {
	Path          string
	Exported      bool
	Authorization export.Authorization
	Destination   string
	Err           error
}

// Status is a point-in-time view of the controller.
type Status struct {
	State         State
	Microphone    audio.MicrophoneState
	Finalizing    bool
	SessionPath   string
	StartedAt     time.Time
	Duration      time.Duration
	Writer        container.Status
	Stats         container.Stats
	NotReadyTicks uint64
	Sessions      uint64
}
