package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/internal/fileutil"
	"github.com/tiroq/scenerec/internal/statemachine"
	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/container"
	"github.com/tiroq/scenerec/pkg/export"
	"github.com/tiroq/scenerec/pkg/frame"
)

type controllerConfig struct {
	observer      Observer
	now           frame.TimeSource
	device        audio.Device
	permission    audio.Permission
	sink          export.Sink
	writerFactory WriterFactory
	writerOptions []container.Option
	preparer      SessionPreparer
	session       SessionConfig
	metadata      bool
	version       string
	logger        *slog.Logger
	diag          *diaglog.Logger
}

// Option configures a Controller.
type Option func(*controllerConfig)

func WithObserver(o Observer) Option {
	return func(c *controllerConfig) { c.observer = o }
}

// WithTimeSource sets the clock used for pause and resume. It must be the
// clock the frame source stamps frames with.
func WithTimeSource(now frame.TimeSource) Option {
	return func(c *controllerConfig) { c.now = now }
}

// WithAudio records from dev once microphone permission is granted.
func WithAudio(dev audio.Device, perm audio.Permission) Option {
	return func(c *controllerConfig) {
		c.device = dev
		c.permission = perm
	}
}

func WithExportSink(s export.Sink) Option {
	return func(c *controllerConfig) { c.sink = s }
}

// WithWriterFactory replaces container.NewWriter.
func WithWriterFactory(f WriterFactory) Option {
	return func(c *controllerConfig) { c.writerFactory = f }
}

// WithWriterOptions are passed to container.NewWriter by the default
// factory.
func WithWriterOptions(opts ...container.Option) Option {
	return func(c *controllerConfig) { c.writerOptions = append(c.writerOptions, opts...) }
}

func WithPreparer(p SessionPreparer) Option {
	return func(c *controllerConfig) { c.preparer = p }
}

// WithSessionConfig sets the initial session configuration.
func WithSessionConfig(s SessionConfig) Option {
	return func(c *controllerConfig) { c.session = s }
}

// WithMetadata toggles the sidecar written next to successful recordings.
func WithMetadata(enabled bool, version string) Option {
	return func(c *controllerConfig) {
		c.metadata = enabled
		c.version = version
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *controllerConfig) { c.logger = l }
}

func WithDiagLogger(d *diaglog.Logger) Option {
	return func(c *controllerConfig) { c.diag = d }
}

// Controller is the recorder state machine. Record, Pause, Stop and Tick
// may be called from any goroutine; they are serialized on one mutex, and
// finalization completes off that critical section.
type Controller struct {
	source frame.Source
	cfg    controllerConfig
	logger *slog.Logger

	mu          sync.Mutex
	sm          *statemachine.StateMachine
	mic         audio.MicrophoneState
	micPending  bool
	micWaiters  []func(audio.MicrophoneState)
	wantRecord  bool
	writer      SessionWriter
	desc        container.OutputDescriptor
	finalizing  bool
	session     SessionConfig
	startedAt   time.Time
	notReady    uint64
	sessions    uint64
	lastWriter  SessionWriter
	lastStarted time.Time
}

// NewController creates a controller pulling frames from source.
func NewController(source frame.Source, opts ...Option) *Controller {
	cfg := controllerConfig{
		now:      frame.Now,
		metadata: true,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.observer == nil {
		cfg.observer = ObserverFuncs{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.diag == nil {
		cfg.diag = diaglog.NewNoOp()
	}
	if cfg.writerFactory == nil {
		cfg.writerFactory = defaultWriterFactory(cfg.writerOptions, cfg.logger, cfg.diag)
	}
	mic := audio.MicrophoneUnknown
	if cfg.device == nil {
		mic = audio.MicrophoneDisabled
	}
	return &Controller{
		source:  source,
		cfg:     cfg,
		logger:  cfg.logger.With("component", diaglog.ComponentController),
		sm:      statemachine.NewStateMachine(),
		mic:     mic,
		session: cfg.session,
	}
}

func defaultWriterFactory(opts []container.Option, logger *slog.Logger, diag *diaglog.Logger) WriterFactory {
	return func(desc container.OutputDescriptor, capture *audio.Capture) (SessionWriter, error) {
		all := []container.Option{container.WithLogger(logger), container.WithDiagLogger(diag)}
		all = append(all, opts...)
		if capture != nil {
			all = append(all, container.WithAudioCapture(capture))
		}
		w, err := container.NewWriter(desc, all...)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// Prepare arms the frame producer and applies cfg to later sessions.
func (c *Controller) Prepare(ctx context.Context, cfg SessionConfig) error {
	if c.cfg.preparer != nil {
		if err := c.cfg.preparer.Prepare(ctx, cfg); err != nil {
			return fmt.Errorf("prepare session: %w", err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalizing {
		return ErrFinalizing
	}
	if cfg.OutputDir != "" {
		c.session.OutputDir = cfg.OutputDir
	}
	if cfg.Quality != "" {
		c.session.Quality = cfg.Quality
	}
	c.session.OptimizeForStreaming = cfg.OptimizeForStreaming
	c.sm.Prepare()
	return nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.State()
}

// Microphone returns the cached permission decision.
func (c *Controller) Microphone() audio.MicrophoneState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic
}

// RequestMicrophonePermission asks for microphone access unless the answer
// is already known. onComplete may run on another goroutine.
func (c *Controller) RequestMicrophonePermission(onComplete func(audio.MicrophoneState)) {
	c.mu.Lock()
	if c.mic != audio.MicrophoneUnknown {
		mic := c.mic
		c.mu.Unlock()
		if onComplete != nil {
			go onComplete(mic)
		}
		return
	}
	if onComplete != nil {
		c.micWaiters = append(c.micWaiters, onComplete)
	}
	request := c.startMicRequestLocked()
	c.mu.Unlock()
	if request {
		c.cfg.permission.RequestMicrophone(c.onMicDecision)
	}
}

// startMicRequestLocked reports whether the caller must issue the prompt.
func (c *Controller) startMicRequestLocked() bool {
	if c.micPending {
		return false
	}
	if c.cfg.permission == nil {
		c.mic = audio.MicrophoneDisabled
		return false
	}
	c.micPending = true
	return true
}

func (c *Controller) onMicDecision(granted bool) {
	c.mu.Lock()
	c.micPending = false
	if granted {
		c.mic = audio.MicrophoneEnabled
	} else {
		c.mic = audio.MicrophoneDisabled
	}
	mic := c.mic
	waiters := c.micWaiters
	c.micWaiters = nil
	if c.wantRecord {
		c.wantRecord = false
		c.recordLocked()
	}
	c.mu.Unlock()

	c.logger.Info("microphone permission decided", "state", mic)
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAudio,
		Event:     diaglog.EventMicPermission,
		Reason:    mic.String(),
	})
	for _, w := range waiters {
		w(mic)
	}
}

// Record starts recording, or resumes a paused session. While microphone
// permission is undetermined the prompt is shown first and recording starts
// once it is answered.
func (c *Controller) Record() {
	c.mu.Lock()
	if c.mic == audio.MicrophoneUnknown && c.sm.State() != StatePaused {
		c.wantRecord = true
		request := c.startMicRequestLocked()
		if c.mic == audio.MicrophoneUnknown {
			c.mu.Unlock()
			if request {
				c.cfg.permission.RequestMicrophone(c.onMicDecision)
			}
			return
		}
		c.wantRecord = false
	}
	c.recordLocked()
	c.mu.Unlock()
}

func (c *Controller) recordLocked() {
	tr := c.sm.Record()
	if !tr.Changed() {
		return
	}
	event := diaglog.EventRecordingStart
	if tr.Resumed() {
		event = diaglog.EventRecordingResume
		if c.writer != nil {
			c.writer.Resume(c.cfg.now())
		}
	} else {
		c.startedAt = time.Now()
	}
	c.logger.Info("recording", "from", tr.From, "resumed", tr.Resumed())
	c.cfg.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentController, Event: event})
}

// Pause stops writing frames and audio but keeps the session open.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, err := c.sm.Pause()
	if err != nil {
		return err
	}
	if !tr.Changed() {
		return nil
	}
	if c.writer != nil {
		c.writer.Pause(c.cfg.now())
	}
	c.logger.Info("recording paused")
	c.cfg.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentController, Event: diaglog.EventRecordingPause})
	return nil
}

// Tick pulls one frame and writes it when recording. It opens a session on
// the first frame after Record. Wire it to the frame clock.
func (c *Controller) Tick() {
	f, ok := c.source.CurrentFrame()
	if !ok {
		return
	}
	pts := f.PTS

	c.mu.Lock()
	if !c.sm.IsRecording() || c.finalizing {
		c.mu.Unlock()
		return
	}
	if c.writer == nil {
		w, err := c.newWriterLocked(f.Size)
		if err != nil {
			c.sm.Fail()
			c.mu.Unlock()
			c.reportFailure(err, "")
			return
		}
		c.writer = w
	}
	w := c.writer
	if !w.Ready() {
		c.notReady++
		c.mu.Unlock()
		return
	}
	err := w.Insert(f, pts)
	if err == nil && w.Status() != container.StatusFailed {
		c.mu.Unlock()
		return
	}
	if err == nil {
		err = container.ErrWriterFailed
	}

	// The writer failed: abandon the session and release the file.
	c.sm.Fail()
	c.finalizing = true
	c.mu.Unlock()

	c.logger.Error("recording failed", "error", err)
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingFailed,
		Reason:    err.Error(),
	})
	c.cfg.observer.OnRecordingFailed(err)
	if ferr := w.Finalize(func(res container.Result) {
		c.releaseWriter(w)
		c.cfg.observer.OnRecordingEnded(res.Path, false)
		c.logEnded(res.Path, false)
	}); ferr != nil {
		c.releaseWriter(w)
		c.cfg.observer.OnRecordingEnded("", false)
		c.logEnded("", false)
	}
}

func (c *Controller) newWriterLocked(size frame.Dimensions) (SessionWriter, error) {
	dir := c.session.OutputDir
	if dir == "" {
		dir = "."
	}
	desc := container.OutputDescriptor{
		Path:   fileutil.NewSessionPath(dir),
		Format: container.FormatMP4,
		Video: container.VideoFormat{
			Codec:   container.CodecMJPEG,
			Size:    size,
			Quality: c.session.Quality,
		},
		OptimizeForStreaming: c.session.OptimizeForStreaming,
	}
	var capture *audio.Capture
	if c.mic == audio.MicrophoneEnabled && c.cfg.device != nil {
		format := c.cfg.device.Format()
		desc.Audio = &format
		capture = audio.NewCapture(c.cfg.device, c.cfg.logger)
	}
	w, err := c.cfg.writerFactory(desc, capture)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	c.sessions++
	c.desc = desc
	c.lastWriter = w
	c.lastStarted = c.startedAt
	c.logger.Info("session created", "path", desc.Path, "width", size.Width, "height", size.Height, "audio", capture != nil)
	return w, nil
}

func (c *Controller) releaseWriter(w SessionWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == w {
		c.writer = nil
	}
	c.finalizing = false
}

// Stop ends the session and finalizes the file asynchronously. onComplete
// receives the path of a successfully written file. When no frame was ever
// written the observer is told of the failure and onComplete is not called.
// Stop is a no-op unless recording or paused.
func (c *Controller) Stop(onComplete func(path string)) {
	c.stop(func(res container.Result, ok bool) {
		if ok && onComplete != nil {
			onComplete(res.Path)
		}
	})
}

// StopAndExport stops like Stop and hands a successful file to the export
// sink. onComplete receives the export outcome, including failures.
func (c *Controller) StopAndExport(onComplete func(ExportResult)) {
	c.stop(func(res container.Result, ok bool) {
		if !ok {
			if onComplete != nil {
				err := res.Err
				if err == nil {
					err = ErrEmptySession
				}
				onComplete(ExportResult{Path: res.Path, Err: err})
			}
			return
		}
		out := c.export(res.Path)
		if onComplete != nil {
			onComplete(ExportResult{
				Path:          res.Path,
				Exported:      out.Exported,
				Authorization: out.Authorization,
				Destination:   out.Destination,
				Err:           out.Err,
			})
		}
	})
}

// stop runs done before the observer hears about the end of the session.
func (c *Controller) stop(done func(res container.Result, ok bool)) {
	c.mu.Lock()
	c.wantRecord = false
	tr := c.sm.Stop()
	if !tr.Changed() {
		c.mu.Unlock()
		c.logger.Debug("stop ignored", "state", tr.From)
		c.cfg.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentController,
			Event:     diaglog.EventStopIgnored,
			Reason:    tr.From.String(),
		})
		return
	}
	w := c.writer
	started := c.startedAt
	desc := c.desc
	if w == nil || c.finalizing {
		c.mu.Unlock()
		c.logger.Warn("stopped before any frame was recorded")
		c.cfg.observer.OnRecordingFailed(ErrEmptySession)
		done(container.Result{Err: ErrEmptySession}, false)
		c.cfg.observer.OnRecordingEnded("", false)
		c.logEnded("", false)
		return
	}
	c.finalizing = true
	c.mu.Unlock()

	c.logger.Info("stopping", "path", w.Path())
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingStop,
		SessionID: fileutil.SessionID(w.Path()),
	})
	err := w.Finalize(func(res container.Result) {
		c.releaseWriter(w)
		ok := res.Err == nil && res.Status == container.StatusFinished && res.Path != ""
		if ok {
			c.writeMetadata(res, desc, started)
		} else {
			if res.Err == nil {
				res.Err = container.ErrWriterFailed
			}
			c.cfg.observer.OnRecordingFailed(res.Err)
		}
		done(res, ok)
		c.cfg.observer.OnRecordingEnded(res.Path, ok)
		c.logEnded(res.Path, ok)
	})
	if err != nil {
		c.releaseWriter(w)
		c.cfg.observer.OnRecordingFailed(err)
		done(container.Result{Err: err}, false)
		c.cfg.observer.OnRecordingEnded("", false)
		c.logEnded("", false)
	}
}

func (c *Controller) export(path string) export.Outcome {
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentExport,
		Event:     diaglog.EventExportStart,
		SessionID: fileutil.SessionID(path),
	})
	out := export.Run(context.Background(), c.cfg.sink, path)
	switch {
	case out.Exported:
		c.logger.Info("recording exported", "path", path, "destination", out.Destination)
		c.cfg.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentExport,
			Event:     diaglog.EventExportDone,
			SessionID: fileutil.SessionID(path),
			Payload:   map[string]interface{}{"destination": out.Destination},
		})
	case errors.Is(out.Err, export.ErrNotAuthorized):
		c.logger.Warn("export not authorized", "authorization", out.Authorization)
		c.cfg.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentExport,
			Event:     diaglog.EventExportUnauthorized,
			SessionID: fileutil.SessionID(path),
			Reason:    out.Authorization.String(),
		})
	default:
		c.logger.Error("export failed", "error", out.Err)
	}
	if c.cfg.metadata && c.cfg.sink != nil {
		meta := &fileutil.ExportMeta{
			Sink:        c.cfg.sink.Name(),
			Destination: out.Destination,
			Success:     out.Exported,
		}
		if out.Err != nil {
			meta.Error = out.Err.Error()
		}
		if out.Exported {
			meta.ExportedAt = time.Now().UTC()
		}
		c.updateExportMetadata(path, meta)
	}
	return out
}

func (c *Controller) writeMetadata(res container.Result, desc container.OutputDescriptor, started time.Time) {
	if !c.cfg.metadata {
		return
	}
	stopped := time.Now().UTC()
	meta := &fileutil.RecordingMetadata{
		Version:       c.cfg.version,
		SessionID:     fileutil.SessionID(res.Path),
		StartedAt:     started.UTC(),
		StoppedAt:     stopped,
		Duration:      res.Stats.Duration.Round(time.Millisecond).String(),
		DurationMs:    res.Stats.Duration.Milliseconds(),
		Width:         desc.Video.Size.Width,
		Height:        desc.Video.Size.Height,
		VideoCodec:    string(container.CodecMJPEG),
		FramesWritten: res.Stats.FramesWritten,
		FramesDropped: res.Stats.FramesDropped,
		OutputFile:    filepath.Base(res.Path),
	}
	if res.HasAudio && desc.Audio != nil {
		meta.Audio = &fileutil.AudioMeta{
			SampleRate: desc.Audio.SampleRate,
			Channels:   desc.Audio.Channels,
			BitDepth:   desc.Audio.BitDepth,
			Buffers:    res.Stats.AudioWritten,
		}
	}
	if err := fileutil.WriteMetadata(res.Path, meta); err != nil {
		c.logger.Warn("failed to write metadata", "path", res.Path, "error", err)
	}
}

func (c *Controller) updateExportMetadata(path string, em *fileutil.ExportMeta) {
	meta, err := fileutil.ReadMetadata(path)
	if err != nil {
		c.logger.Warn("failed to read metadata", "path", path, "error", err)
		return
	}
	meta.Export = em
	if err := fileutil.WriteMetadata(path, meta); err != nil {
		c.logger.Warn("failed to write metadata", "path", path, "error", err)
	}
}

func (c *Controller) reportFailure(err error, path string) {
	c.logger.Error("recording failed", "error", err)
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingFailed,
		Reason:    err.Error(),
	})
	c.cfg.observer.OnRecordingFailed(err)
	c.cfg.observer.OnRecordingEnded(path, false)
	c.logEnded(path, false)
}

func (c *Controller) logEnded(path string, success bool) {
	c.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingEnded,
		SessionID: sessionID(path),
		Payload:   map[string]interface{}{"path": path, "success": success},
	})
}

func sessionID(path string) string {
	if path == "" {
		return ""
	}
	return fileutil.SessionID(path)
}

// CapturePhoto returns the frame the source would hand to the writer now.
func (c *Controller) CapturePhoto() (image.Image, bool) {
	f, ok := c.source.CurrentFrame()
	if !ok || f.Image == nil {
		return nil, false
	}
	return f.Image, true
}

// Snapshot returns the current status. Stats and Writer describe the
// current session, or the last one when idle.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:         c.sm.State(),
		Microphone:    c.mic,
		Finalizing:    c.finalizing,
		Duration:      c.sm.RecordingDuration(),
		NotReadyTicks: c.notReady,
		Sessions:      c.sessions,
	}
	w := c.writer
	started := c.startedAt
	if w == nil {
		w = c.lastWriter
		started = c.lastStarted
	}
	if w != nil {
		st.SessionPath = w.Path()
		st.Writer = w.Status()
		st.Stats = w.Stats()
		st.StartedAt = started
	}
	return st
}
