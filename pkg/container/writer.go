package container

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/internal/fileutil"
	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/frame"
)

const (
	videoTrackID = 1
	audioTrackID = 2

	defaultQueueDepth = 8
	// reorderTolerance is how far behind the previous frame a timestamp may
	// be and still be accepted (clamped forward).
	reorderTolerance = 50 * time.Millisecond
)

type writerConfig struct {
	muxerFactory MuxerFactory
	encoder      Encoder
	capture      *audio.Capture
	queueDepth   int
	fragment     time.Duration
	minFreeBytes int64
	logger       *slog.Logger
	diag         *diaglog.Logger
}

// Option configures a Writer.
type Option func(*writerConfig)

// WithMuxerFactory replaces the fragmented MP4 muxer.
func WithMuxerFactory(f MuxerFactory) Option {
	return func(c *writerConfig) { c.muxerFactory = f }
}

// WithEncoder replaces the encoder derived from the descriptor.
func WithEncoder(e Encoder) Option {
	return func(c *writerConfig) { c.encoder = e }
}

// WithAudioCapture starts capture when the session opens and feeds its
// buffers into the audio track. Ignored for video-only descriptors.
func WithAudioCapture(c *audio.Capture) Option {
	return func(cfg *writerConfig) { cfg.capture = c }
}

// WithQueueDepth sets how many frames may wait for the encoder before new
// frames are dropped.
func WithQueueDepth(n int) Option {
	return func(c *writerConfig) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// WithFragmentDuration sets the fragment length. Streaming-optimized
// sessions never use fragments longer than StreamingFragmentDuration.
func WithFragmentDuration(d time.Duration) Option {
	return func(c *writerConfig) {
		if d > 0 {
			c.fragment = d
		}
	}
}

// WithMinFreeBytes refuses to open a session on a volume with less free
// space than n.
func WithMinFreeBytes(n int64) Option {
	return func(c *writerConfig) { c.minFreeBytes = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *writerConfig) { c.logger = l }
}

func WithDiagLogger(d *diaglog.Logger) Option {
	return func(c *writerConfig) { c.diag = d }
}

type videoJob struct {
	img image.Image
	pts time.Duration
}

type audioJob struct {
	data []byte
	pts  time.Duration
	dur  time.Duration
}

// Writer records one session into one file. The file is created by the
// first Insert, whose timestamp becomes the session origin. Encoding and
// muxing happen on a worker goroutine fed by bounded queues; when a queue
// is full the writer is not ready and the frame is dropped.
//
// Writer is safe for concurrent use.
type Writer struct {
	desc   OutputDescriptor
	cfg    writerConfig
	tracks []Track
	id     string

	mu         sync.Mutex
	status     Status
	err        error
	finalizing bool
	paused     bool
	pausedAt   time.Duration
	offset     time.Duration
	origin     time.Duration
	lastVideo  time.Duration
	hasVideo   bool
	videoQ     chan videoJob
	audioQ     chan audioJob
	done       chan struct{}

	framesWritten  atomic.Uint64
	framesDropped  atomic.Uint64
	framesRejected atomic.Uint64
	audioWritten   atomic.Uint64
	audioDropped   atomic.Uint64
	span           atomic.Int64
	duration       atomic.Int64
}

// NewWriter validates desc and prepares a writer. Nothing touches the file
// system until the first frame arrives.
func NewWriter(desc OutputDescriptor, opts ...Option) (*Writer, error) {
	if desc.Format == "" {
		desc.Format = FormatMP4
	}
	desc.Video = VideoFormat{
		Codec:   applyEncoderDefaults(EncoderConfig{Codec: desc.Video.Codec}).Codec,
		Size:    desc.Video.Size,
		Quality: applyEncoderDefaults(EncoderConfig{Quality: desc.Video.Quality}).Quality,
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	cfg := writerConfig{
		muxerFactory: NewFMP4Muxer,
		queueDepth:   defaultQueueDepth,
		fragment:     DefaultFragmentDuration,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.diag == nil {
		cfg.diag = diaglog.NewNoOp()
	}
	if cfg.encoder == nil {
		enc, err := NewEncoder(EncoderConfig{Codec: desc.Video.Codec, Quality: desc.Video.Quality, Size: desc.Video.Size})
		if err != nil {
			return nil, err
		}
		cfg.encoder = enc
	}
	if desc.Audio == nil {
		cfg.capture = nil
	}

	w := &Writer{
		desc: desc,
		cfg:  cfg,
		id:   fileutil.SessionID(desc.Path),
	}
	w.cfg.logger = cfg.logger.With("component", diaglog.ComponentWriter, "session", w.id)
	w.tracks = []Track{{
		ID:        videoTrackID,
		Kind:      TrackVideo,
		TimeScale: VideoTimeScale,
		Video:     desc.Video,
	}}
	if desc.Audio != nil {
		w.tracks = append(w.tracks, Track{
			ID:        audioTrackID,
			Kind:      TrackAudio,
			TimeScale: uint32(desc.Audio.SampleRate),
			Audio:     *desc.Audio,
		})
	}
	return w, nil
}

// Path is the output file path.
func (w *Writer) Path() string { return w.desc.Path }

// Descriptor returns the output descriptor the writer was created with.
func (w *Writer) Descriptor() OutputDescriptor { return w.desc }

// Status reports the writing status.
func (w *Writer) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns the failure cause once Status is StatusFailed.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Paused reports whether input is currently suspended.
func (w *Writer) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Ready reports whether the next Insert would be accepted: the session has
// not opened yet, or it is writing, not paused and the encoder queue has
// room.
func (w *Writer) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalizing || w.paused {
		return false
	}
	switch w.status {
	case StatusNotStarted:
		return true
	case StatusWriting:
		return len(w.videoQ) < cap(w.videoQ)
	default:
		return false
	}
}

// Insert offers a frame with its presentation time on the shared clock. The
// first call opens the session and fixes the origin; failure to open is
// returned and leaves the writer failed. Frames that arrive while the
// encoder is busy, while paused, or out of order are dropped without error.
func (w *Writer) Insert(f frame.Frame, pts time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalizing {
		return ErrFinalized
	}
	switch w.status {
	case StatusFailed:
		return w.err
	case StatusFinished:
		return ErrFinalized
	}
	img := f.Image
	if img == nil {
		w.framesRejected.Add(1)
		return nil
	}
	if w.status == StatusNotStarted {
		if w.paused {
			w.framesDropped.Add(1)
			return nil
		}
		if err := w.openLocked(pts - w.offset); err != nil {
			w.failLocked(err)
			return w.err
		}
	}

	if w.paused {
		w.framesDropped.Add(1)
		return nil
	}

	adjusted := pts - w.offset - w.origin
	if w.hasVideo {
		if adjusted < w.lastVideo-reorderTolerance {
			w.framesRejected.Add(1)
			w.cfg.logger.Debug("frame out of order", "pts", adjusted, "last", w.lastVideo)
			return nil
		}
		if adjusted <= w.lastVideo {
			adjusted = w.lastVideo + time.Microsecond
		}
	} else if adjusted < 0 {
		adjusted = 0
	}

	select {
	case w.videoQ <- videoJob{img: img, pts: adjusted}:
		w.lastVideo = adjusted
		w.hasVideo = true
	default:
		w.framesDropped.Add(1)
	}
	return nil
}

// InsertAudio offers a PCM buffer. Buffers are only accepted while the
// session is writing and not paused.
func (w *Writer) InsertAudio(b audio.Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWriting || w.finalizing || w.audioQ == nil {
		return
	}
	if w.paused {
		w.audioDropped.Add(1)
		return
	}
	adjusted := b.PTS - w.offset - w.origin
	if adjusted < 0 || len(b.Data) == 0 {
		w.audioDropped.Add(1)
		return
	}
	select {
	case w.audioQ <- audioJob{data: b.Data, pts: adjusted, dur: b.Duration()}:
	default:
		w.audioDropped.Add(1)
	}
}

// Pause suspends input at the given clock time. Time spent paused is removed
// from the timeline on Resume.
func (w *Writer) Pause(at time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused || w.finalizing {
		return
	}
	w.paused = true
	w.pausedAt = at
	w.diagLocked(diaglog.EventRecordingPause, "")
}

// Resume continues input at the given clock time.
func (w *Writer) Resume(at time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		return
	}
	if at > w.pausedAt {
		w.offset += at - w.pausedAt
	}
	w.paused = false
	w.diagLocked(diaglog.EventRecordingResume, "")
}

// Finalize stops accepting input, drains the queues, completes the file and
// then calls onComplete exactly once on another goroutine. Calling Finalize
// again returns ErrFinalized. A writer that never received a frame completes
// with an empty Path and ErrEmptySession.
func (w *Writer) Finalize(onComplete func(Result)) error {
	w.mu.Lock()
	if w.finalizing {
		w.mu.Unlock()
		return ErrFinalized
	}
	w.finalizing = true
	w.mu.Unlock()

	// Capture delivers into InsertAudio, which takes w.mu; stop it unlocked.
	if w.cfg.capture != nil {
		w.cfg.capture.Stop()
	}

	w.mu.Lock()
	done := w.done
	if w.videoQ != nil {
		close(w.videoQ)
		close(w.audioQ)
	}
	w.diagLocked(diaglog.EventSessionFinalize, w.status.String())
	w.mu.Unlock()

	go func() {
		if done != nil {
			<-done
		}
		res := w.result()
		if onComplete != nil {
			onComplete(res)
		}
	}()
	return nil
}

// Done is closed once a started session has been finalized and the file is
// closed. It is nil before the session opens.
func (w *Writer) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Stats returns a snapshot of the session counters.
func (w *Writer) Stats() Stats {
	return Stats{
		FramesWritten:  w.framesWritten.Load(),
		FramesDropped:  w.framesDropped.Load(),
		FramesRejected: w.framesRejected.Load(),
		AudioWritten:   w.audioWritten.Load(),
		AudioDropped:   w.audioDropped.Load(),
		Span:           time.Duration(w.span.Load()),
		Duration:       time.Duration(w.duration.Load()),
	}
}

func (w *Writer) result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	res := Result{
		Status:   w.status,
		Err:      w.err,
		Stats:    w.Stats(),
		HasAudio: w.desc.Audio != nil,
	}
	switch {
	case w.done == nil && w.err == nil:
		res.Err = ErrEmptySession
	case w.done != nil:
		res.Path = w.desc.Path
		// opened but no video sample reached the file
		if res.Err == nil && res.Stats.FramesWritten == 0 {
			res.Err = ErrEmptySession
		}
	}
	return res
}

func (w *Writer) openLocked(origin time.Duration) error {
	dir := filepath.Dir(w.desc.Path)
	if err := fileutil.CheckFreeSpace(dir, w.cfg.minFreeBytes); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.OpenFile(w.desc.Path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	fragment := w.cfg.fragment
	if w.desc.OptimizeForStreaming && fragment > StreamingFragmentDuration {
		fragment = StreamingFragmentDuration
	}
	mux, err := w.cfg.muxerFactory(file, w.tracks, MuxerOptions{FragmentDuration: fragment})
	if err != nil {
		file.Close()
		os.Remove(w.desc.Path)
		return err
	}

	w.origin = origin
	w.status = StatusWriting
	w.videoQ = make(chan videoJob, w.cfg.queueDepth)
	w.audioQ = make(chan audioJob, w.cfg.queueDepth*4)
	w.done = make(chan struct{})
	go w.run(file, mux, w.videoQ, w.audioQ, w.done)

	if w.cfg.capture != nil {
		if err := w.cfg.capture.Start(w.InsertAudio); err != nil {
			w.cfg.logger.Warn("audio capture did not start, recording video only", "error", err)
		}
	}

	w.cfg.logger.Info("session opened", "path", w.desc.Path,
		"width", w.desc.Video.Size.Width, "height", w.desc.Video.Size.Height,
		"audio", w.desc.Audio != nil)
	w.diagLocked(diaglog.EventSessionOpen, "first_frame")
	return nil
}

// failLocked records the first failure. Later failures are ignored.
func (w *Writer) failLocked(err error) {
	if w.status == StatusFailed {
		return
	}
	w.status = StatusFailed
	w.err = fmt.Errorf("%w: %w", ErrWriterFailed, err)
	w.cfg.logger.Error("writer failed", "error", err)
	w.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentWriter,
		Event:     diaglog.EventWriterFailed,
		SessionID: w.id,
		Reason:    err.Error(),
	})
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failLocked(err)
}

func (w *Writer) diagLocked(event, reason string) {
	w.cfg.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentWriter,
		Event:     event,
		SessionID: w.id,
		Reason:    reason,
	})
}

// run owns the muxer and the file. Each video sample is held until the next
// one arrives so its duration is the real frame interval.
func (w *Writer) run(file *os.File, mux Muxer, videoQ <-chan videoJob, audioQ <-chan audioJob, done chan<- struct{}) {
	defer close(done)

	var (
		pending      *Sample
		firstPTS     time.Duration
		lastInterval time.Duration
		failed       bool
	)
	writeVideo := func(s Sample) {
		if err := mux.WriteSample(videoTrackID, s); err != nil {
			failed = true
			w.fail(fmt.Errorf("write video sample: %w", err))
			return
		}
		if w.framesWritten.Add(1) == 1 {
			firstPTS = s.PTS
		}
		w.span.Store(int64(s.PTS - firstPTS))
		w.duration.Store(int64(s.PTS + s.Duration - firstPTS))
	}

	for videoQ != nil || audioQ != nil {
		select {
		case job, ok := <-videoQ:
			if !ok {
				videoQ = nil
				continue
			}
			if failed {
				continue
			}
			payload, err := w.cfg.encoder.Encode(job.img)
			if err != nil {
				failed = true
				w.fail(fmt.Errorf("encode frame: %w", err))
				continue
			}
			if pending != nil {
				pending.Duration = job.pts - pending.PTS
				lastInterval = pending.Duration
				writeVideo(*pending)
			}
			pending = &Sample{PTS: job.pts, Payload: payload}

		case job, ok := <-audioQ:
			if !ok {
				audioQ = nil
				continue
			}
			if failed {
				continue
			}
			if err := mux.WriteSample(audioTrackID, Sample{PTS: job.pts, Duration: job.dur, Payload: job.data}); err != nil {
				failed = true
				w.fail(fmt.Errorf("write audio sample: %w", err))
				continue
			}
			w.audioWritten.Add(1)
		}
	}

	if !failed && pending != nil {
		if lastInterval <= 0 {
			lastInterval = DefaultFrameInterval
		}
		pending.Duration = lastInterval
		writeVideo(*pending)
	}
	if !failed {
		if err := mux.Flush(); err != nil {
			failed = true
			w.fail(fmt.Errorf("flush fragments: %w", err))
		}
	}
	if err := file.Sync(); err != nil && !failed {
		failed = true
		w.fail(fmt.Errorf("sync output: %w", err))
	}
	if err := file.Close(); err != nil && !failed {
		failed = true
		w.fail(fmt.Errorf("close output: %w", err))
	}

	w.mu.Lock()
	if w.status == StatusWriting {
		w.status = StatusFinished
	}
	w.mu.Unlock()

	stats := w.Stats()
	w.cfg.logger.Info("session finalized",
		"failed", failed,
		"frames", stats.FramesWritten,
		"dropped", stats.FramesDropped,
		"audio_buffers", stats.AudioWritten,
		"duration", stats.Duration)
}
