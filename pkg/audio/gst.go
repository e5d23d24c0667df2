//go:build gst

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/tiroq/scenerec/pkg/frame"
)

// GstDevice captures the default system microphone through GStreamer:
//
//	autoaudiosrc → audioconvert → audioresample → capsfilter → appsink
type GstDevice struct {
	format Format
	now    frame.TimeSource

	mu       sync.Mutex
	pipeline *gst.Pipeline
}

// NewGstDevice creates a device producing the given format.
func NewGstDevice(format Format) *GstDevice {
	return &GstDevice{format: format, now: frame.Now}
}

// Format returns the negotiated PCM format.
func (d *GstDevice) Format() Format {
	return d.format
}

// Start builds the pipeline and sets it playing. Buffers are delivered on
// GStreamer's streaming thread.
func (d *GstDevice) Start(callback func(Buffer)) error {
	if err := d.format.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline != nil {
		return ErrAlreadyRunning
	}

	gst.Init(nil)

	sampleFormat := "S16LE"
	if d.format.BitDepth == 24 {
		sampleFormat = "S24LE"
	}
	desc := fmt.Sprintf(
		"autoaudiosrc ! audioconvert ! audioresample ! "+
			"audio/x-raw,format=%s,layout=interleaved,rate=%d,channels=%d ! "+
			"appsink name=sink sync=false max-buffers=8 drop=true",
		sampleFormat, d.format.SampleRate, d.format.Channels)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return fmt.Errorf("failed to create audio pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return fmt.Errorf("failed to find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	bytesPerFrame := d.format.BytesPerFrame()
	var start, produced int64
	started := false

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			sample := s.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			if len(data) == 0 {
				buffer.Unmap()
				return gst.FlowOK
			}
			pcm := make([]byte, len(data))
			copy(pcm, data)
			buffer.Unmap()

			if !started {
				start = int64(d.now())
				started = true
			}
			frames := len(pcm) / bytesPerFrame
			callback(Buffer{
				Data:   pcm,
				Frames: frames,
				PTS:    time.Duration(start) + d.format.FrameDuration(int(produced)),
				Format: d.format,
			})
			produced += int64(frames)
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start audio pipeline: %w", err)
	}
	d.pipeline = pipeline
	slog.Debug("audio: gstreamer pipeline playing", "caps", desc)
	return nil
}

// Stop tears the pipeline down.
func (d *GstDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipeline == nil {
		return
	}
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		slog.Warn("audio: failed to stop gstreamer pipeline", "error", err)
	}
	d.pipeline = nil
}
