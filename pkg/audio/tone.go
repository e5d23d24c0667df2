package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/tiroq/scenerec/pkg/frame"
)

// ToneDevice synthesizes a sine wave in real time. It stands in for a
// microphone where no capture hardware exists.
type ToneDevice struct {
	format    Format
	frequency float64
	chunk     time.Duration
	now       frame.TimeSource

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewToneDevice creates a tone generator. Only 16-bit formats are produced;
// other bit depths are coerced to 16.
func NewToneDevice(format Format, frequency float64) *ToneDevice {
	format.BitDepth = 16
	return &ToneDevice{
		format:    format,
		frequency: frequency,
		chunk:     20 * time.Millisecond,
		now:       frame.Now,
	}
}

// SetTimeSource overrides the timestamp source. Call before Start.
func (d *ToneDevice) SetTimeSource(now frame.TimeSource) {
	d.now = now
}

// Format returns the generated PCM format.
func (d *ToneDevice) Format() Format {
	return d.format
}

// Start begins generating buffers on a new goroutine.
func (d *ToneDevice) Start(callback func(Buffer)) error {
	if err := d.format.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrAlreadyRunning
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(callback, d.stop, d.done)
	return nil
}

// Stop halts generation and waits for the goroutine to exit.
func (d *ToneDevice) Stop() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (d *ToneDevice) run(callback func(Buffer), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	framesPerChunk := int(int64(d.format.SampleRate) * int64(d.chunk) / int64(time.Second))
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}
	start := d.now()
	var produced int64

	ticker := time.NewTicker(d.chunk)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		data := make([]byte, framesPerChunk*d.format.BytesPerFrame())
		for i := 0; i < framesPerChunk; i++ {
			t := float64(produced+int64(i)) / float64(d.format.SampleRate)
			v := int16(math.Sin(2*math.Pi*d.frequency*t) * 0.25 * math.MaxInt16)
			for ch := 0; ch < d.format.Channels; ch++ {
				off := (i*d.format.Channels + ch) * 2
				binary.LittleEndian.PutUint16(data[off:], uint16(v))
			}
		}

		callback(Buffer{
			Data:   data,
			Frames: framesPerChunk,
			PTS:    start + d.format.FrameDuration(int(produced)),
			Format: d.format,
		})
		produced += int64(framesPerChunk)
	}
}
