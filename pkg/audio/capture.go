package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// CaptureStats is a snapshot of capture counters.
type CaptureStats struct {
	Buffers uint64
	Frames  uint64
}

// Capture owns one Device and forwards its buffers to a handler. The
// handler runs on the device's goroutine and must not block.
type Capture struct {
	dev    Device
	logger *slog.Logger

	mu      sync.Mutex
	running bool

	buffers atomic.Uint64
	frames  atomic.Uint64
}

// NewCapture wraps dev. A nil logger uses slog.Default().
func NewCapture(dev Device, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{dev: dev, logger: logger.With("component", "audio-capture")}
}

// Format returns the device's PCM format.
func (c *Capture) Format() Format {
	return c.dev.Format()
}

// Start begins capture, forwarding every buffer to handler.
func (c *Capture) Start(handler func(Buffer)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	err := c.dev.Start(func(b Buffer) {
		c.buffers.Add(1)
		c.frames.Add(uint64(b.Frames))
		handler(b)
	})
	if err != nil {
		return err
	}
	c.running = true
	c.logger.Debug("audio: capture started", "format", c.dev.Format())
	return nil
}

// Stop halts capture if running. Once Stop returns the handler is no
// longer invoked.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.dev.Stop()
	c.running = false
	c.logger.Debug("audio: capture stopped",
		"buffers", c.buffers.Load(),
		"frames", c.frames.Load())
}

// Running reports whether capture is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns the lifetime counters.
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{Buffers: c.buffers.Load(), Frames: c.frames.Load()}
}
