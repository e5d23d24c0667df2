package frame

import (
	"sync"
	"time"
)

var epoch = time.Now()

// Now returns the time elapsed since process start on the monotonic clock.
// Frames, audio buffers and pause/resume marks all use this time base.
func Now() time.Duration {
	return time.Since(epoch)
}

// TimeSource returns the current time in the pipeline's time base.
type TimeSource func() time.Duration

// Clock fires a callback once per refresh at a rate the receiver does not
// control.
type Clock interface {
	Start(tick func())
	Stop()
}

// TickerClock is a Clock driven by a time.Ticker on its own goroutine.
type TickerClock struct {
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewTickerClock creates a clock firing every interval. A non-positive
// interval defaults to 30 Hz.
func NewTickerClock(interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &TickerClock{interval: interval}
}

// NewTickerClockFPS creates a clock firing fps times per second.
func NewTickerClockFPS(fps int) *TickerClock {
	if fps <= 0 {
		return NewTickerClock(0)
	}
	return NewTickerClock(time.Second / time.Duration(fps))
}

// Start begins firing tick. Calling Start on a running clock is a no-op.
// tick runs on the clock goroutine; a slow tick delays the next one rather
// than queueing.
func (c *TickerClock) Start(tick func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})
	c.stopped = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-stop:
				return
			}
		}
	}(c.stopCh, c.stopped)
}

// Stop halts the clock and waits for an in-flight tick to return.
func (c *TickerClock) Stop() {
	c.mu.Lock()
	stop, stopped := c.stopCh, c.stopped
	c.stopCh, c.stopped = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// Interval returns the tick period.
func (c *TickerClock) Interval() time.Duration {
	return c.interval
}
