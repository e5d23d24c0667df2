// Package frame defines the video frames flowing through the recording
// pipeline and the sources and clocks that produce them.
package frame

import (
	"image"
	"time"
)

// Dimensions is a pixel size pair.
type Dimensions struct {
	Width  int
	Height int
}

// Valid reports whether both edges are positive and even. Even edges keep
// chroma-subsampled encoders happy.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0 && d.Width%2 == 0 && d.Height%2 == 0
}

// Portrait maps the long edge to the height, matching the native screen
// proportions of a device held upright.
func (d Dimensions) Portrait() Dimensions {
	if d.Width > d.Height {
		return Dimensions{Width: d.Height, Height: d.Width}
	}
	return d
}

// Even rounds both edges down to the nearest even value.
func (d Dimensions) Even() Dimensions {
	return Dimensions{Width: d.Width &^ 1, Height: d.Height &^ 1}
}

// Frame is one rendered image plus its presentation timestamp. A Frame owns
// its Image; once handed to a writer it must not be modified.
type Frame struct {
	Image *image.RGBA
	// Raw is the camera image the scene was composited over, if any.
	Raw  image.Image
	Size Dimensions
	// PTS is read from a monotonic clock shared with pause/resume bookkeeping.
	PTS time.Duration
}

// Source produces the current frame on demand. CurrentFrame returns false
// when nothing is renderable for this tick. It is called synchronously from
// the tick handler and must not block on I/O.
type Source interface {
	CurrentFrame() (Frame, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (Frame, bool)

// CurrentFrame calls f.
func (f SourceFunc) CurrentFrame() (Frame, bool) { return f() }
