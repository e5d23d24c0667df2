// Package scene draws the animated demo scene the daemon records when no
// real renderer is attached.
package scene

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/tiroq/scenerec/pkg/frame"
	"github.com/tiroq/scenerec/pkg/recorder"
)

// Renderer draws a ball orbiting the frame center over a slowly shifting
// background. It implements frame.Renderer and recorder.SessionPreparer.
type Renderer struct {
	mu     sync.Mutex
	dc     *gg.Context
	origin time.Duration
	armed  bool
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Prepare restarts the animation so every session begins at the same pose.
func (r *Renderer) Prepare(ctx context.Context, cfg recorder.SessionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origin = frame.Now()
	r.armed = true
	return nil
}

// Armed reports whether Prepare has run.
func (r *Renderer) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *Renderer) Render(size frame.Dimensions, at time.Duration) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dc == nil {
		r.dc = gg.NewContext(size.Width, size.Height)
	} else if r.dc.Width() != size.Width || r.dc.Height() != size.Height {
		if err := r.dc.Resize(size.Width, size.Height); err != nil {
			return nil, err
		}
	}
	dc := r.dc
	t := (at - r.origin).Seconds()
	w, h := float64(size.Width), float64(size.Height)

	dc.ClearWithColor(gg.HSL(math.Mod(t*12, 360), 0.35, 0.18))

	radius := math.Min(w, h) / 8
	orbit := math.Min(w, h)/2 - radius*1.5
	cx := w/2 + orbit*math.Cos(t*math.Pi/2)
	cy := h/2 + orbit*math.Sin(t*math.Pi/2)
	dc.SetRGB(0.95, 0.75, 0.2)
	dc.DrawCircle(cx, cy, radius)
	if err := dc.Fill(); err != nil {
		return nil, err
	}

	// Seconds ticker along the bottom edge.
	bar := h / 40
	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawRectangle(0, h-bar, w*math.Mod(t, 1), bar)
	if err := dc.Fill(); err != nil {
		return nil, err
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

// Close releases the drawing context.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dc == nil {
		return nil
	}
	err := r.dc.Close()
	r.dc = nil
	return err
}
