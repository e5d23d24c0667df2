package frame

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// Renderer draws the current scene state at the requested size. The image
// it returns may be reused by the renderer on the next call.
type Renderer interface {
	Render(size Dimensions, at time.Duration) (image.Image, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(size Dimensions, at time.Duration) (image.Image, error)

// Render calls f.
func (f RendererFunc) Render(size Dimensions, at time.Duration) (image.Image, error) {
	return f(size, at)
}

// CameraFeed exposes the latest captured camera image, if any.
type CameraFeed interface {
	CurrentImage() (image.Image, bool)
}

// Display reports the physical pixel bounds of the screen. Orientation may
// change between calls.
type Display interface {
	NativeBounds() Dimensions
}

// StaticDisplay is a Display with fixed bounds.
type StaticDisplay Dimensions

// NativeBounds returns d.
func (d StaticDisplay) NativeBounds() Dimensions { return Dimensions(d) }

// SceneSource is a Source that renders a scene through a Renderer into a
// frame sized to the display's native proportions.
type SceneSource struct {
	display Display
	now     TimeSource
	logger  *slog.Logger

	mu       sync.RWMutex
	renderer Renderer
	camera   CameraFeed
}

// SourceOption configures a SceneSource.
type SourceOption func(*SceneSource)

// WithCamera makes frames depend on camera data: ticks without a camera
// image produce no frame.
func WithCamera(feed CameraFeed) SourceOption {
	return func(s *SceneSource) { s.camera = feed }
}

// WithTimeSource overrides the frame timestamp source.
func WithTimeSource(now TimeSource) SourceOption {
	return func(s *SceneSource) { s.now = now }
}

// WithSourceLogger sets the logger used for render failures.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *SceneSource) { s.logger = l }
}

// NewSceneSource creates a SceneSource. A nil renderer is allowed; the
// source yields no frames until Attach is called.
func NewSceneSource(r Renderer, d Display, opts ...SourceOption) *SceneSource {
	s := &SceneSource{
		renderer: r,
		display:  d,
		now:      Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach binds a renderer, replacing any previous one.
func (s *SceneSource) Attach(r Renderer) {
	s.mu.Lock()
	s.renderer = r
	s.mu.Unlock()
}

// Detach unbinds the renderer.
func (s *SceneSource) Detach() {
	s.Attach(nil)
}

// Size returns the output dimensions for the current display orientation.
func (s *SceneSource) Size() Dimensions {
	if s.display == nil {
		return Dimensions{}
	}
	return s.display.NativeBounds().Portrait().Even()
}

// CurrentFrame renders the scene into a freshly allocated buffer.
func (s *SceneSource) CurrentFrame() (Frame, bool) {
	s.mu.RLock()
	r, cam := s.renderer, s.camera
	s.mu.RUnlock()

	if r == nil {
		return Frame{}, false
	}

	var raw image.Image
	if cam != nil {
		img, ok := cam.CurrentImage()
		if !ok {
			return Frame{}, false
		}
		raw = img
	}

	size := s.Size()
	if !size.Valid() {
		return Frame{}, false
	}

	at := s.now()
	img, err := r.Render(size, at)
	if err != nil || img == nil {
		s.logger.Debug("frame: render failed", "error", err)
		return Frame{}, false
	}

	return Frame{
		Image: toRGBA(img, size),
		Raw:   raw,
		Size:  size,
		PTS:   at,
	}, true
}

// toRGBA copies img into a new RGBA buffer of the given size, scaling when
// the renderer produced a different size.
func toRGBA(img image.Image, size Dimensions) *image.RGBA {
	rect := image.Rect(0, 0, size.Width, size.Height)
	dst := image.NewRGBA(rect)
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		draw.Draw(dst, rect, img, b.Min, draw.Src)
		return dst
	}
	draw.BiLinear.Scale(dst, rect, img, b, draw.Src, nil)
	return dst
}
