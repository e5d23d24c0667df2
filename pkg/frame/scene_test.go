package frame

import (
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"
)

func solidRenderer(w, h int, c color.RGBA) RendererFunc {
	return func(size Dimensions, at time.Duration) (image.Image, error) {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
		return img, nil
	}
}

type stubCamera struct {
	img image.Image
}

func (c stubCamera) CurrentImage() (image.Image, bool) {
	return c.img, c.img != nil
}

func TestDimensionsPortrait(t *testing.T) {
	tests := []struct {
		in   Dimensions
		want Dimensions
	}{
		{Dimensions{1920, 1080}, Dimensions{1080, 1920}},
		{Dimensions{1080, 1920}, Dimensions{1080, 1920}},
		{Dimensions{500, 500}, Dimensions{500, 500}},
	}
	for _, tt := range tests {
		if got := tt.in.Portrait(); got != tt.want {
			t.Errorf("Portrait(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDimensionsValid(t *testing.T) {
	if (Dimensions{Width: 0, Height: 10}).Valid() {
		t.Error("zero width should be invalid")
	}
	if (Dimensions{Width: 11, Height: 10}).Valid() {
		t.Error("odd width should be invalid")
	}
	if !(Dimensions{Width: 12, Height: 10}).Valid() {
		t.Error("12x10 should be valid")
	}
}

func TestSceneSource_NoRendererYieldsNothing(t *testing.T) {
	src := NewSceneSource(nil, StaticDisplay{Width: 64, Height: 32})
	if _, ok := src.CurrentFrame(); ok {
		t.Fatal("expected no frame without renderer")
	}

	src.Attach(solidRenderer(32, 64, color.RGBA{R: 255, A: 255}))
	if _, ok := src.CurrentFrame(); !ok {
		t.Fatal("expected frame after Attach")
	}

	src.Detach()
	if _, ok := src.CurrentFrame(); ok {
		t.Fatal("expected no frame after Detach")
	}
}

func TestSceneSource_PortraitSizeAndTimestamp(t *testing.T) {
	src := NewSceneSource(
		solidRenderer(32, 64, color.RGBA{G: 255, A: 255}),
		StaticDisplay{Width: 64, Height: 32},
		WithTimeSource(func() time.Duration { return 42 * time.Millisecond }),
	)

	f, ok := src.CurrentFrame()
	if !ok {
		t.Fatal("expected frame")
	}
	if f.Size != (Dimensions{Width: 32, Height: 64}) {
		t.Errorf("size = %v, want 32x64", f.Size)
	}
	if f.Image.Bounds().Dx() != 32 || f.Image.Bounds().Dy() != 64 {
		t.Errorf("image bounds = %v", f.Image.Bounds())
	}
	if f.PTS != 42*time.Millisecond {
		t.Errorf("PTS = %v, want 42ms", f.PTS)
	}
	if got := f.Image.RGBAAt(5, 5); got.G != 255 {
		t.Errorf("pixel = %v, want green", got)
	}
}

func TestSceneSource_ScalesMismatchedRender(t *testing.T) {
	src := NewSceneSource(
		solidRenderer(10, 10, color.RGBA{B: 200, A: 255}),
		StaticDisplay{Width: 40, Height: 80},
	)
	f, ok := src.CurrentFrame()
	if !ok {
		t.Fatal("expected frame")
	}
	if f.Image.Bounds().Dx() != 40 || f.Image.Bounds().Dy() != 80 {
		t.Fatalf("image bounds = %v, want 40x80", f.Image.Bounds())
	}
	if got := f.Image.RGBAAt(20, 40); got.B < 190 {
		t.Errorf("scaled pixel = %v, want blue", got)
	}
}

func TestSceneSource_RecalculatesOrientationPerCall(t *testing.T) {
	var landscape atomic.Bool
	display := displayFunc(func() Dimensions {
		if landscape.Load() {
			return Dimensions{Width: 80, Height: 40}
		}
		return Dimensions{Width: 40, Height: 80}
	})
	src := NewSceneSource(solidRenderer(40, 80, color.RGBA{A: 255}), display)

	first, _ := src.CurrentFrame()
	landscape.Store(true)
	second, _ := src.CurrentFrame()
	if first.Size != second.Size {
		t.Errorf("sizes differ across orientation: %v vs %v", first.Size, second.Size)
	}
}

func TestSceneSource_CameraGate(t *testing.T) {
	cam := &stubCamera{}
	src := NewSceneSource(
		solidRenderer(8, 8, color.RGBA{A: 255}),
		StaticDisplay{Width: 8, Height: 8},
		WithCamera(cam),
	)
	if _, ok := src.CurrentFrame(); ok {
		t.Fatal("expected no frame without camera data")
	}

	cam.img = image.NewRGBA(image.Rect(0, 0, 4, 4))
	f, ok := src.CurrentFrame()
	if !ok {
		t.Fatal("expected frame with camera data")
	}
	if f.Raw == nil {
		t.Error("expected raw camera image on frame")
	}
}

func TestSceneSource_RenderErrorYieldsNothing(t *testing.T) {
	src := NewSceneSource(
		RendererFunc(func(Dimensions, time.Duration) (image.Image, error) {
			return nil, errors.New("gpu lost")
		}),
		StaticDisplay{Width: 8, Height: 8},
	)
	if _, ok := src.CurrentFrame(); ok {
		t.Fatal("expected no frame on render error")
	}
}

func TestTickerClock_StartStop(t *testing.T) {
	clock := NewTickerClock(time.Millisecond)
	var ticks atomic.Int64
	clock.Start(func() { ticks.Add(1) })
	clock.Start(func() { t.Error("second Start should be ignored") })

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	clock.Stop()
	if ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want >= 3", ticks.Load())
	}

	after := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	if ticks.Load() != after {
		t.Error("clock kept ticking after Stop")
	}
	clock.Stop()
}

type displayFunc func() Dimensions

func (f displayFunc) NativeBounds() Dimensions { return f() }
