package scene

import (
	"context"
	"testing"
	"time"

	"github.com/tiroq/scenerec/pkg/frame"
	"github.com/tiroq/scenerec/pkg/recorder"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()
	defer r.Close()

	size := frame.Dimensions{Width: 64, Height: 128}
	img, err := r.Render(size, time.Second)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 128 {
		t.Fatalf("bounds = %v, want 64x128", b)
	}

	// The bottom-left corner is under the seconds bar only part of the time;
	// the center pixel is background and must be opaque.
	_, _, _, a := img.At(32, 64).RGBA()
	if a == 0 {
		t.Error("background is transparent")
	}
}

func TestRenderer_Resizes(t *testing.T) {
	r := NewRenderer()
	defer r.Close()

	if _, err := r.Render(frame.Dimensions{Width: 32, Height: 32}, 0); err != nil {
		t.Fatal(err)
	}
	img, err := r.Render(frame.Dimensions{Width: 48, Height: 16}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 48 || b.Dy() != 16 {
		t.Errorf("bounds after resize = %v, want 48x16", b)
	}
}

func TestRenderer_Animates(t *testing.T) {
	r := NewRenderer()
	defer r.Close()
	size := frame.Dimensions{Width: 32, Height: 32}

	a, err := r.Render(size, 0)
	if err != nil {
		t.Fatal(err)
	}
	first := a.At(16, 4)
	b, err := r.Render(size, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if first == b.At(16, 4) && a.At(4, 16) == b.At(4, 16) {
		t.Error("scene did not change over time")
	}
}

func TestRenderer_Prepare(t *testing.T) {
	r := NewRenderer()
	if r.Armed() {
		t.Fatal("armed before Prepare")
	}
	if err := r.Prepare(context.Background(), recorder.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	if !r.Armed() {
		t.Error("not armed after Prepare")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Prepare(ctx, recorder.SessionConfig{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestRenderer_WithSceneSource(t *testing.T) {
	r := NewRenderer()
	defer r.Close()
	src := frame.NewSceneSource(r, frame.StaticDisplay{Width: 40, Height: 80})
	f, ok := src.CurrentFrame()
	if !ok {
		t.Fatal("no frame")
	}
	if f.Image == nil || !f.Size.Valid() {
		t.Errorf("frame = %+v", f.Size)
	}
}
