package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"default", DefaultFormat(), false},
		{"stereo 24-bit", Format{SampleRate: 44100, Channels: 2, BitDepth: 24}, false},
		{"zero rate", Format{SampleRate: 0, Channels: 1, BitDepth: 16}, true},
		{"no channels", Format{SampleRate: 48000, Channels: 0, BitDepth: 16}, true},
		{"8-bit", Format{SampleRate: 48000, Channels: 1, BitDepth: 8}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("error %v does not wrap ErrInvalidFormat", err)
			}
		})
	}
}

func TestFormatFrameDuration(t *testing.T) {
	f := DefaultFormat()
	if got := f.FrameDuration(960); got != 20*time.Millisecond {
		t.Errorf("FrameDuration(960) = %v, want 20ms", got)
	}
	if got := (Format{}).FrameDuration(960); got != 0 {
		t.Errorf("zero-rate FrameDuration = %v, want 0", got)
	}
}

func TestCapture_ToneDelivery(t *testing.T) {
	dev := NewToneDevice(DefaultFormat(), 440)
	var fake time.Duration = 5 * time.Second
	dev.SetTimeSource(func() time.Duration { return fake })

	capture := NewCapture(dev, nil)

	var mu sync.Mutex
	var got []Buffer
	if err := capture.Start(func(b Buffer) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !capture.Running() {
		t.Fatal("Running() = false after Start")
	}
	if err := capture.Start(func(Buffer) {}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	capture.Stop()
	if capture.Running() {
		t.Fatal("Running() = true after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 3 {
		t.Fatalf("got %d buffers, want >= 3", len(got))
	}
	for i, b := range got {
		if b.Frames != 960 {
			t.Errorf("buffer %d frames = %d, want 960", i, b.Frames)
		}
		if len(b.Data) != b.Frames*2 {
			t.Errorf("buffer %d data len = %d, want %d", i, len(b.Data), b.Frames*2)
		}
		want := fake + time.Duration(i)*20*time.Millisecond
		if b.PTS != want {
			t.Errorf("buffer %d PTS = %v, want %v", i, b.PTS, want)
		}
	}

	stats := capture.Stats()
	if stats.Buffers < uint64(len(got)) {
		t.Errorf("stats buffers = %d, want >= %d", stats.Buffers, len(got))
	}
}

func TestCapture_StopIdempotent(t *testing.T) {
	capture := NewCapture(NewToneDevice(DefaultFormat(), 220), nil)
	capture.Stop()
	if err := capture.Start(func(Buffer) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	capture.Stop()
	capture.Stop()
}

func TestStaticPermission(t *testing.T) {
	for _, granted := range []bool{true, false} {
		done := make(chan bool, 1)
		StaticPermission(granted).RequestMicrophone(func(g bool) { done <- g })
		select {
		case got := <-done:
			if got != granted {
				t.Errorf("granted = %v, want %v", got, granted)
			}
		case <-time.After(time.Second):
			t.Fatal("permission callback never fired")
		}
	}
}

func TestEnvPermission(t *testing.T) {
	t.Setenv("SCENEREC_TEST_MIC", "granted")
	done := make(chan bool, 1)
	EnvPermission("SCENEREC_TEST_MIC").RequestMicrophone(func(g bool) { done <- g })
	if !<-done {
		t.Error("expected granted")
	}

	t.Setenv("SCENEREC_TEST_MIC", "denied")
	EnvPermission("SCENEREC_TEST_MIC").RequestMicrophone(func(g bool) { done <- g })
	if <-done {
		t.Error("expected denied")
	}
}

func TestMicrophoneStateString(t *testing.T) {
	if MicrophoneEnabled.String() != "enabled" || MicrophoneDisabled.String() != "disabled" || MicrophoneUnknown.String() != "unknown" {
		t.Error("unexpected MicrophoneState strings")
	}
}
