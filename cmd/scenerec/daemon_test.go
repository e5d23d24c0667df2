package main

import (
	"bytes"
	"context"
	"image"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/scenerec/internal/config"
	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/internal/ipc"
	"github.com/tiroq/scenerec/pkg/container"
	"github.com/tiroq/scenerec/pkg/export"
	"github.com/tiroq/scenerec/pkg/frame"
	"github.com/tiroq/scenerec/pkg/recorder"
	"github.com/tiroq/scenerec/testutil"
)

var testSize = frame.Dimensions{Width: 16, Height: 16}

func countingSource() frame.Source {
	var mu sync.Mutex
	n := 0
	return frame.SourceFunc(func() (frame.Frame, bool) {
		mu.Lock()
		defer mu.Unlock()
		pts := time.Second + time.Duration(n)*time.Second/30
		n++
		return frame.Frame{
			Image: image.NewRGBA(image.Rect(0, 0, testSize.Width, testSize.Height)),
			Size:  testSize,
			PTS:   pts,
		}, true
	})
}

func newTestDaemon(t *testing.T, opts ...recorder.Option) *daemon {
	t.Helper()
	d, _ := newTestDaemonWithLogs(t, opts...)
	return d
}

func newTestDaemonWithLogs(t *testing.T, opts ...recorder.Option) (*daemon, *testutil.LogCapture) {
	t.Helper()
	t.Setenv(ipc.HomeEnv, t.TempDir())

	capture := testutil.NewLogCapture()
	d := newDaemon(capture.Logger(), diaglog.NewNoOp())
	session := recorder.SessionConfig{OutputDir: t.TempDir()}
	base := []recorder.Option{
		recorder.WithObserver(d),
		recorder.WithSessionConfig(session),
		recorder.WithWriterOptions(container.WithQueueDepth(64), container.WithMinFreeBytes(0)),
		recorder.WithMetadata(false, "test"),
		recorder.WithLogger(capture.Logger()),
	}
	d.ctrl = recorder.NewController(countingSource(), append(base, opts...)...)
	if err := d.ctrl.Prepare(context.Background(), session); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return d, capture
}

func tickFrames(d *daemon, n int) {
	for i := 0; i < n; i++ {
		d.ctrl.Tick()
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleCommand_RecordAndStop(t *testing.T) {
	d := newTestDaemon(t)

	if err := d.handleCommand(ipc.CmdRecord); err != nil {
		t.Fatalf("record: %v", err)
	}
	testutil.AssertEqual(t, recorder.StateRecording, d.ctrl.State(), "state after record")

	tickFrames(d, 20)
	if err := d.handleCommand(ipc.CmdStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return d.status().LastRecording != "" })

	st, err := ipc.ReadStatus()
	testutil.AssertNoError(t, err, "read status")
	testutil.AssertEqual(t, "stop", st.LastAction, "last action")
	testutil.AssertEqual(t, recorder.StateReadyToRecord.String(), d.status().State, "state after stop")

	path := d.status().LastRecording
	if _, err := os.Stat(path); err != nil {
		t.Errorf("recording %s missing: %v", path, err)
	}
}

func TestHandleCommand_PauseWhenIdle(t *testing.T) {
	d := newTestDaemon(t)

	err := d.handleCommand(ipc.CmdPause)
	testutil.AssertError(t, err, "pause while idle")
	testutil.AssertNotEqual(t, "", d.status().LastError, "last error")
}

func TestHandleCommand_StopWithoutFrames(t *testing.T) {
	d := newTestDaemon(t)

	_ = d.handleCommand(ipc.CmdRecord)
	_ = d.handleCommand(ipc.CmdStop)

	waitFor(t, 2*time.Second, func() bool { return d.status().LastError != "" })
	testutil.AssertEqual(t, "", d.status().LastRecording, "no recording")
}

func TestHandleCommand_Export(t *testing.T) {
	library := t.TempDir()
	d := newTestDaemon(t, recorder.WithExportSink(export.NewLibrarySink(library, "Scene")))

	_ = d.handleCommand(ipc.CmdRecord)
	tickFrames(d, 20)
	if err := d.handleCommand(ipc.CmdExport); err != nil {
		t.Fatalf("export: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return d.status().LastExport != "" })

	testutil.AssertStringContains(t, d.status().LastExport, library, "export destination")
}

func TestHandleCommand_Quit(t *testing.T) {
	d := newTestDaemon(t)

	_ = d.handleCommand(ipc.CmdQuit)
	_ = d.handleCommand(ipc.CmdQuit)

	select {
	case <-d.quit:
	default:
		t.Fatal("quit channel not closed")
	}
}

func TestHandleRemote(t *testing.T) {
	d := newTestDaemon(t)

	testutil.AssertErrorContains(t, d.handleRemote("rewind"), "unknown command", "remote command")
	testutil.AssertNoError(t, d.handleRemote("record"), "record")
	testutil.AssertEqual(t, "record", d.status().LastAction, "last action")
}

func TestWatchCommands(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.watchCommands(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := ipc.WriteCommand(ipc.CmdQuit); err != nil {
		t.Fatal(err)
	}
	select {
	case <-d.quit:
	case <-time.After(3 * time.Second):
		t.Fatal("command not picked up")
	}
}

func TestOnRecordingEnded_DiscardsFailedFile(t *testing.T) {
	d, logs := newTestDaemonWithLogs(t)
	path := t.TempDir() + "/partial.mp4"
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	d.OnRecordingEnded(path, false)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file still present: %v", err)
	}
	testutil.AssertEqual(t, "", d.status().LastRecording, "last recording")
	records := logs.Records("discarding incomplete recording")
	if len(records) != 1 {
		t.Fatalf("discard records = %d, want 1:\n%s", len(records), logs.String())
	}
	testutil.AssertStringContains(t, records[0], path, "discard record")
}

func TestNewAudioDevice(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		device  string
		wantDev bool
		wantErr bool
	}{
		{"disabled", false, "tone", false, false},
		{"tone", true, "tone", true, false},
		{"default", true, "", true, false},
		{"unknown", true, "alsa", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Audio.Enabled = tt.enabled
			cfg.Audio.Device = tt.device

			dev, err := newAudioDevice(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (dev != nil) != tt.wantDev {
				t.Errorf("device = %v, want present %v", dev, tt.wantDev)
			}
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = "/tmp/scenes"
	cfg.Container.OptimizeForStreaming = true
	cfg.Container.Quality = "high"

	got := sessionConfig(cfg)
	testutil.AssertEqual(t, "/tmp/scenes", got.OutputDir, "output dir")
	testutil.AssertTrue(t, got.OptimizeForStreaming, "streaming")
	testutil.AssertEqual(t, container.QualityPreset("high"), got.Quality, "quality")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, "scenerec dev\n", out.String(), "version output")
}
