package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenerec.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Clock.FPS != 30 || cfg.Container.QueueDepth != 8 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.FragmentDuration() != 2*time.Second {
		t.Errorf("FragmentDuration() = %v, want 2s", cfg.FragmentDuration())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
output_dir: /tmp/sessions
container:
  optimize_for_streaming: true
  quality: high
clock:
  fps: 24
audio:
  enabled: false
export:
  sink: s3
  bucket: recordings
  region: eu-west-1
  prefix: phone
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputDir != "/tmp/sessions" || cfg.Clock.FPS != 24 || !cfg.Container.OptimizeForStreaming {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Container.QueueDepth != 8 {
		t.Errorf("queue_depth = %d, want default 8", cfg.Container.QueueDepth)
	}

	sink := cfg.ExportSink()
	if sink.Sink != "s3" || sink.S3.Bucket != "recordings" || sink.S3.Region != "eu-west-1" || sink.S3.Prefix != "phone" {
		t.Errorf("ExportSink() = %+v", sink)
	}
	if sink.Label != "Scene" {
		t.Errorf("label = %q, want default", sink.Label)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "clock:\n  fps: 24\n")
	t.Setenv("SCENEREC_CLOCK_FPS", "60")
	t.Setenv("SCENEREC_CONTAINER_QUEUE_DEPTH", "32")
	t.Setenv("SCENEREC_EXPORT_SINK", "none")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Clock.FPS != 60 {
		t.Errorf("fps = %d, want 60 from env", cfg.Clock.FPS)
	}
	if cfg.Container.QueueDepth != 32 {
		t.Errorf("queue_depth = %d, want 32 from env", cfg.Container.QueueDepth)
	}
	if cfg.Export.Sink != "none" {
		t.Errorf("sink = %q, want none", cfg.Export.Sink)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "clock:\n  fps: 0\ncontainer:\n  quality: extreme\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"clock.fps", "container.quality"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "clock: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no output dir", func(c *Config) { c.OutputDir = "" }, "output_dir"},
		{"fragment too short", func(c *Config) { c.Container.FragmentMs = 10 }, "fragment_ms"},
		{"bad display", func(c *Config) { c.Display.Width = 0 }, "display"},
		{"bad device", func(c *Config) { c.Audio.Device = "alsa" }, "audio.device"},
		{"audio disabled ignores device", func(c *Config) { c.Audio.Enabled = false; c.Audio.Device = "alsa" }, ""},
		{"bad sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "sample rate"},
		{"bad sink", func(c *Config) { c.Export.Sink = "ftp" }, "export.sink"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"diag size zero", func(c *Config) { c.Diag.MaxSizeMB = 0 }, "diag.max_size_mb"},
		{"negative diag backups", func(c *Config) { c.Diag.Backups = -1 }, "diag.backups"},
		{"diag truncate in place", func(c *Config) { c.Diag.Backups = 0 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
