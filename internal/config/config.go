// Package config loads the scenerec daemon configuration from YAML, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tiroq/scenerec/internal/diaglog"
	"github.com/tiroq/scenerec/pkg/audio"
	"github.com/tiroq/scenerec/pkg/container"
	"github.com/tiroq/scenerec/pkg/export"
	"github.com/tiroq/scenerec/pkg/frame"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCENEREC_CONTAINER_QUEUE_DEPTH.
const EnvPrefix = "SCENEREC"

type Config struct {
	OutputDir    string          `mapstructure:"output_dir"`
	MinFreeBytes int64           `mapstructure:"min_free_bytes"`
	Metadata     bool            `mapstructure:"metadata"`
	Container    ContainerConfig `mapstructure:"container"`
	Clock        ClockConfig     `mapstructure:"clock"`
	Display      DisplayConfig   `mapstructure:"display"`
	Audio        AudioConfig     `mapstructure:"audio"`
	Export       ExportConfig    `mapstructure:"export"`
	Log          LogConfig       `mapstructure:"log"`
	Diag         DiagConfig      `mapstructure:"diag"`
	Status       StatusConfig    `mapstructure:"status"`
}

type ContainerConfig struct {
	FragmentMs           int    `mapstructure:"fragment_ms"`
	OptimizeForStreaming bool   `mapstructure:"optimize_for_streaming"`
	QueueDepth           int    `mapstructure:"queue_depth"`
	Quality              string `mapstructure:"quality"`
}

type ClockConfig struct {
	FPS int `mapstructure:"fps"`
}

type DisplayConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type AudioConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Device is "tone" (synthetic) or "gst" (GStreamer builds only).
	Device     string  `mapstructure:"device"`
	SampleRate int     `mapstructure:"sample_rate"`
	Channels   int     `mapstructure:"channels"`
	ToneHz     float64 `mapstructure:"tone_hz"`
}

type ExportConfig struct {
	Sink                  string `mapstructure:"sink"`
	Label                 string `mapstructure:"label"`
	LibraryDir            string `mapstructure:"library_dir"`
	Bucket                string `mapstructure:"bucket"`
	Region                string `mapstructure:"region"`
	Prefix                string `mapstructure:"prefix"`
	Endpoint              string `mapstructure:"endpoint"`
	AccessKeyID           string `mapstructure:"access_key_id"`
	SecretAccessKey       string `mapstructure:"secret_access_key"`
	AzureConnectionString string `mapstructure:"azure_connection_string"`
	AzureContainer        string `mapstructure:"azure_container"`
	B2Account             string `mapstructure:"b2_account"`
	B2Key                 string `mapstructure:"b2_key"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type DiagConfig struct {
	Path string `mapstructure:"path"`
	// MaxSizeMB rotates the diagnostic log once it reaches this size.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// Backups is how many rotated files are kept; 0 truncates in place.
	Backups int `mapstructure:"backups"`
}

type StatusConfig struct {
	// Listen is the websocket status feed address; empty disables it.
	Listen string `mapstructure:"listen"`
}

func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		OutputDir:    filepath.Join(home, "Movies", "scenerec", "sessions"),
		MinFreeBytes: 256 << 20,
		Metadata:     true,
		Container: ContainerConfig{
			FragmentMs: int(container.DefaultFragmentDuration / time.Millisecond),
			QueueDepth: 8,
			Quality:    string(container.QualityAuto),
		},
		Clock:   ClockConfig{FPS: 30},
		Display: DisplayConfig{Width: 1170, Height: 2532},
		Audio: AudioConfig{
			Enabled:    true,
			Device:     "tone",
			SampleRate: 48000,
			Channels:   1,
			ToneHz:     440,
		},
		Export: ExportConfig{
			Sink:       "library",
			Label:      "Scene",
			LibraryDir: filepath.Join(home, "Movies", "scenerec"),
		},
		Log:  LogConfig{Format: "text", Level: "info"},
		Diag: DiagConfig{
			Path:      filepath.Join(home, ".cache", "scenerec", "diag.ndjson"),
			MaxSizeMB: 10,
			Backups:   1,
		},
	}
}

// Load reads cfgFile, or scenerec.yaml from $HOME/.config/scenerec and the
// working directory, over Default(). A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scenerec")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "scenerec"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// that are absent from the file.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("output_dir", c.OutputDir)
	v.SetDefault("min_free_bytes", c.MinFreeBytes)
	v.SetDefault("metadata", c.Metadata)
	v.SetDefault("container.fragment_ms", c.Container.FragmentMs)
	v.SetDefault("container.optimize_for_streaming", c.Container.OptimizeForStreaming)
	v.SetDefault("container.queue_depth", c.Container.QueueDepth)
	v.SetDefault("container.quality", c.Container.Quality)
	v.SetDefault("clock.fps", c.Clock.FPS)
	v.SetDefault("display.width", c.Display.Width)
	v.SetDefault("display.height", c.Display.Height)
	v.SetDefault("audio.enabled", c.Audio.Enabled)
	v.SetDefault("audio.device", c.Audio.Device)
	v.SetDefault("audio.sample_rate", c.Audio.SampleRate)
	v.SetDefault("audio.channels", c.Audio.Channels)
	v.SetDefault("audio.tone_hz", c.Audio.ToneHz)
	v.SetDefault("export.sink", c.Export.Sink)
	v.SetDefault("export.label", c.Export.Label)
	v.SetDefault("export.library_dir", c.Export.LibraryDir)
	v.SetDefault("export.bucket", c.Export.Bucket)
	v.SetDefault("export.region", c.Export.Region)
	v.SetDefault("export.prefix", c.Export.Prefix)
	v.SetDefault("export.endpoint", c.Export.Endpoint)
	v.SetDefault("export.access_key_id", c.Export.AccessKeyID)
	v.SetDefault("export.secret_access_key", c.Export.SecretAccessKey)
	v.SetDefault("export.azure_connection_string", c.Export.AzureConnectionString)
	v.SetDefault("export.azure_container", c.Export.AzureContainer)
	v.SetDefault("export.b2_account", c.Export.B2Account)
	v.SetDefault("export.b2_key", c.Export.B2Key)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("diag.path", c.Diag.Path)
	v.SetDefault("diag.max_size_mb", c.Diag.MaxSizeMB)
	v.SetDefault("diag.backups", c.Diag.Backups)
	v.SetDefault("status.listen", c.Status.Listen)
}

var validSinks = map[string]bool{
	"": true, "none": true, "library": true, "s3": true, "gcs": true, "azure": true, "b2": true,
}

// Validate checks the config and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.MinFreeBytes < 0 {
		errs = append(errs, fmt.Errorf("min_free_bytes %d must not be negative", c.MinFreeBytes))
	}
	if c.Container.FragmentMs < 100 || c.Container.FragmentMs > 60000 {
		errs = append(errs, fmt.Errorf("container.fragment_ms must be between 100 and 60000, got %d", c.Container.FragmentMs))
	}
	if c.Container.QueueDepth < 1 || c.Container.QueueDepth > 1024 {
		errs = append(errs, fmt.Errorf("container.queue_depth must be between 1 and 1024, got %d", c.Container.QueueDepth))
	}
	if q := container.QualityPreset(c.Container.Quality); q != "" && !q.Valid() {
		errs = append(errs, fmt.Errorf("container.quality %q is not valid (use auto, low, medium, high or ultra)", q))
	}
	if c.Clock.FPS < 1 || c.Clock.FPS > 120 {
		errs = append(errs, fmt.Errorf("clock.fps must be between 1 and 120, got %d", c.Clock.FPS))
	}
	if !c.Dimensions().Valid() {
		errs = append(errs, fmt.Errorf("display %dx%d is not a valid size", c.Display.Width, c.Display.Height))
	}
	if c.Audio.Enabled {
		if c.Audio.Device != "tone" && c.Audio.Device != "gst" {
			errs = append(errs, fmt.Errorf("audio.device %q is not valid (use tone or gst)", c.Audio.Device))
		}
		if err := c.AudioFormat().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		}
	}
	if !validSinks[strings.ToLower(c.Export.Sink)] {
		errs = append(errs, fmt.Errorf("export.sink %q is not valid", c.Export.Sink))
	}
	if c.Diag.MaxSizeMB < 1 || c.Diag.MaxSizeMB > 1024 {
		errs = append(errs, fmt.Errorf("diag.max_size_mb must be between 1 and 1024, got %d", c.Diag.MaxSizeMB))
	}
	if c.Diag.Backups < 0 || c.Diag.Backups > 10 {
		errs = append(errs, fmt.Errorf("diag.backups must be between 0 and 10, got %d", c.Diag.Backups))
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not valid (use text or json)", c.Log.Format))
	}
	return errors.Join(errs...)
}

// DiagOptions sizes the diagnostic log file.
func (c *Config) DiagOptions() []diaglog.Option {
	return []diaglog.Option{
		diaglog.WithMaxSize(int64(c.Diag.MaxSizeMB) * 1024 * 1024),
		diaglog.WithBackups(c.Diag.Backups),
	}
}

// Dimensions is the native display size frames are fitted to.
func (c *Config) Dimensions() frame.Dimensions {
	return frame.Dimensions{Width: c.Display.Width, Height: c.Display.Height}
}

// FragmentDuration is container.fragment_ms as a duration.
func (c *Config) FragmentDuration() time.Duration {
	return time.Duration(c.Container.FragmentMs) * time.Millisecond
}

// AudioFormat is the capture format for 16-bit PCM at the configured rate.
func (c *Config) AudioFormat() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels, BitDepth: 16}
}

// ExportSink maps the export section onto export.Config.
func (c *Config) ExportSink() export.Config {
	e := c.Export
	return export.Config{
		Sink:       strings.ToLower(e.Sink),
		Label:      e.Label,
		LibraryDir: e.LibraryDir,
		S3: export.S3Config{
			Bucket:          e.Bucket,
			Region:          e.Region,
			Prefix:          e.Prefix,
			AccessKeyID:     e.AccessKeyID,
			SecretAccessKey: e.SecretAccessKey,
			Endpoint:        e.Endpoint,
		},
		GCS: export.GCSConfig{Bucket: e.Bucket, Prefix: e.Prefix},
		Azure: export.AzureConfig{
			ConnectionString: e.AzureConnectionString,
			Container:        e.AzureContainer,
			Prefix:           e.Prefix,
		},
		B2: export.B2Config{
			Account: e.B2Account,
			Key:     e.B2Key,
			Bucket:  e.Bucket,
			Prefix:  e.Prefix,
		},
	}
}
