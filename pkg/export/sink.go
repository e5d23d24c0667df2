package export

import (
	"context"
	"fmt"
)

// Config selects and configures one sink.
type Config struct {
	// Sink is one of "library", "s3", "gcs", "azure", "b2" or "none".
	Sink       string
	Label      string
	LibraryDir string
	S3         S3Config
	GCS        GCSConfig
	Azure      AzureConfig
	B2         B2Config
}

// NewSink builds the sink named by cfg.Sink. "none" and "" return a nil
// Sink and no error.
func NewSink(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return nil, nil
	case "library":
		if cfg.LibraryDir == "" {
			return nil, fmt.Errorf("%w: library dir is required", ErrNotConfigured)
		}
		return NewLibrarySink(cfg.LibraryDir, cfg.Label), nil
	case "s3":
		c := cfg.S3
		c.Label = cfg.Label
		return NewS3Sink(ctx, c)
	case "gcs":
		c := cfg.GCS
		c.Label = cfg.Label
		return NewGCSSink(ctx, c)
	case "azure":
		c := cfg.Azure
		c.Label = cfg.Label
		return NewAzureSink(c)
	case "b2":
		c := cfg.B2
		c.Label = cfg.Label
		return NewB2Sink(c)
	default:
		return nil, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}
