package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket string
	Prefix string
	Label  string
}

// GCSSink streams recordings into a GCS bucket.
type GCSSink struct {
	cfg    GCSConfig
	client *storage.Client
	name   Namer
	cache  authCache
}

// NewGCSSink uses application default credentials unless opts say
// otherwise.
func NewGCSSink(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", ErrNotConfigured)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSSink{cfg: cfg, client: client, name: LibraryNamer(cfg.Label)}, nil
}

func (s *GCSSink) Name() string { return "gcs" }

func (s *GCSSink) Authorization() Authorization { return s.cache.get() }

func (s *GCSSink) RequestAuthorization(ctx context.Context) (Authorization, error) {
	_, err := s.client.Bucket(s.cfg.Bucket).Attrs(ctx)
	if err == nil {
		return s.cache.set(Authorized), nil
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return s.cache.set(Restricted), nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusUnauthorized) {
		return s.cache.set(Denied), nil
	}
	return s.cache.get(), err
}

func (s *GCSSink) Export(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(s.cfg.Prefix, s.name(path))
	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "video/mp4"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return "gs://" + s.cfg.Bucket + "/" + key, nil
}

// Close releases the client.
func (s *GCSSink) Close() error { return s.client.Close() }
