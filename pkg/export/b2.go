package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Backblaze/blazer/b2"
)

// B2Config configures a Backblaze B2 bucket.
type B2Config struct {
	Account string
	Key     string
	Bucket  string
	Prefix  string
	Label   string
}

// B2Sink uploads recordings to Backblaze B2. The client is created lazily
// because creating it authorizes the account.
type B2Sink struct {
	cfg   B2Config
	name  Namer
	cache authCache

	mu     sync.Mutex
	bucket *b2.Bucket
}

func NewB2Sink(cfg B2Config) (*B2Sink, error) {
	if cfg.Account == "" || cfg.Key == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: b2 account, key and bucket are required", ErrNotConfigured)
	}
	return &B2Sink{cfg: cfg, name: LibraryNamer(cfg.Label)}, nil
}

func (s *B2Sink) Name() string { return "b2" }

func (s *B2Sink) Authorization() Authorization { return s.cache.get() }

func (s *B2Sink) RequestAuthorization(ctx context.Context) (Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, err := b2.NewClient(ctx, s.cfg.Account, s.cfg.Key)
	if err != nil {
		if ctx.Err() != nil {
			return s.cache.get(), err
		}
		return s.cache.set(Denied), nil
	}
	bucket, err := client.Bucket(ctx, s.cfg.Bucket)
	if err != nil {
		return s.cache.set(Restricted), nil
	}
	s.bucket = bucket
	return s.cache.set(Authorized), nil
}

func (s *B2Sink) Export(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	bucket := s.bucket
	s.mu.Unlock()
	if bucket == nil {
		return "", ErrNotAuthorized
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(s.cfg.Prefix, s.name(path))
	w := bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return "b2://" + s.cfg.Bucket + "/" + key, nil
}
