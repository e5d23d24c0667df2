package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Label           string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores. Path
	// style addressing is used when set.
	Endpoint string
}

// S3Sink uploads recordings with the multipart upload manager.
type S3Sink struct {
	cfg      S3Config
	client   *s3.Client
	uploader *manager.Uploader
	name     Namer
	cache    authCache
}

// NewS3Sink loads AWS configuration from the environment, overridden by any
// static credentials in cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: s3 bucket and region are required", ErrNotConfigured)
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{
		cfg:      cfg,
		client:   client,
		uploader: manager.NewUploader(client),
		name:     LibraryNamer(cfg.Label),
	}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Authorization() Authorization { return s.cache.get() }

// RequestAuthorization checks the bucket is reachable with the configured
// credentials.
func (s *S3Sink) RequestAuthorization(ctx context.Context) (Authorization, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err == nil {
		return s.cache.set(Authorized), nil
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case http.StatusForbidden, http.StatusUnauthorized:
			return s.cache.set(Denied), nil
		case http.StatusNotFound:
			return s.cache.set(Restricted), nil
		}
	}
	return s.cache.get(), err
}

func (s *S3Sink) Export(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(s.cfg.Prefix, s.name(path))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return "", err
	}
	return "s3://" + s.cfg.Bucket + "/" + key, nil
}
