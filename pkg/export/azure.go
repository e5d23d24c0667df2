package export

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureConfig configures an Azure Blob Storage container.
type AzureConfig struct {
	ConnectionString string
	Container        string
	Prefix           string
	Label            string
}

// AzureSink uploads recordings as block blobs.
type AzureSink struct {
	cfg    AzureConfig
	client *azblob.Client
	name   Namer
	cache  authCache
}

func NewAzureSink(cfg AzureConfig) (*AzureSink, error) {
	if cfg.ConnectionString == "" || cfg.Container == "" {
		return nil, fmt.Errorf("%w: azure connection string and container are required", ErrNotConfigured)
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return &AzureSink{cfg: cfg, client: client, name: LibraryNamer(cfg.Label)}, nil
}

func (s *AzureSink) Name() string { return "azure" }

func (s *AzureSink) Authorization() Authorization { return s.cache.get() }

func (s *AzureSink) RequestAuthorization(ctx context.Context) (Authorization, error) {
	_, err := s.client.ServiceClient().NewContainerClient(s.cfg.Container).GetProperties(ctx, nil)
	switch {
	case err == nil:
		return s.cache.set(Authorized), nil
	case bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted):
		return s.cache.set(Restricted), nil
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions):
		return s.cache.set(Denied), nil
	}
	return s.cache.get(), err
}

func (s *AzureSink) Export(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	blob := objectKey(s.cfg.Prefix, s.name(path))
	if _, err := s.client.UploadFile(ctx, s.cfg.Container, blob, f, nil); err != nil {
		return "", err
	}
	return s.client.URL() + s.cfg.Container + "/" + blob, nil
}
