package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"backup-orchestrator/internal/backup"
)

// AzureProvider stores artifacts in an Azure Blob Storage container.
type AzureProvider struct {
	serviceURL    azblob.ServiceURL
	containerName string
}

// NewAzureProvider creates an Azure-backed provider.
func NewAzureProvider(config *AzureConfig) (*AzureProvider, error) {
	if config == nil {
		return nil, backup.NewValidationError("Azure storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, backup.NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, backup.NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureProvider{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
	}, nil
}

// Name returns the disk name.
func (ap *AzureProvider) Name() string {
	return "azure"
}

func (ap *AzureProvider) blobURL(key string) azblob.BlockBlobURL {
	return ap.serviceURL.NewContainerURL(ap.containerName).NewBlockBlobURL(key)
}

// Upload stores an artifact blob.
func (ap *AzureProvider) Upload(ctx context.Context, key string, data []byte) error {
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, ap.blobURL(key), azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024, // 4MB blocks
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/zip",
		},
	})
	if err != nil {
		return backup.NewStorageError("failed to upload artifact to Azure", err)
	}
	return nil
}

// Download retrieves an artifact blob.
func (ap *AzureProvider) Download(ctx context.Context, key string) ([]byte, error) {
	downloadResponse, err := ap.blobURL(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, backup.NewStorageError("failed to download artifact from Azure", err)
	}

	bodyStream := downloadResponse.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer bodyStream.Close()

	data, err := io.ReadAll(bodyStream)
	if err != nil {
		return nil, backup.NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// Exists reports whether an artifact blob is present.
func (ap *AzureProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := ap.blobURL(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, backup.NewStorageError("failed to check artifact in Azure", err)
	}
	return true, nil
}

// Delete removes an artifact blob. A missing blob is not an error.
func (ap *AzureProvider) Delete(ctx context.Context, key string) error {
	_, err := ap.blobURL(key).Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return backup.NewStorageError("failed to delete artifact from Azure", err)
	}
	return nil
}

// HealthCheck verifies the container is reachable and listable.
func (ap *AzureProvider) HealthCheck(ctx context.Context) error {
	containerURL := ap.serviceURL.NewContainerURL(ap.containerName)

	_, err := containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		MaxResults: 1,
	})
	if err != nil {
		return backup.NewStorageError("Azure health check failed: container not accessible", err)
	}

	return nil
}

func isAzureNotFound(err error) bool {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		return storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}
