package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"backup-orchestrator/internal/backup"
)

// GCSProvider stores artifacts in a Google Cloud Storage bucket.
type GCSProvider struct {
	client     *gcstorage.Client
	bucketName string
}

// NewGCSProvider creates a GCS-backed provider. With no credentials path the
// client falls back to application default credentials.
func NewGCSProvider(ctx context.Context, config *GCSConfig) (*GCSProvider, error) {
	if config == nil {
		return nil, backup.NewValidationError("GCS storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError("invalid GCS storage configuration", err)
	}

	var client *gcstorage.Client
	var err error

	if config.CredentialsPath != "" {
		client, err = gcstorage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = gcstorage.NewClient(ctx)
	}
	if err != nil {
		return nil, backup.NewStorageError("failed to create GCS client", err)
	}

	return &GCSProvider{
		client:     client,
		bucketName: config.Bucket,
	}, nil
}

// Name returns the disk name.
func (gp *GCSProvider) Name() string {
	return "gcs"
}

// Upload stores an artifact object.
func (gp *GCSProvider) Upload(ctx context.Context, key string, data []byte) error {
	writer := gp.client.Bucket(gp.bucketName).Object(key).NewWriter(ctx)
	writer.ContentType = "application/zip"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return backup.NewStorageError("failed to write artifact to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return backup.NewStorageError("failed to upload artifact to GCS", err)
	}
	return nil
}

// Download retrieves an artifact object.
func (gp *GCSProvider) Download(ctx context.Context, key string) ([]byte, error) {
	reader, err := gp.client.Bucket(gp.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, backup.NewStorageError("failed to download artifact from GCS", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, backup.NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// Exists reports whether an artifact object is present.
func (gp *GCSProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := gp.client.Bucket(gp.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, backup.NewStorageError("failed to check artifact in GCS", err)
	}
	return true, nil
}

// Delete removes an artifact object. A missing object is not an error.
func (gp *GCSProvider) Delete(ctx context.Context, key string) error {
	err := gp.client.Bucket(gp.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return backup.NewStorageError("failed to delete artifact from GCS", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable and listable.
func (gp *GCSProvider) HealthCheck(ctx context.Context) error {
	if _, err := gp.client.Bucket(gp.bucketName).Attrs(ctx); err != nil {
		return backup.NewStorageError("GCS health check failed: bucket not accessible", err)
	}

	it := gp.client.Bucket(gp.bucketName).Objects(ctx, &gcstorage.Query{})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return backup.NewStorageError("GCS health check failed: cannot list objects", err)
	}

	return nil
}

// Close releases the underlying client.
func (gp *GCSProvider) Close() error {
	return gp.client.Close()
}
