package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"backup-orchestrator/internal/backup"
)

// S3Provider stores artifacts in an Amazon S3 bucket.
type S3Provider struct {
	client *s3.S3
	bucket string
}

// NewS3Provider creates an S3-backed provider.
func NewS3Provider(config *S3Config) (*S3Provider, error) {
	if config == nil {
		return nil, backup.NewValidationError("S3 storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, backup.NewStorageError("failed to create AWS session", err)
	}

	return &S3Provider{
		client: s3.New(sess),
		bucket: config.Bucket,
	}, nil
}

// Name returns the disk name.
func (sp *S3Provider) Name() string {
	return "s3"
}

// Upload stores an artifact object.
func (sp *S3Provider) Upload(ctx context.Context, key string, data []byte) error {
	_, err := sp.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(sp.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return backup.NewStorageError("failed to upload artifact to S3", err)
	}
	return nil
}

// Download retrieves an artifact object.
func (sp *S3Provider) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := sp.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sp.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, backup.NewStorageError("failed to download artifact from S3", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, backup.NewStorageError("failed to read artifact body", err)
	}
	return data, nil
}

// Exists reports whether an artifact object is present.
func (sp *S3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := sp.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sp.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, backup.NewStorageError("failed to check artifact in S3", err)
	}
	return true, nil
}

// Delete removes an artifact object. S3 deletes are idempotent.
func (sp *S3Provider) Delete(ctx context.Context, key string) error {
	_, err := sp.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sp.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return backup.NewStorageError("failed to delete artifact from S3", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable and listable.
func (sp *S3Provider) HealthCheck(ctx context.Context) error {
	_, err := sp.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(sp.bucket),
	})
	if err != nil {
		return backup.NewStorageError("S3 health check failed: bucket not accessible", err)
	}

	_, err = sp.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(sp.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return backup.NewStorageError("S3 health check failed: cannot list objects", err)
	}

	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
