// Package storage moves backup artifacts between the engine and its
// configured storage backends. Providers deal in opaque artifact bytes; the
// archive package owns the artifact format.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"backup-orchestrator/internal/backup"
)

// Provider is a storage backend for backup artifacts. Keys are computed with
// ArtifactPath so every backend uses the same per-organization layout.
type Provider interface {
	// Name returns the disk name this provider serves ("local", "s3", ...).
	Name() string
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// ArtifactPath returns the backend key for an organization's artifact.
func ArtifactPath(orgID, artifactName string) string {
	return fmt.Sprintf("backups/%s/%s", sanitizeSegment(orgID), sanitizeSegment(artifactName))
}

// sanitizeSegment removes path separators and traversal sequences from a key
// segment.
func sanitizeSegment(segment string) string {
	sanitized := strings.ReplaceAll(segment, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}

// Config selects and configures a storage backend.
type Config struct {
	Disk  string       `yaml:"disk" json:"disk"`
	Local *LocalConfig `yaml:"local,omitempty" json:"local,omitempty"`
	S3    *S3Config    `yaml:"s3,omitempty" json:"s3,omitempty"`
	GCS   *GCSConfig   `yaml:"gcs,omitempty" json:"gcs,omitempty"`
	Azure *AzureConfig `yaml:"azure,omitempty" json:"azure,omitempty"`
}

// LocalConfig configures filesystem storage.
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" json:"base_path"`
	Permissions os.FileMode `yaml:"permissions" json:"permissions"`
}

// Validate checks the local storage configuration.
func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return backup.NewValidationError("local storage base path is required", nil)
	}
	return nil
}

// S3Config configures Amazon S3 storage.
type S3Config struct {
	Region    string `yaml:"region" json:"region"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

// Validate checks the S3 storage configuration.
func (c *S3Config) Validate() error {
	var errs backup.ValidationErrors
	if c.Region == "" {
		errs.Add("region", "S3 region is required", c.Region)
	}
	if c.Bucket == "" {
		errs.Add("bucket", "S3 bucket is required", c.Bucket)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// GCSConfig configures Google Cloud Storage.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	CredentialsPath string `yaml:"credentials_path,omitempty" json:"credentials_path,omitempty"`
}

// Validate checks the GCS storage configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return backup.NewValidationError("GCS bucket is required", nil)
	}
	return nil
}

// AzureConfig configures Azure Blob Storage.
type AzureConfig struct {
	AccountName   string `yaml:"account_name" json:"account_name"`
	AccountKey    string `yaml:"account_key" json:"account_key"`
	ContainerName string `yaml:"container_name" json:"container_name"`
}

// Validate checks the Azure storage configuration.
func (c *AzureConfig) Validate() error {
	var errs backup.ValidationErrors
	if c.AccountName == "" {
		errs.Add("account_name", "Azure account name is required", c.AccountName)
	}
	if c.AccountKey == "" {
		errs.Add("account_key", "Azure account key is required", "")
	}
	if c.ContainerName == "" {
		errs.Add("container_name", "Azure container name is required", c.ContainerName)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
