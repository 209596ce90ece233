package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"backup-orchestrator/internal/backup"
)

// LocalProvider stores artifacts on the local filesystem.
type LocalProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalProvider creates a filesystem-backed provider rooted at the
// configured base path.
func NewLocalProvider(config *LocalConfig) (*LocalProvider, error) {
	if config == nil {
		return nil, backup.NewValidationError("local storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, backup.NewValidationError("invalid local storage configuration", err)
	}

	perms := config.Permissions
	if perms == 0 {
		perms = 0750
	}

	provider := &LocalProvider{
		basePath:    config.BasePath,
		permissions: perms,
	}

	if err := os.MkdirAll(config.BasePath, perms); err != nil {
		return nil, backup.NewStorageError("failed to create base directory", err)
	}

	return provider, nil
}

// Name returns the disk name.
func (lp *LocalProvider) Name() string {
	return "local"
}

// Upload writes an artifact, creating parent directories as needed.
func (lp *LocalProvider) Upload(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(lp.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), lp.permissions); err != nil {
		return backup.NewStorageError("failed to create artifact directory", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return backup.NewStorageError("failed to write artifact", err)
	}
	return nil
}

// Download reads an artifact.
func (lp *LocalProvider) Download(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(lp.basePath, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backup.NewNotFoundError(fmt.Sprintf("artifact %s not found", key), err)
		}
		return nil, backup.NewStorageError("failed to read artifact", err)
	}
	return data, nil
}

// Exists reports whether an artifact is present.
func (lp *LocalProvider) Exists(ctx context.Context, key string) (bool, error) {
	path := filepath.Join(lp.basePath, filepath.FromSlash(key))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, backup.NewStorageError("failed to stat artifact", err)
	}
	return true, nil
}

// Delete removes an artifact. Deleting a missing artifact is not an error.
func (lp *LocalProvider) Delete(ctx context.Context, key string) error {
	path := filepath.Join(lp.basePath, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return backup.NewStorageError("failed to delete artifact", err)
	}
	return nil
}

// HealthCheck verifies the base directory is writable and readable.
func (lp *LocalProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lp.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0640); err != nil {
		return backup.NewStorageError("storage health check failed: cannot write to base directory", err)
	}

	if _, err := os.ReadFile(testFile); err != nil {
		return backup.NewStorageError("storage health check failed: cannot read from base directory", err)
	}

	os.Remove(testFile)
	return nil
}

// BasePath returns the provider's root directory.
func (lp *LocalProvider) BasePath() string {
	return lp.basePath
}
