package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/backup"
)

func newTestLocalProvider(t *testing.T) *LocalProvider {
	t.Helper()
	provider, err := NewLocalProvider(&LocalConfig{
		BasePath: t.TempDir(),
	})
	require.NoError(t, err)
	return provider
}

func TestNewLocalProviderValidation(t *testing.T) {
	_, err := NewLocalProvider(nil)
	require.Error(t, err)

	_, err = NewLocalProvider(&LocalConfig{})
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
}

func TestLocalProviderRoundTrip(t *testing.T) {
	provider := newTestLocalProvider(t)
	ctx := context.Background()

	key := ArtifactPath("org-1", "bkp-20240101-000000-abcd1234.zip")
	payload := []byte("artifact bytes")

	exists, err := provider.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.Upload(ctx, key, payload))

	exists, err = provider.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := provider.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, provider.Delete(ctx, key))

	exists, err = provider.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalProviderDownloadMissing(t *testing.T) {
	provider := newTestLocalProvider(t)

	_, err := provider.Download(context.Background(), ArtifactPath("org-1", "missing.zip"))
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeNotFound))
}

func TestLocalProviderDeleteMissingIsIdempotent(t *testing.T) {
	provider := newTestLocalProvider(t)

	err := provider.Delete(context.Background(), ArtifactPath("org-1", "missing.zip"))
	assert.NoError(t, err)
}

func TestLocalProviderHealthCheck(t *testing.T) {
	provider := newTestLocalProvider(t)
	assert.NoError(t, provider.HealthCheck(context.Background()))
}

func TestArtifactPathSanitization(t *testing.T) {
	tests := []struct {
		name     string
		orgID    string
		artifact string
		want     string
	}{
		{
			name:     "clean inputs",
			orgID:    "org-1",
			artifact: "bkp-1.zip",
			want:     "backups/org-1/bkp-1.zip",
		},
		{
			name:     "path traversal in org",
			orgID:    "../../etc",
			artifact: "bkp-1.zip",
			want:     "backups/____etc/bkp-1.zip",
		},
		{
			name:     "separators in artifact",
			orgID:    "org-1",
			artifact: "a/b\\c.zip",
			want:     "backups/org-1/a_b_c.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactPath(tt.orgID, tt.artifact))
		})
	}
}

func TestLocalProviderKeysStayUnderBasePath(t *testing.T) {
	provider := newTestLocalProvider(t)
	ctx := context.Background()

	key := ArtifactPath("../../escape", "bkp.zip")
	require.NoError(t, provider.Upload(ctx, key, []byte("x")))

	// The sanitized key resolves inside the base path.
	resolved := filepath.Join(provider.BasePath(), filepath.FromSlash(key))
	rel, err := filepath.Rel(provider.BasePath(), resolved)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}
