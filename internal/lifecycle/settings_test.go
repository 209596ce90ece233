package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/store"
)

func newTestSettingsService(t *testing.T) (*SettingsService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	key, err := archive.GenerateKey()
	require.NoError(t, err)
	encryptor, err := archive.NewEncryptor(key)
	require.NoError(t, err)
	return NewSettingsService(st, audit.NewLedger(st, testLogger()), encryptor, "primary"), st
}

func TestSettingsDefaultsWithoutPersisting(t *testing.T) {
	svc, st := newTestSettingsService(t)
	ctx := context.Background()

	settings, err := svc.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", settings.OrgID)
	assert.False(t, settings.NotifyOnSuccess)
	assert.True(t, settings.NotifyOnFailure)
	assert.Equal(t, "local", settings.DefaultStorageDisk)

	// Reading defaults must not create a record.
	_, err = st.GetSettings(ctx, "org-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSettingsUpdate(t *testing.T) {
	svc, st := newTestSettingsService(t)
	ctx := context.Background()

	settings, err := svc.Update(ctx, "org-1", SettingsInput{
		NotifyOnSuccess:    true,
		NotifyOnFailure:    true,
		NotificationEmails: []string{"ops@example.com"},
		DefaultStorageDisk: "s3",
	}, testActor)
	require.NoError(t, err)
	assert.True(t, settings.NotifyOnSuccess)
	assert.Equal(t, []string{"ops@example.com"}, settings.NotificationEmails)
	assert.Equal(t, "s3", settings.DefaultStorageDisk)
	assert.False(t, settings.UpdatedAt.IsZero())

	stored, err := st.GetSettings(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "s3", stored.DefaultStorageDisk)

	entries, err := st.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionSettingsUpdated})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSettingsUpdatePreservesCredentials(t *testing.T) {
	svc, _ := newTestSettingsService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetCredential(ctx, "org-1", "s3", map[string]string{
		"access_key": "AKIA123",
		"secret_key": "shhh",
	}, testActor))

	_, err := svc.Update(ctx, "org-1", SettingsInput{NotifyOnFailure: true}, testActor)
	require.NoError(t, err)

	payload, err := svc.Credential(ctx, "org-1", "s3")
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", payload["access_key"])
	assert.Equal(t, "shhh", payload["secret_key"])
}

func TestSettingsCredentialSealedAtRest(t *testing.T) {
	svc, st := newTestSettingsService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetCredential(ctx, "org-1", "gcs", map[string]string{
		"credentials_json": `{"type":"service_account"}`,
	}, testActor))

	stored, err := st.GetSettings(ctx, "org-1")
	require.NoError(t, err)
	cred, ok := stored.Credentials["gcs"]
	require.True(t, ok)
	assert.Equal(t, "primary", cred.KeyRef)
	assert.NotContains(t, string(cred.EncryptedPayload), "service_account")
}

func TestSettingsCredentialMissing(t *testing.T) {
	svc, _ := newTestSettingsService(t)

	_, err := svc.Credential(context.Background(), "org-1", "azure")
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeNotFound))
}

func TestSettingsCredentialKeyRefMismatch(t *testing.T) {
	svc, st := newTestSettingsService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetCredential(ctx, "org-1", "s3", map[string]string{"access_key": "a"}, testActor))

	// A service holding a rotated key refuses to open credentials sealed
	// under the old one.
	key, err := archive.GenerateKey()
	require.NoError(t, err)
	rotated, err := archive.NewEncryptor(key)
	require.NoError(t, err)
	svc2 := NewSettingsService(st, audit.NewLedger(st, testLogger()), rotated, "secondary")

	_, err = svc2.Credential(ctx, "org-1", "s3")
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeEncryption))
}

func TestSettingsCredentialWithoutEncryptor(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewSettingsService(st, audit.NewLedger(st, testLogger()), nil, "")

	err := svc.SetCredential(context.Background(), "org-1", "s3", map[string]string{"a": "b"}, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeConfiguration))
}
