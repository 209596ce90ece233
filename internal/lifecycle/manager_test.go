package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	apperrors "backup-orchestrator/internal/errors"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/storage"
	"backup-orchestrator/internal/store"
)

type fakeSource struct {
	dataset map[string][]backup.Entity
	err     error
}

func (f *fakeSource) Categories(ctx context.Context, orgID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	categories := make([]string, 0, len(f.dataset))
	for category := range f.dataset {
		categories = append(categories, category)
	}
	return categories, nil
}

func (f *fakeSource) ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dataset[category], nil
}

func testLogger() *logging.Logger {
	logger, _ := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelQuiet,
		Output: &bytes.Buffer{},
	})
	return logger
}

func newTestManager(t *testing.T, source DatasetSource) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	disks, err := storage.NewRegistry(context.Background(), []storage.Config{
		{Disk: "local", Local: &storage.LocalConfig{BasePath: t.TempDir()}},
	})
	require.NoError(t, err)

	logger := testLogger()
	ledger := audit.NewLedger(st, logger)
	return NewManager(st, disks, source, ledger, logger), st
}

var testActor = backup.Actor{UserID: "user-1", IPAddress: "10.0.0.1"}

func TestCreateBackup(t *testing.T) {
	m, st := newTestManager(t, &fakeSource{})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	assert.Equal(t, backup.BackupStatusPending, b.Status)
	assert.Equal(t, backup.BackupKindManual, b.Kind)
	assert.Equal(t, "local", b.StorageDisk)
	assert.Contains(t, b.Code, "bkp-")
	assert.Equal(t, "user-1", b.CreatedBy)

	// An audit entry was written for the creation.
	entries, err := st.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionBackupCreated})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].EntityID)
	assert.Equal(t, "user-1", entries[0].UserID)
}

func TestCreateBackupRejectsUnknownKind(t *testing.T) {
	m, _ := newTestManager(t, &fakeSource{})

	_, err := m.Create(context.Background(), "org-1", CreateInput{
		Name: "x",
		Kind: backup.BackupKind("incremental"),
	}, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
}

func TestCreateBackupRejectsUnknownDisk(t *testing.T) {
	m, _ := newTestManager(t, &fakeSource{})

	_, err := m.Create(context.Background(), "org-1", CreateInput{
		Name:        "x",
		StorageDisk: "s3",
	}, testActor)
	require.Error(t, err)
}

func TestRunCompletesBackup(t *testing.T) {
	source := &fakeSource{dataset: map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}},
		},
		"deals": {
			{ID: "d-1", Fields: map[string]interface{}{"title": "Renewal"}},
			{ID: "d-2", Fields: map[string]interface{}{"title": "Upsell"}},
		},
	}}
	m, st := newTestManager(t, source)
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	b, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	assert.Equal(t, backup.BackupStatusCompleted, b.Status)
	assert.NotNil(t, b.StartedAt)
	assert.NotNil(t, b.CompletedAt)
	assert.Greater(t, b.FileSize, int64(0))
	assert.Equal(t, map[string]int{"contacts": 1, "deals": 2}, b.SchemaSnapshot)
	assert.Equal(t, storage.ArtifactPath("org-1", b.ArtifactName()), b.FilePath)

	// The artifact downloads and parses back into the dataset.
	data, _, err := m.DownloadArtifact(ctx, "org-1", b.ID)
	require.NoError(t, err)

	reader, err := archive.Open(data, nil)
	require.NoError(t, err)
	contacts, err := reader.Category("contacts")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Alice", contacts[0].Fields["name"])

	entries, err := st.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionBackupCompleted})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunFailsAndFinalizesOnce(t *testing.T) {
	source := &fakeSource{err: errors.New("dataset unavailable")}
	m, st := newTestManager(t, source)
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.Error(t, err)

	stored, err := st.GetBackup(ctx, "org-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "dataset unavailable")
	assert.NotNil(t, stored.CompletedAt)

	// Running again is a state error: the terminal transition already
	// happened.
	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}

func TestRunSecondTimeIsStateError(t *testing.T) {
	m, _ := newTestManager(t, &fakeSource{dataset: map[string][]backup.Entity{}})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}

func TestEncryptedBackupRoundTrip(t *testing.T) {
	key, err := archive.GenerateKey()
	require.NoError(t, err)
	encryptor, err := archive.NewEncryptor(key)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	disks, err := storage.NewRegistry(context.Background(), []storage.Config{
		{Disk: "local", Local: &storage.LocalConfig{BasePath: t.TempDir()}},
	})
	require.NoError(t, err)
	logger := testLogger()
	m := NewManager(st, disks, &fakeSource{dataset: map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
	}}, audit.NewLedger(st, logger), logger, WithEncryption(encryptor, "primary"))

	ctx := context.Background()
	b, err := m.Create(ctx, "org-1", CreateInput{Name: "secure"}, testActor)
	require.NoError(t, err)
	assert.True(t, b.IsEncrypted)
	assert.Equal(t, "primary", b.EncryptionKeyRef)
	assert.Equal(t, b.Code+".zip.enc", b.ArtifactName())

	b, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	data, _, err := m.DownloadArtifact(ctx, "org-1", b.ID)
	require.NoError(t, err)

	// Unreadable without the key, readable with it.
	_, err = archive.Open(data, nil)
	require.Error(t, err)
	reader, err := archive.Open(data, encryptor)
	require.NoError(t, err)
	assert.Equal(t, []string{"contacts"}, reader.Categories())
}

// flakyProvider fails the first transferFailures transfers of each kind with
// a transient network error, then delegates to the wrapped provider.
type flakyProvider struct {
	storage.Provider
	transferFailures int
	uploads          int
	downloads        int
}

func (p *flakyProvider) Upload(ctx context.Context, key string, data []byte) error {
	p.uploads++
	if p.uploads <= p.transferFailures {
		return &net.OpError{Op: "write", Err: errors.New("connection reset by peer")}
	}
	return p.Provider.Upload(ctx, key, data)
}

func (p *flakyProvider) Download(ctx context.Context, key string) ([]byte, error) {
	p.downloads++
	if p.downloads <= p.transferFailures {
		return nil, &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
	}
	return p.Provider.Download(ctx, key)
}

func newFlakyManager(t *testing.T, flaky *flakyProvider, attempts int) (*Manager, *store.MemoryStore) {
	t.Helper()
	local, err := storage.NewLocalProvider(&storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	flaky.Provider = local

	disks, err := storage.NewRegistryFromProviders(flaky)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	logger := testLogger()
	source := &fakeSource{dataset: map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
	}}
	return NewManager(st, disks, source, audit.NewLedger(st, logger), logger,
		WithRetryPolicy(apperrors.RetryConfig{
			MaxAttempts: attempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		})), st
}

func TestRunRetriesTransientUploadFailures(t *testing.T) {
	flaky := &flakyProvider{transferFailures: 2}
	m, _ := newFlakyManager(t, flaky, 3)
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	b, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusCompleted, b.Status)
	assert.Equal(t, 3, flaky.uploads)
}

func TestRunFailsWhenRetryBudgetExhausted(t *testing.T) {
	flaky := &flakyProvider{transferFailures: 5}
	m, st := newFlakyManager(t, flaky, 2)
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.Error(t, err)
	assert.Equal(t, 2, flaky.uploads)

	stored, err := st.GetBackup(ctx, "org-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.BackupStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "connection reset")
}

func TestDownloadArtifactRetriesTransientFailures(t *testing.T) {
	flaky := &flakyProvider{}
	m, _ := newFlakyManager(t, flaky, 3)
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)
	b, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	// Only the downloads fail; the artifact is already stored.
	flaky.transferFailures = 2
	flaky.downloads = 0

	data, _, err := m.DownloadArtifact(ctx, "org-1", b.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, 3, flaky.downloads)
}

func TestDeleteBackup(t *testing.T) {
	m, st := newTestManager(t, &fakeSource{dataset: map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{}}},
	}})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)
	b, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "org-1", b.ID, testActor))

	_, err = st.GetBackup(ctx, "org-1", b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := st.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionBackupDeleted})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteProcessingBackupRejected(t *testing.T) {
	m, st := newTestManager(t, &fakeSource{})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	b.Status = backup.BackupStatusProcessing
	require.NoError(t, st.UpdateBackup(ctx, b))

	err = m.Delete(ctx, "org-1", b.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}

func TestDownloadArtifactRequiresCompleted(t *testing.T) {
	m, _ := newTestManager(t, &fakeSource{})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)

	_, _, err = m.DownloadArtifact(ctx, "org-1", b.ID)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, &fakeSource{dataset: map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{}}},
	}})
	ctx := context.Background()

	b, err := m.Create(ctx, "org-1", CreateInput{Name: "nightly"}, testActor)
	require.NoError(t, err)
	_, err = m.Run(ctx, "org-1", b.ID, testActor)
	require.NoError(t, err)

	stats, err := m.Stats(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Greater(t, stats.StorageUsed, int64(0))
	assert.NotNil(t, stats.LastBackupAt)
}
