// Package lifecycle drives backup records through their state machine:
// pending, processing, then exactly one of completed or failed. The artifact
// build and upload happen between the processing and terminal transitions.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	apperrors "backup-orchestrator/internal/errors"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/storage"
	"backup-orchestrator/internal/store"
)

// DatasetSource reads an organization's live dataset category by category.
type DatasetSource interface {
	Categories(ctx context.Context, orgID string) ([]string, error)
	ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error)
}

// Manager owns backup record lifecycles and artifact production.
type Manager struct {
	store       store.Store
	disks       *storage.Registry
	source      DatasetSource
	ledger      *audit.Ledger
	logger      *logging.Logger
	encryptor   *archive.Encryptor
	keyRef      string
	compression archive.CompressionType
	level       int
	retry       *apperrors.RetryHandler
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEncryption makes the manager produce encrypted artifacts. keyRef names
// the key so records identify which key sealed their artifact.
func WithEncryption(encryptor *archive.Encryptor, keyRef string) Option {
	return func(m *Manager) {
		m.encryptor = encryptor
		m.keyRef = keyRef
	}
}

// WithCompression sets the artifact compression algorithm and level.
func WithCompression(algorithm archive.CompressionType, level int) Option {
	return func(m *Manager) {
		m.compression = algorithm
		m.level = level
	}
}

// WithRetryPolicy overrides the backoff bounds used when a storage transfer
// fails transiently.
func WithRetryPolicy(config apperrors.RetryConfig) Option {
	return func(m *Manager) {
		m.retry = apperrors.NewRetryHandler(config)
	}
}

// NewManager creates a backup lifecycle manager.
func NewManager(st store.Store, disks *storage.Registry, source DatasetSource, ledger *audit.Ledger, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	m := &Manager{
		store:       st,
		disks:       disks,
		source:      source,
		ledger:      ledger,
		logger:      logger,
		compression: archive.CompressionTypeZstd,
		level:       3,
		retry:       apperrors.NewDefaultRetryHandler(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput carries the user-supplied fields for a new backup.
type CreateInput struct {
	Name        string
	Description string
	Kind        backup.BackupKind
	Categories  []string
	StorageDisk string
}

// Create registers a pending backup record. The artifact is produced by a
// subsequent Run call so API callers get an immediate handle.
func (m *Manager) Create(ctx context.Context, orgID string, input CreateInput, actor backup.Actor) (*backup.Backup, error) {
	if input.Kind == "" {
		input.Kind = backup.BackupKindManual
	}

	disk := input.StorageDisk
	if disk == "" {
		disk = m.disks.DefaultDisk()
	}
	if _, err := m.disks.Disk(disk); err != nil {
		return nil, err
	}

	b := &backup.Backup{
		ID:               backup.GenerateID(),
		OrgID:            orgID,
		Code:             backup.GenerateCode("bkp"),
		Name:             input.Name,
		Description:      input.Description,
		Kind:             input.Kind,
		Status:           backup.BackupStatusPending,
		StorageDisk:      disk,
		IsEncrypted:      m.encryptor != nil,
		EncryptionKeyRef: m.keyRef,
		Categories:       input.Categories,
		CreatedBy:        actor.UserID,
		CreatedAt:        m.now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	if err := m.store.CreateBackup(ctx, b); err != nil {
		return nil, backup.NewStorageError("failed to create backup record", err)
	}

	if err := m.ledger.Record(ctx, orgID, backup.ActionBackupCreated, "backup", b.ID, actor, map[string]interface{}{
		"code": b.Code,
		"kind": string(b.Kind),
	}); err != nil {
		return nil, err
	}

	m.logger.LogBackupLifecycle(orgID, b.ID, string(b.Status), nil)
	return b, nil
}

// Run produces the artifact for a pending backup: reads the dataset, builds
// the archive, uploads it, and finalizes the record. The terminal transition
// happens exactly once; a second Run on the same backup is a state error.
func (m *Manager) Run(ctx context.Context, orgID, backupID string, actor backup.Actor) (*backup.Backup, error) {
	b, err := m.store.GetBackup(ctx, orgID, backupID)
	if err != nil {
		return nil, err
	}

	if err := m.start(ctx, b); err != nil {
		return nil, err
	}

	artifact, manifest, buildErr := m.buildArtifact(ctx, b)
	if buildErr == nil {
		buildErr = m.uploadArtifact(ctx, b, artifact)
	}

	if buildErr != nil {
		if err := m.finalizeFailed(ctx, b, buildErr, actor); err != nil {
			return nil, err
		}
		return b, buildErr
	}

	if err := m.finalizeCompleted(ctx, b, manifest, int64(len(artifact)), actor); err != nil {
		return nil, err
	}
	return b, nil
}

// start transitions pending to processing.
func (m *Manager) start(ctx context.Context, b *backup.Backup) error {
	if b.Status != backup.BackupStatusPending {
		return backup.NewStateError(
			fmt.Sprintf("backup %s is %s, only pending backups can be run", b.Code, b.Status), nil)
	}

	started := m.now().UTC()
	b.Status = backup.BackupStatusProcessing
	b.StartedAt = &started

	if err := m.store.UpdateBackup(ctx, b); err != nil {
		return backup.NewStorageError("failed to mark backup processing", err)
	}

	m.logger.LogBackupLifecycle(b.OrgID, b.ID, string(b.Status), nil)
	return nil
}

func (m *Manager) buildArtifact(ctx context.Context, b *backup.Backup) ([]byte, *archive.Manifest, error) {
	categories := b.Categories
	if len(categories) == 0 {
		all, err := m.source.Categories(ctx, b.OrgID)
		if err != nil {
			return nil, nil, backup.NewStorageError("failed to list dataset categories", err)
		}
		categories = all
	}

	dataset := make(map[string][]backup.Entity, len(categories))
	for _, category := range categories {
		entities, err := m.source.ReadCategory(ctx, b.OrgID, category)
		if err != nil {
			return nil, nil, backup.NewStorageError(
				fmt.Sprintf("failed to read category %s", category), err)
		}
		dataset[category] = entities
	}

	builder := archive.NewBuilder(m.compression, m.level, m.encryptor)
	return builder.Build(b.Code, b.OrgID, dataset)
}

func (m *Manager) uploadArtifact(ctx context.Context, b *backup.Backup, artifact []byte) error {
	provider, err := m.disks.Disk(b.StorageDisk)
	if err != nil {
		return err
	}

	key := storage.ArtifactPath(b.OrgID, b.ArtifactName())
	start := m.now()
	// Transient backend failures are retried with backoff; anything else
	// fails the backup immediately.
	err = m.retry.Retry(ctx, func() error {
		return provider.Upload(ctx, key, artifact)
	})
	m.logger.LogStorageOperation(provider.Name(), "upload", key, time.Since(start), err)
	if err != nil {
		return err
	}

	b.FilePath = key
	return nil
}

// finalizeCompleted performs the exactly-once terminal transition to
// completed.
func (m *Manager) finalizeCompleted(ctx context.Context, b *backup.Backup, manifest *archive.Manifest, size int64, actor backup.Actor) error {
	if b.Status != backup.BackupStatusProcessing {
		return backup.NewStateError(
			fmt.Sprintf("backup %s is %s, cannot finalize", b.Code, b.Status), nil)
	}

	completed := m.now().UTC()
	b.Status = backup.BackupStatusCompleted
	b.CompletedAt = &completed
	b.FileSize = size
	b.SchemaSnapshot = make(map[string]int, len(manifest.Categories))
	for category, entry := range manifest.Categories {
		b.SchemaSnapshot[category] = entry.Count
	}

	if err := m.store.UpdateBackup(ctx, b); err != nil {
		return backup.NewStorageError("failed to finalize backup", err)
	}

	if err := m.ledger.Record(ctx, b.OrgID, backup.ActionBackupCompleted, "backup", b.ID, actor, map[string]interface{}{
		"code":      b.Code,
		"file_size": size,
	}); err != nil {
		return err
	}

	m.logger.LogBackupLifecycle(b.OrgID, b.ID, string(b.Status), nil)
	return nil
}

// finalizeFailed performs the exactly-once terminal transition to failed.
func (m *Manager) finalizeFailed(ctx context.Context, b *backup.Backup, cause error, actor backup.Actor) error {
	if b.Status != backup.BackupStatusProcessing {
		return backup.NewStateError(
			fmt.Sprintf("backup %s is %s, cannot finalize", b.Code, b.Status), nil)
	}

	completed := m.now().UTC()
	b.Status = backup.BackupStatusFailed
	b.CompletedAt = &completed
	b.ErrorMessage = cause.Error()

	if err := m.store.UpdateBackup(ctx, b); err != nil {
		return backup.NewStorageError("failed to mark backup failed", err)
	}

	if err := m.ledger.Record(ctx, b.OrgID, backup.ActionBackupFailed, "backup", b.ID, actor, map[string]interface{}{
		"code":  b.Code,
		"error": cause.Error(),
	}); err != nil {
		return err
	}

	m.logger.LogBackupLifecycle(b.OrgID, b.ID, string(b.Status), cause)
	return nil
}

// Delete removes a backup: the artifact deletion is best effort, the record
// soft delete is not. A processing backup cannot be deleted.
func (m *Manager) Delete(ctx context.Context, orgID, backupID string, actor backup.Actor) error {
	b, err := m.store.GetBackup(ctx, orgID, backupID)
	if err != nil {
		return err
	}

	if b.Status == backup.BackupStatusProcessing {
		return backup.NewStateError(
			fmt.Sprintf("backup %s is still processing", b.Code), nil)
	}

	if b.FilePath != "" {
		provider, err := m.disks.Disk(b.StorageDisk)
		if err == nil {
			if err := provider.Delete(ctx, b.FilePath); err != nil {
				// The record delete proceeds; an orphaned artifact is
				// preferable to a phantom record.
				m.logger.WithFields(map[string]interface{}{
					"org_id":    orgID,
					"backup_id": b.ID,
					"path":      b.FilePath,
					"error":     err.Error(),
				}).Warn("Failed to delete backup artifact")
			}
		}
	}

	if err := m.store.SoftDeleteBackup(ctx, orgID, backupID, m.now().UTC()); err != nil {
		return backup.NewStorageError("failed to delete backup record", err)
	}

	return m.ledger.Record(ctx, orgID, backup.ActionBackupDeleted, "backup", b.ID, actor, map[string]interface{}{
		"code": b.Code,
	})
}

// DownloadArtifact fetches a completed backup's artifact bytes.
func (m *Manager) DownloadArtifact(ctx context.Context, orgID, backupID string) ([]byte, *backup.Backup, error) {
	b, err := m.store.GetBackup(ctx, orgID, backupID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != backup.BackupStatusCompleted {
		return nil, nil, backup.NewStateError(
			fmt.Sprintf("backup %s is %s, only completed backups have artifacts", b.Code, b.Status), nil)
	}

	provider, err := m.disks.Disk(b.StorageDisk)
	if err != nil {
		return nil, nil, err
	}

	start := m.now()
	var data []byte
	err = m.retry.Retry(ctx, func() error {
		var derr error
		data, derr = provider.Download(ctx, b.FilePath)
		return derr
	})
	m.logger.LogStorageOperation(provider.Name(), "download", b.FilePath, time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}
	return data, b, nil
}

// OpenArtifact downloads a completed backup's artifact and opens it for
// reading. Encrypted artifacts are opened with the manager's key.
func (m *Manager) OpenArtifact(ctx context.Context, orgID, backupID string) (*archive.Reader, error) {
	data, b, err := m.DownloadArtifact(ctx, orgID, backupID)
	if err != nil {
		return nil, err
	}
	if b.IsEncrypted && m.encryptor == nil {
		return nil, backup.NewEncryptionError(
			fmt.Sprintf("backup %s is encrypted and no key is configured", b.Code), nil)
	}
	if b.IsEncrypted {
		return archive.Open(data, m.encryptor)
	}
	return archive.Open(data, nil)
}

// Get returns one backup record.
func (m *Manager) Get(ctx context.Context, orgID, backupID string) (*backup.Backup, error) {
	return m.store.GetBackup(ctx, orgID, backupID)
}

// GetByCode returns one backup record by its public code.
func (m *Manager) GetByCode(ctx context.Context, orgID, code string) (*backup.Backup, error) {
	return m.store.GetBackupByCode(ctx, orgID, code)
}

// List returns the organization's backups, newest first.
func (m *Manager) List(ctx context.Context, orgID string, opts store.ListOptions) ([]*backup.Backup, error) {
	return m.store.ListBackups(ctx, orgID, opts)
}

// Stats aggregates the organization's backup statistics.
func (m *Manager) Stats(ctx context.Context, orgID string) (*backup.BackupStats, error) {
	return m.store.BackupStats(ctx, orgID, m.now().UTC())
}
