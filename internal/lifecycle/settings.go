package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backup-orchestrator/internal/archive"
	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/store"
)

// SettingsService manages per-organization backup settings. Records are
// created lazily: reading settings for an organization that never saved any
// returns the defaults without persisting them.
type SettingsService struct {
	repo      store.SettingsRepository
	ledger    *audit.Ledger
	encryptor *archive.Encryptor
	keyRef    string
	now       func() time.Time
}

// NewSettingsService creates a settings service. The encryptor protects
// storage credentials at rest; keyRef names the key so rotation can find
// credentials sealed under old keys.
func NewSettingsService(repo store.SettingsRepository, ledger *audit.Ledger, encryptor *archive.Encryptor, keyRef string) *SettingsService {
	return &SettingsService{
		repo:      repo,
		ledger:    ledger,
		encryptor: encryptor,
		keyRef:    keyRef,
		now:       time.Now,
	}
}

// Get returns the organization's settings, falling back to defaults when none
// were ever saved.
func (s *SettingsService) Get(ctx context.Context, orgID string) (*backup.BackupSettings, error) {
	settings, err := s.repo.GetSettings(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return backup.DefaultSettings(orgID), nil
		}
		return nil, err
	}
	return settings, nil
}

// SettingsInput carries the user-editable settings fields.
type SettingsInput struct {
	NotifyOnSuccess    bool
	NotifyOnFailure    bool
	NotificationEmails []string
	WebhookURL         string
	DefaultStorageDisk string
}

// Update persists new settings, preserving stored credentials.
func (s *SettingsService) Update(ctx context.Context, orgID string, input SettingsInput, actor backup.Actor) (*backup.BackupSettings, error) {
	settings, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	settings.NotifyOnSuccess = input.NotifyOnSuccess
	settings.NotifyOnFailure = input.NotifyOnFailure
	settings.NotificationEmails = input.NotificationEmails
	settings.WebhookURL = input.WebhookURL
	if input.DefaultStorageDisk != "" {
		settings.DefaultStorageDisk = input.DefaultStorageDisk
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return nil, backup.NewStorageError("failed to save settings", err)
	}

	if err := s.ledger.Record(ctx, orgID, backup.ActionSettingsUpdated, "settings", orgID, actor, map[string]interface{}{
		"default_storage_disk": settings.DefaultStorageDisk,
		"notify_on_failure":    settings.NotifyOnFailure,
	}); err != nil {
		return nil, err
	}

	return settings, nil
}

// SetCredential seals and stores a storage credential for a provider. The
// plaintext payload never touches the settings record.
func (s *SettingsService) SetCredential(ctx context.Context, orgID, provider string, payload map[string]string, actor backup.Actor) error {
	if s.encryptor == nil {
		return backup.NewConfigurationError("credential encryption is not configured", nil)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return backup.NewValidationError("failed to encode credential payload", err)
	}

	sealed, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return err
	}

	settings, err := s.Get(ctx, orgID)
	if err != nil {
		return err
	}
	if settings.Credentials == nil {
		settings.Credentials = make(map[string]backup.StorageCredential)
	}
	settings.Credentials[provider] = backup.StorageCredential{
		Provider:         provider,
		EncryptedPayload: sealed,
		KeyRef:           s.keyRef,
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return backup.NewStorageError("failed to save credential", err)
	}

	return s.ledger.Record(ctx, orgID, backup.ActionSettingsUpdated, "settings", orgID, actor, map[string]interface{}{
		"credential_provider": provider,
	})
}

// Credential opens a stored credential for a provider.
func (s *SettingsService) Credential(ctx context.Context, orgID, provider string) (map[string]string, error) {
	if s.encryptor == nil {
		return nil, backup.NewConfigurationError("credential encryption is not configured", nil)
	}

	settings, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	cred, ok := settings.Credentials[provider]
	if !ok {
		return nil, backup.NewNotFoundError(fmt.Sprintf("no credential stored for provider %s", provider), nil)
	}
	if cred.KeyRef != s.keyRef {
		return nil, backup.NewEncryptionError(
			fmt.Sprintf("credential for %s is sealed under key %s", provider, cred.KeyRef), nil)
	}

	plaintext, err := s.encryptor.Decrypt(cred.EncryptedPayload)
	if err != nil {
		return nil, err
	}

	var payload map[string]string
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, backup.NewCorruptionError("failed to decode credential payload", err)
	}
	return payload, nil
}
