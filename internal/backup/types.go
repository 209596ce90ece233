package backup

import (
	"time"
)

// Backup represents a point-in-time exportable snapshot of an organization's data.
type Backup struct {
	ID               string            `json:"id"`
	OrgID            string            `json:"org_id"`
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Kind             BackupKind        `json:"kind"`
	Status           BackupStatus      `json:"status"`
	StorageDisk      string            `json:"storage_disk"`
	FilePath         string            `json:"file_path,omitempty"`
	IsEncrypted      bool              `json:"is_encrypted"`
	EncryptionKeyRef string            `json:"encryption_key_ref,omitempty"`
	Categories       []string          `json:"categories,omitempty"`
	SchemaSnapshot   map[string]int    `json:"schema_snapshot,omitempty"`
	Summary          map[string]string `json:"summary,omitempty"`
	FileSize         int64             `json:"file_size,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedBy        string            `json:"created_by"`
	CreatedAt        time.Time         `json:"created_at"`
	DeletedAt        *time.Time        `json:"deleted_at,omitempty"`
}

// IsTerminal reports whether the backup has reached a final lifecycle state.
func (b *Backup) IsTerminal() bool {
	return b.Status == BackupStatusCompleted || b.Status == BackupStatusFailed
}

// ArtifactName returns the archive filename for this backup.
func (b *Backup) ArtifactName() string {
	if b.IsEncrypted {
		return b.Code + ".zip.enc"
	}
	return b.Code + ".zip"
}

// BackupKind distinguishes user-requested backups from schedule-driven ones.
type BackupKind string

const (
	BackupKindManual    BackupKind = "manual"
	BackupKindScheduled BackupKind = "scheduled"
)

// BackupStatus represents the lifecycle state of a backup.
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusProcessing BackupStatus = "processing"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
)

// BackupStats aggregates per-organization backup figures for the list surface.
type BackupStats struct {
	Total        int        `json:"total"`
	ThisMonth    int        `json:"this_month"`
	StorageUsed  int64      `json:"storage_used"`
	LastBackupAt *time.Time `json:"last_backup_at,omitempty"`
}

// Schedule is a recurring rule that creates backups at computed future timestamps.
type Schedule struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	Name          string    `json:"name"`
	Frequency     Frequency `json:"frequency"`
	Hour          int       `json:"hour"`
	Minute        int       `json:"minute"`
	DayOfWeek     *int      `json:"day_of_week,omitempty"`
	DayOfMonth    *int      `json:"day_of_month,omitempty"`
	Timezone      string    `json:"timezone"`
	RetentionDays int       `json:"retention_days"`
	Categories    []string  `json:"categories,omitempty"`
	StorageDisk   string    `json:"storage_disk"`
	IsActive      bool      `json:"is_active"`
	NextRunAt     time.Time `json:"next_run_at"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Frequency represents how often a schedule fires.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Restore is a guarded operation reconciling a backup's contents into a live
// organization dataset.
type Restore struct {
	ID                 string                `json:"id"`
	OrgID              string                `json:"org_id"`
	BackupID           string                `json:"backup_id"`
	Code               string                `json:"code"`
	Kind               RestoreKind           `json:"kind"`
	Status             RestoreStatus         `json:"status"`
	SelectedCategories []string              `json:"selected_categories,omitempty"`
	Reconciliation     *ReconciliationReport `json:"reconciliation_report,omitempty"`
	Resolution         *ConflictResolution   `json:"conflict_resolution,omitempty"`
	ConfirmedBy        string                `json:"confirmed_by,omitempty"`
	ExecutionReport    *ExecutionReport      `json:"execution_report,omitempty"`
	UndoLog            *UndoLog              `json:"undo_log,omitempty"`
	RolledBackFrom     string                `json:"rolled_back_from,omitempty"`
	ErrorMessage       string                `json:"error_message,omitempty"`
	CreatedBy          string                `json:"created_by"`
	CreatedAt          time.Time             `json:"created_at"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the restore has reached a final state.
func (r *Restore) IsTerminal() bool {
	switch r.Status {
	case RestoreStatusCompleted, RestoreStatusFailed, RestoreStatusRolledBack:
		return true
	}
	return false
}

// RestoreKind selects the restore mode.
type RestoreKind string

const (
	RestoreKindFull      RestoreKind = "full"
	RestoreKindSelective RestoreKind = "selective"
	RestoreKindMerge     RestoreKind = "merge"
	// RestoreKindRollback marks the undo operation created by rolling back a
	// completed restore.
	RestoreKindRollback RestoreKind = "rollback"
)

// RequiresNameConfirmation reports whether confirming this kind of restore
// requires typing the organization name.
func (k RestoreKind) RequiresNameConfirmation() bool {
	return k == RestoreKindFull || k == RestoreKindMerge
}

// RestoreStatus represents the restore state machine position.
type RestoreStatus string

const (
	RestoreStatusPending              RestoreStatus = "pending"
	RestoreStatusAnalyzing            RestoreStatus = "analyzing"
	RestoreStatusAwaitingConfirmation RestoreStatus = "awaiting_confirmation"
	RestoreStatusProcessing           RestoreStatus = "processing"
	RestoreStatusCompleted            RestoreStatus = "completed"
	RestoreStatusFailed               RestoreStatus = "failed"
	RestoreStatusRolledBack           RestoreStatus = "rolled_back"
)

// Entity is one record inside a backup category. Category identifiers and
// entity field names are opaque to the engine; the schema-discovery
// collaborator owns their meaning.
type Entity struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// Clone returns a copy with its own field map. Field values are treated as
// immutable.
func (e Entity) Clone() Entity {
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return Entity{ID: e.ID, Fields: fields}
}

// ReconciliationReport is the per-category classification produced by
// comparing backup contents to current data.
type ReconciliationReport struct {
	Categories map[string]*CategoryReconciliation `json:"categories"`
	Preview    ConflictPreview                    `json:"preview"`
	AnalyzedAt time.Time                          `json:"analyzed_at"`
}

// CategoryReconciliation classifies one category's entities.
type CategoryReconciliation struct {
	Additions []Entity         `json:"additions,omitempty"`
	Identical []string         `json:"identical,omitempty"`
	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
}

// ConflictRecord captures one entity that exists on both sides with
// differing field values.
type ConflictRecord struct {
	EntityID        string   `json:"entity_id"`
	Source          Entity   `json:"source"`
	Destination     Entity   `json:"destination"`
	DifferingFields []string `json:"differing_fields"`
}

// ConflictPreview summarizes conflict counts for routing decisions.
type ConflictPreview struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category,omitempty"`
}

// ConflictStrategy is the policy governing conflicting records during execution.
type ConflictStrategy string

const (
	// StrategySkip never overwrites an existing record.
	StrategySkip ConflictStrategy = "skip"
	// StrategyReplace always overwrites with the source record.
	StrategyReplace ConflictStrategy = "replace"
	// StrategyMerge performs a field-level union where non-null source wins.
	StrategyMerge ConflictStrategy = "merge"
	// StrategyAsk requires an explicit decision per conflicting record.
	StrategyAsk ConflictStrategy = "ask"
)

// ConflictResolution stores the chosen strategy and per-record decisions.
type ConflictResolution struct {
	Strategy  ConflictStrategy            `json:"strategy"`
	Decisions map[string]ConflictDecision `json:"decisions,omitempty"`
}

// ConflictDecision is an explicit per-record resolution used by the ask
// strategy, or a per-record override for the merge strategy.
type ConflictDecision struct {
	Action ConflictStrategy       `json:"action"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// ExecutionReport records per-category application results.
type ExecutionReport struct {
	Categories map[string]*CategoryResult `json:"categories"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

// CategoryResult summarizes one category's execution outcome.
type CategoryResult struct {
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
	// PartiallyReverted is set by rollback when a record changed between the
	// restore and the undo and could not be fully reversed.
	PartiallyReverted int `json:"partially_reverted,omitempty"`
}

// UndoLog holds the pre-change state captured during execution so a completed
// restore can be reversed.
type UndoLog struct {
	Categories map[string]*CategoryUndo `json:"categories"`
}

// CategoryUndo records what execution did to one category.
type CategoryUndo struct {
	// InsertedIDs are entities created by the restore; rollback deletes them.
	InsertedIDs []string `json:"inserted_ids,omitempty"`
	// Replaced holds the destination state prior to a replace or merge.
	Replaced []ReplacedEntity `json:"replaced,omitempty"`
}

// ReplacedEntity pairs the prior destination state with the value written by
// the restore, so rollback can detect independent modification since.
type ReplacedEntity struct {
	Prior   Entity `json:"prior"`
	Written Entity `json:"written"`
}

// AuditAction enumerates every auditable state-changing operation.
type AuditAction string

const (
	ActionBackupCreated     AuditAction = "backup.created"
	ActionBackupCompleted   AuditAction = "backup.completed"
	ActionBackupFailed      AuditAction = "backup.failed"
	ActionBackupDeleted     AuditAction = "backup.deleted"
	ActionScheduleCreated   AuditAction = "schedule.created"
	ActionScheduleUpdated   AuditAction = "schedule.updated"
	ActionScheduleToggled   AuditAction = "schedule.toggled"
	ActionScheduleDeleted   AuditAction = "schedule.deleted"
	ActionScheduleFired     AuditAction = "schedule.fired"
	ActionRestoreAnalyzed   AuditAction = "restore.analyzed"
	ActionRestoreSelected   AuditAction = "restore.categories_selected"
	ActionRestoreResolved   AuditAction = "restore.conflicts_resolved"
	ActionRestoreConfirmed  AuditAction = "restore.confirmed"
	ActionRestoreCompleted  AuditAction = "restore.completed"
	ActionRestoreFailed     AuditAction = "restore.failed"
	ActionRestoreRolledBack AuditAction = "restore.rolled_back"
	ActionSettingsUpdated   AuditAction = "settings.updated"
)

// AuditLogEntry is one append-only ledger record.
type AuditLogEntry struct {
	ID         string                 `json:"id"`
	OrgID      string                 `json:"org_id"`
	Action     AuditAction            `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	UserID     string                 `json:"user_id"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Actor identifies who performed an operation. Every orchestrator call takes
// an explicit Actor instead of reading ambient request state.
type Actor struct {
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// BackupSettings holds per-organization backup preferences. Created lazily on
// first access with defaults from DefaultSettings.
type BackupSettings struct {
	OrgID              string                       `json:"org_id"`
	NotifyOnSuccess    bool                         `json:"notify_on_success"`
	NotifyOnFailure    bool                         `json:"notify_on_failure"`
	NotificationEmails []string                     `json:"notification_emails,omitempty"`
	WebhookURL         string                       `json:"webhook_url,omitempty"`
	DefaultStorageDisk string                       `json:"default_storage_disk"`
	Credentials        map[string]StorageCredential `json:"credentials,omitempty"`
	UpdatedAt          time.Time                    `json:"updated_at"`
}

// StorageCredential is a per-provider credential blob. The payload is
// encrypted at rest and opaque outside the settings service.
type StorageCredential struct {
	Provider         string `json:"provider"`
	EncryptedPayload []byte `json:"encrypted_payload"`
	KeyRef           string `json:"key_ref"`
}

// DefaultSettings returns the documented defaults applied on first access.
func DefaultSettings(orgID string) *BackupSettings {
	return &BackupSettings{
		OrgID:              orgID,
		NotifyOnSuccess:    false,
		NotifyOnFailure:    true,
		DefaultStorageDisk: "local",
	}
}
