// Package store defines the persistence contracts for the backup/restore
// engine. Every method is tenant-scoped: callers pass the organization ID and
// implementations must filter by it, making cross-tenant access structurally
// impossible rather than merely checked.
package store

import (
	"context"
	"errors"
	"time"

	"backup-orchestrator/internal/backup"
)

var (
	// ErrNotFound is returned when the requested record does not exist in
	// the caller's organization.
	ErrNotFound = errors.New("store: record not found")

	// ErrRestoreInFlight is returned by CreateRestore when a non-terminal
	// restore already exists for the same (org, backup) pair. Implementations
	// must enforce this at the storage layer (unique index or equivalent),
	// not with a read-then-write check.
	ErrRestoreInFlight = errors.New("store: a restore for this backup is already in flight")

	// ErrDuplicate is returned when a unique constraint other than the
	// restore guard is violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// ListOptions controls pagination for list queries.
type ListOptions struct {
	Offset int
	Limit  int
}

// AuditFilter narrows audit ledger queries.
type AuditFilter struct {
	Action     backup.AuditAction
	EntityType string
	FromDate   *time.Time
	ToDate     *time.Time
}

// BackupRepository persists backup records.
type BackupRepository interface {
	CreateBackup(ctx context.Context, b *backup.Backup) error
	GetBackup(ctx context.Context, orgID, id string) (*backup.Backup, error)
	GetBackupByCode(ctx context.Context, orgID, code string) (*backup.Backup, error)
	UpdateBackup(ctx context.Context, b *backup.Backup) error
	SoftDeleteBackup(ctx context.Context, orgID, id string, at time.Time) error
	ListBackups(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Backup, error)
	// BackupStats aggregates list-surface statistics relative to now.
	BackupStats(ctx context.Context, orgID string, now time.Time) (*backup.BackupStats, error)
	// ListScheduledBackupsBefore returns completed scheduled backups created
	// before the cutoff, for retention sweeps.
	ListScheduledBackupsBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*backup.Backup, error)
}

// RestoreRepository persists restore records and enforces the non-terminal
// uniqueness invariant.
type RestoreRepository interface {
	CreateRestore(ctx context.Context, r *backup.Restore) error
	GetRestore(ctx context.Context, orgID, id string) (*backup.Restore, error)
	// FindActiveRestore returns the non-terminal restore for the pair, or
	// ErrNotFound when none is in flight.
	FindActiveRestore(ctx context.Context, orgID, backupID string) (*backup.Restore, error)
	UpdateRestore(ctx context.Context, r *backup.Restore) error
	// DeleteRestore removes the record entirely. Used only to clean up after
	// a failed analysis.
	DeleteRestore(ctx context.Context, orgID, id string) error
	ListRestores(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Restore, error)
}

// ScheduleRepository persists backup schedules.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *backup.Schedule) error
	GetSchedule(ctx context.Context, orgID, id string) (*backup.Schedule, error)
	UpdateSchedule(ctx context.Context, s *backup.Schedule) error
	DeleteSchedule(ctx context.Context, orgID, id string) error
	ListSchedules(ctx context.Context, orgID string) ([]*backup.Schedule, error)
	// ListDueSchedules returns active schedules across all organizations with
	// next_run_at at or before now. Only the scheduler runner calls this.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*backup.Schedule, error)
}

// AuditRepository is the append-only ledger write path. There is deliberately
// no update or delete method.
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *backup.AuditLogEntry) error
	ListAudit(ctx context.Context, orgID string, filter AuditFilter) ([]*backup.AuditLogEntry, error)
}

// SettingsRepository persists per-organization backup settings.
type SettingsRepository interface {
	GetSettings(ctx context.Context, orgID string) (*backup.BackupSettings, error)
	SaveSettings(ctx context.Context, s *backup.BackupSettings) error
}

// Store aggregates all repositories behind one handle.
type Store interface {
	BackupRepository
	RestoreRepository
	ScheduleRepository
	AuditRepository
	SettingsRepository
}
