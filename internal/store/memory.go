package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"backup-orchestrator/internal/backup"
)

// MemoryStore is an in-memory Store implementation. It backs unit tests and
// single-process deployments; the restore uniqueness guard is enforced under
// the store mutex, which is equivalent to a storage-layer constraint because
// all writers share the same lock.
type MemoryStore struct {
	mu        sync.RWMutex
	backups   map[string]*backup.Backup
	restores  map[string]*backup.Restore
	schedules map[string]*backup.Schedule
	audit     []*backup.AuditLogEntry
	settings  map[string]*backup.BackupSettings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backups:   make(map[string]*backup.Backup),
		restores:  make(map[string]*backup.Restore),
		schedules: make(map[string]*backup.Schedule),
		settings:  make(map[string]*backup.BackupSettings),
	}
}

// Records cross the store boundary as deep copies in both directions so a
// caller mutating a result (or the input it handed in) cannot reach the
// stored record. The MySQL store gets the same isolation from its JSON
// round-trip.
func copyBackup(b *backup.Backup) *backup.Backup {
	return b.Clone()
}

func copyRestore(r *backup.Restore) *backup.Restore {
	return r.Clone()
}

func copySchedule(s *backup.Schedule) *backup.Schedule {
	return s.Clone()
}

// CreateBackup stores a new backup record.
func (m *MemoryStore) CreateBackup(ctx context.Context, b *backup.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.backups[b.ID]; exists {
		return ErrDuplicate
	}
	for _, existing := range m.backups {
		if existing.OrgID == b.OrgID && existing.Code == b.Code {
			return ErrDuplicate
		}
	}
	m.backups[b.ID] = copyBackup(b)
	return nil
}

// GetBackup returns a backup by id within the organization.
func (m *MemoryStore) GetBackup(ctx context.Context, orgID, id string) (*backup.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.backups[id]
	if !ok || b.OrgID != orgID || b.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return copyBackup(b), nil
}

// GetBackupByCode returns a backup by its human-shareable code.
func (m *MemoryStore) GetBackupByCode(ctx context.Context, orgID, code string) (*backup.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.backups {
		if b.OrgID == orgID && b.Code == code && b.DeletedAt == nil {
			return copyBackup(b), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateBackup replaces a backup record.
func (m *MemoryStore) UpdateBackup(ctx context.Context, b *backup.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.backups[b.ID]
	if !ok || existing.OrgID != b.OrgID {
		return ErrNotFound
	}
	m.backups[b.ID] = copyBackup(b)
	return nil
}

// SoftDeleteBackup marks a backup deleted without removing the record.
func (m *MemoryStore) SoftDeleteBackup(ctx context.Context, orgID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.backups[id]
	if !ok || b.OrgID != orgID || b.DeletedAt != nil {
		return ErrNotFound
	}
	b.DeletedAt = &at
	return nil
}

// ListBackups returns non-deleted backups for the organization, newest first.
func (m *MemoryStore) ListBackups(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.Backup
	for _, b := range m.backups {
		if b.OrgID == orgID && b.DeletedAt == nil {
			out = append(out, copyBackup(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func paginate[T any](items []T, opts ListOptions) []T {
	if opts.Offset >= len(items) {
		return nil
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// BackupStats aggregates list-surface statistics.
func (m *MemoryStore) BackupStats(ctx context.Context, orgID string, now time.Time) (*backup.BackupStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &backup.BackupStats{}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for _, b := range m.backups {
		if b.OrgID != orgID || b.DeletedAt != nil {
			continue
		}
		stats.Total++
		if !b.CreatedAt.Before(monthStart) {
			stats.ThisMonth++
		}
		if b.Status == backup.BackupStatusCompleted {
			stats.StorageUsed += b.FileSize
			if b.CompletedAt != nil && (stats.LastBackupAt == nil || b.CompletedAt.After(*stats.LastBackupAt)) {
				completed := *b.CompletedAt
				stats.LastBackupAt = &completed
			}
		}
	}
	return stats, nil
}

// ListScheduledBackupsBefore returns completed scheduled backups older than cutoff.
func (m *MemoryStore) ListScheduledBackupsBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*backup.Backup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.Backup
	for _, b := range m.backups {
		if b.OrgID == orgID && b.DeletedAt == nil &&
			b.Kind == backup.BackupKindScheduled &&
			b.Status == backup.BackupStatusCompleted &&
			b.CreatedAt.Before(cutoff) {
			out = append(out, copyBackup(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateRestore stores a new restore record, enforcing the non-terminal
// uniqueness invariant under the store lock.
func (m *MemoryStore) CreateRestore(ctx context.Context, r *backup.Restore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.restores[r.ID]; exists {
		return ErrDuplicate
	}
	for _, existing := range m.restores {
		if existing.OrgID == r.OrgID && existing.BackupID == r.BackupID && !existing.IsTerminal() {
			return ErrRestoreInFlight
		}
	}
	m.restores[r.ID] = copyRestore(r)
	return nil
}

// GetRestore returns a restore by id within the organization.
func (m *MemoryStore) GetRestore(ctx context.Context, orgID, id string) (*backup.Restore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.restores[id]
	if !ok || r.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copyRestore(r), nil
}

// FindActiveRestore returns the in-flight restore for the pair, if any.
func (m *MemoryStore) FindActiveRestore(ctx context.Context, orgID, backupID string) (*backup.Restore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.restores {
		if r.OrgID == orgID && r.BackupID == backupID && !r.IsTerminal() {
			return copyRestore(r), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateRestore replaces a restore record.
func (m *MemoryStore) UpdateRestore(ctx context.Context, r *backup.Restore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.restores[r.ID]
	if !ok || existing.OrgID != r.OrgID {
		return ErrNotFound
	}
	m.restores[r.ID] = copyRestore(r)
	return nil
}

// DeleteRestore removes a restore record entirely.
func (m *MemoryStore) DeleteRestore(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.restores[id]
	if !ok || r.OrgID != orgID {
		return ErrNotFound
	}
	delete(m.restores, id)
	return nil
}

// ListRestores returns restores for the organization, newest first.
func (m *MemoryStore) ListRestores(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Restore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.Restore
	for _, r := range m.restores {
		if r.OrgID == orgID {
			out = append(out, copyRestore(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// CreateSchedule stores a new schedule.
func (m *MemoryStore) CreateSchedule(ctx context.Context, s *backup.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[s.ID]; exists {
		return ErrDuplicate
	}
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

// GetSchedule returns a schedule by id within the organization.
func (m *MemoryStore) GetSchedule(ctx context.Context, orgID, id string) (*backup.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok || s.OrgID != orgID {
		return nil, ErrNotFound
	}
	return copySchedule(s), nil
}

// UpdateSchedule replaces a schedule record.
func (m *MemoryStore) UpdateSchedule(ctx context.Context, s *backup.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.schedules[s.ID]
	if !ok || existing.OrgID != s.OrgID {
		return ErrNotFound
	}
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

// DeleteSchedule removes a schedule.
func (m *MemoryStore) DeleteSchedule(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok || s.OrgID != orgID {
		return ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

// ListSchedules returns all schedules for the organization sorted by name.
func (m *MemoryStore) ListSchedules(ctx context.Context, orgID string) ([]*backup.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.Schedule
	for _, s := range m.schedules {
		if s.OrgID == orgID {
			out = append(out, copySchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// ListDueSchedules returns active schedules across organizations due at or
// before now.
func (m *MemoryStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*backup.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.Schedule
	for _, s := range m.schedules {
		if s.IsActive && !s.NextRunAt.After(now) {
			out = append(out, copySchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

// AppendAudit appends one ledger entry. Entries are never updated or removed.
func (m *MemoryStore) AppendAudit(ctx context.Context, entry *backup.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entry.Clone())
	return nil
}

// ListAudit returns ledger entries for the organization matching the filter,
// oldest first.
func (m *MemoryStore) ListAudit(ctx context.Context, orgID string, filter AuditFilter) ([]*backup.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*backup.AuditLogEntry
	for _, e := range m.audit {
		if e.OrgID != orgID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.FromDate != nil && e.CreatedAt.Before(*filter.FromDate) {
			continue
		}
		if filter.ToDate != nil && e.CreatedAt.After(*filter.ToDate) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// GetSettings returns the organization's settings, or ErrNotFound before
// first save.
func (m *MemoryStore) GetSettings(ctx context.Context, orgID string) (*backup.BackupSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// SaveSettings inserts or replaces the organization's settings.
func (m *MemoryStore) SaveSettings(ctx context.Context, s *backup.BackupSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[s.OrgID] = s.Clone()
	return nil
}
