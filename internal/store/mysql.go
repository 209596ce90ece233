package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"backup-orchestrator/internal/backup"
)

// MySQLStore is the production Store implementation backed by MySQL via
// database/sql. The restore uniqueness invariant is enforced by the
// uniq_active_restore index over a generated column that is NULL for
// terminal statuses, so concurrent Analyze calls race safely at the
// database instead of in application code.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an existing database handle.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OpenMySQL opens a MySQL connection from a DSN and verifies connectivity.
// ParseTime is forced on so DATETIME columns scan into time.Time.
func OpenMySQL(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so collaborators sharing the database,
// like the entity dataset, reuse one connection pool.
func (s *MySQLStore) DB() *sql.DB {
	return s.db
}

// Schema holds the DDL for all engine tables. The restores table carries a
// generated `active` column unique-indexed with (org_id, backup_id): terminal
// statuses generate NULL, which MySQL excludes from uniqueness.
const Schema = `
CREATE TABLE IF NOT EXISTS backups (
    id              VARCHAR(36)  NOT NULL,
    org_id          VARCHAR(36)  NOT NULL,
    code            VARCHAR(64)  NOT NULL,
    name            VARCHAR(255) NOT NULL,
    description     TEXT,
    kind            VARCHAR(16)  NOT NULL,
    status          VARCHAR(16)  NOT NULL,
    storage_disk    VARCHAR(32)  NOT NULL,
    file_path       VARCHAR(512),
    is_encrypted    TINYINT(1)   NOT NULL DEFAULT 0,
    encryption_key_ref VARCHAR(128),
    categories      JSON,
    schema_snapshot JSON,
    summary         JSON,
    file_size       BIGINT       NOT NULL DEFAULT 0,
    started_at      DATETIME(6),
    completed_at    DATETIME(6),
    error_message   TEXT,
    created_by      VARCHAR(36)  NOT NULL,
    created_at      DATETIME(6)  NOT NULL,
    deleted_at      DATETIME(6),
    PRIMARY KEY (id),
    UNIQUE KEY uniq_backup_code (org_id, code),
    KEY idx_backups_org_created (org_id, created_at)
);

CREATE TABLE IF NOT EXISTS restores (
    id              VARCHAR(36)  NOT NULL,
    org_id          VARCHAR(36)  NOT NULL,
    backup_id       VARCHAR(36)  NOT NULL,
    code            VARCHAR(64)  NOT NULL,
    kind            VARCHAR(16)  NOT NULL,
    status          VARCHAR(32)  NOT NULL,
    selected_categories JSON,
    reconciliation  JSON,
    resolution      JSON,
    confirmed_by    VARCHAR(36),
    execution_report JSON,
    undo_log        JSON,
    rolled_back_from VARCHAR(36),
    error_message   TEXT,
    created_by      VARCHAR(36)  NOT NULL,
    created_at      DATETIME(6)  NOT NULL,
    started_at      DATETIME(6),
    completed_at    DATETIME(6),
    active          TINYINT(1) GENERATED ALWAYS AS (
        IF(status IN ('completed','failed','rolled_back'), NULL, 1)
    ) STORED,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_active_restore (org_id, backup_id, active),
    KEY idx_restores_org_created (org_id, created_at)
);

CREATE TABLE IF NOT EXISTS schedules (
    id              VARCHAR(36)  NOT NULL,
    org_id          VARCHAR(36)  NOT NULL,
    name            VARCHAR(255) NOT NULL,
    frequency       VARCHAR(16)  NOT NULL,
    hour            TINYINT      NOT NULL,
    minute          TINYINT      NOT NULL,
    day_of_week     TINYINT,
    day_of_month    TINYINT,
    timezone        VARCHAR(64)  NOT NULL,
    retention_days  SMALLINT     NOT NULL,
    categories      JSON,
    storage_disk    VARCHAR(32)  NOT NULL,
    is_active       TINYINT(1)   NOT NULL DEFAULT 1,
    next_run_at     DATETIME(6)  NOT NULL,
    created_by      VARCHAR(36)  NOT NULL,
    created_at      DATETIME(6)  NOT NULL,
    updated_at      DATETIME(6)  NOT NULL,
    PRIMARY KEY (id),
    KEY idx_schedules_due (is_active, next_run_at)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          VARCHAR(36)  NOT NULL,
    org_id      VARCHAR(36)  NOT NULL,
    action      VARCHAR(64)  NOT NULL,
    entity_type VARCHAR(32)  NOT NULL,
    entity_id   VARCHAR(36)  NOT NULL,
    user_id     VARCHAR(36)  NOT NULL,
    ip_address  VARCHAR(45),
    user_agent  VARCHAR(255),
    details     JSON,
    created_at  DATETIME(6)  NOT NULL,
    PRIMARY KEY (id),
    KEY idx_audit_org_created (org_id, created_at),
    KEY idx_audit_org_action (org_id, action)
);

CREATE TABLE IF NOT EXISTS backup_settings (
    org_id      VARCHAR(36) NOT NULL,
    settings    JSON        NOT NULL,
    updated_at  DATETIME(6) NOT NULL,
    PRIMARY KEY (org_id)
);
`

// EnsureSchema creates the engine tables if they do not exist.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

const mysqlDuplicateEntry = 1062

func isDuplicate(err error, indexName string) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return indexName == "" || strings.Contains(mysqlErr.Message, indexName)
	}
	return false
}

func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return data, nil
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CreateBackup inserts a backup record.
func (s *MySQLStore) CreateBackup(ctx context.Context, b *backup.Backup) error {
	categories, err := marshalJSON(b.Categories)
	if err != nil {
		return err
	}
	snapshot, err := marshalJSON(b.SchemaSnapshot)
	if err != nil {
		return err
	}
	summary, err := marshalJSON(b.Summary)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backups (id, org_id, code, name, description, kind, status,
			storage_disk, file_path, is_encrypted, encryption_key_ref,
			categories, schema_snapshot, summary, file_size,
			started_at, completed_at, error_message, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrgID, b.Code, b.Name, b.Description, b.Kind, b.Status,
		b.StorageDisk, nullString(b.FilePath), b.IsEncrypted, nullString(b.EncryptionKeyRef),
		categories, snapshot, summary, b.FileSize,
		b.StartedAt, b.CompletedAt, nullString(b.ErrorMessage), b.CreatedBy, b.CreatedAt)
	if err != nil {
		if isDuplicate(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert backup: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const backupColumns = `id, org_id, code, name, COALESCE(description, ''), kind, status,
	storage_disk, COALESCE(file_path, ''), is_encrypted, COALESCE(encryption_key_ref, ''),
	categories, schema_snapshot, summary, file_size,
	started_at, completed_at, COALESCE(error_message, ''), created_by, created_at, deleted_at`

func scanBackup(row interface{ Scan(...interface{}) error }) (*backup.Backup, error) {
	var b backup.Backup
	var categories, snapshot, summary []byte
	err := row.Scan(&b.ID, &b.OrgID, &b.Code, &b.Name, &b.Description, &b.Kind, &b.Status,
		&b.StorageDisk, &b.FilePath, &b.IsEncrypted, &b.EncryptionKeyRef,
		&categories, &snapshot, &summary, &b.FileSize,
		&b.StartedAt, &b.CompletedAt, &b.ErrorMessage, &b.CreatedBy, &b.CreatedAt, &b.DeletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(categories, &b.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode backup categories: %w", err)
	}
	if err := unmarshalJSON(snapshot, &b.SchemaSnapshot); err != nil {
		return nil, fmt.Errorf("failed to decode backup schema snapshot: %w", err)
	}
	if err := unmarshalJSON(summary, &b.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode backup summary: %w", err)
	}
	return &b, nil
}

// GetBackup returns a non-deleted backup by id within the organization.
func (s *MySQLStore) GetBackup(ctx context.Context, orgID, id string) (*backup.Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE id = ? AND org_id = ? AND deleted_at IS NULL`,
		id, orgID)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	return b, nil
}

// GetBackupByCode returns a non-deleted backup by code within the organization.
func (s *MySQLStore) GetBackupByCode(ctx context.Context, orgID, code string) (*backup.Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE org_id = ? AND code = ? AND deleted_at IS NULL`,
		orgID, code)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup by code: %w", err)
	}
	return b, nil
}

// UpdateBackup rewrites the mutable columns of a backup record.
func (s *MySQLStore) UpdateBackup(ctx context.Context, b *backup.Backup) error {
	snapshot, err := marshalJSON(b.SchemaSnapshot)
	if err != nil {
		return err
	}
	summary, err := marshalJSON(b.Summary)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET status = ?, file_path = ?, file_size = ?,
			schema_snapshot = ?, summary = ?, started_at = ?, completed_at = ?,
			error_message = ?
		WHERE id = ? AND org_id = ?`,
		b.Status, nullString(b.FilePath), b.FileSize,
		snapshot, summary, b.StartedAt, b.CompletedAt,
		nullString(b.ErrorMessage), b.ID, b.OrgID)
	if err != nil {
		return fmt.Errorf("failed to update backup: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteBackup marks the record deleted.
func (s *MySQLStore) SoftDeleteBackup(ctx context.Context, orgID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE backups SET deleted_at = ? WHERE id = ? AND org_id = ? AND deleted_at IS NULL`,
		at, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete backup: %w", err)
	}
	return requireRow(res)
}

// ListBackups returns non-deleted backups for the organization, newest first.
func (s *MySQLStore) ListBackups(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Backup, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE org_id = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		orgID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var out []*backup.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BackupStats aggregates list-surface statistics.
func (s *MySQLStore) BackupStats(ctx context.Context, orgID string, now time.Time) (*backup.BackupStats, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	stats := &backup.BackupStats{}
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(created_at >= ?), 0),
			COALESCE(SUM(IF(status = 'completed', file_size, 0)), 0),
			MAX(IF(status = 'completed', completed_at, NULL))
		FROM backups WHERE org_id = ? AND deleted_at IS NULL`,
		monthStart, orgID).
		Scan(&stats.Total, &stats.ThisMonth, &stats.StorageUsed, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate backup stats: %w", err)
	}
	if last.Valid {
		stats.LastBackupAt = &last.Time
	}
	return stats, nil
}

// ListScheduledBackupsBefore returns completed scheduled backups older than cutoff.
func (s *MySQLStore) ListScheduledBackupsBefore(ctx context.Context, orgID string, cutoff time.Time) ([]*backup.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE org_id = ? AND deleted_at IS NULL AND kind = 'scheduled'
		   AND status = 'completed' AND created_at < ?
		 ORDER BY created_at`,
		orgID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired scheduled backups: %w", err)
	}
	defer rows.Close()

	var out []*backup.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateRestore inserts a restore record. The uniq_active_restore index turns
// a concurrent duplicate into ErrRestoreInFlight.
func (s *MySQLStore) CreateRestore(ctx context.Context, r *backup.Restore) error {
	selected, err := marshalJSON(r.SelectedCategories)
	if err != nil {
		return err
	}
	reconciliation, err := marshalJSON(r.Reconciliation)
	if err != nil {
		return err
	}
	resolution, err := marshalJSON(r.Resolution)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO restores (id, org_id, backup_id, code, kind, status,
			selected_categories, reconciliation, resolution, confirmed_by,
			execution_report, undo_log, rolled_back_from, error_message,
			created_by, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrgID, r.BackupID, r.Code, r.Kind, r.Status,
		selected, reconciliation, resolution, nullString(r.ConfirmedBy),
		nullString(r.RolledBackFrom), nullString(r.ErrorMessage),
		r.CreatedBy, r.CreatedAt, r.StartedAt, r.CompletedAt)
	if err != nil {
		if isDuplicate(err, "uniq_active_restore") {
			return ErrRestoreInFlight
		}
		if isDuplicate(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert restore: %w", err)
	}
	return nil
}

const restoreColumns = `id, org_id, backup_id, code, kind, status,
	selected_categories, reconciliation, resolution, COALESCE(confirmed_by, ''),
	execution_report, undo_log, COALESCE(rolled_back_from, ''), COALESCE(error_message, ''),
	created_by, created_at, started_at, completed_at`

func scanRestore(row interface{ Scan(...interface{}) error }) (*backup.Restore, error) {
	var r backup.Restore
	var selected, reconciliation, resolution, report, undo []byte
	err := row.Scan(&r.ID, &r.OrgID, &r.BackupID, &r.Code, &r.Kind, &r.Status,
		&selected, &reconciliation, &resolution, &r.ConfirmedBy,
		&report, &undo, &r.RolledBackFrom, &r.ErrorMessage,
		&r.CreatedBy, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(selected, &r.SelectedCategories); err != nil {
		return nil, fmt.Errorf("failed to decode selected categories: %w", err)
	}
	if err := unmarshalJSON(reconciliation, &r.Reconciliation); err != nil {
		return nil, fmt.Errorf("failed to decode reconciliation report: %w", err)
	}
	if err := unmarshalJSON(resolution, &r.Resolution); err != nil {
		return nil, fmt.Errorf("failed to decode conflict resolution: %w", err)
	}
	if err := unmarshalJSON(report, &r.ExecutionReport); err != nil {
		return nil, fmt.Errorf("failed to decode execution report: %w", err)
	}
	if err := unmarshalJSON(undo, &r.UndoLog); err != nil {
		return nil, fmt.Errorf("failed to decode undo log: %w", err)
	}
	return &r, nil
}

// GetRestore returns a restore by id within the organization.
func (s *MySQLStore) GetRestore(ctx context.Context, orgID, id string) (*backup.Restore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+restoreColumns+` FROM restores WHERE id = ? AND org_id = ?`,
		id, orgID)
	r, err := scanRestore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query restore: %w", err)
	}
	return r, nil
}

// FindActiveRestore returns the in-flight restore for the pair, if any.
func (s *MySQLStore) FindActiveRestore(ctx context.Context, orgID, backupID string) (*backup.Restore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+restoreColumns+` FROM restores
		 WHERE org_id = ? AND backup_id = ? AND active = 1`,
		orgID, backupID)
	r, err := scanRestore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active restore: %w", err)
	}
	return r, nil
}

// UpdateRestore rewrites the mutable columns of a restore record.
func (s *MySQLStore) UpdateRestore(ctx context.Context, r *backup.Restore) error {
	selected, err := marshalJSON(r.SelectedCategories)
	if err != nil {
		return err
	}
	reconciliation, err := marshalJSON(r.Reconciliation)
	if err != nil {
		return err
	}
	resolution, err := marshalJSON(r.Resolution)
	if err != nil {
		return err
	}
	report, err := marshalJSON(r.ExecutionReport)
	if err != nil {
		return err
	}
	undo, err := marshalJSON(r.UndoLog)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE restores SET kind = ?, status = ?, selected_categories = ?,
			reconciliation = ?, resolution = ?, confirmed_by = ?,
			execution_report = ?, undo_log = ?, error_message = ?,
			started_at = ?, completed_at = ?
		WHERE id = ? AND org_id = ?`,
		r.Kind, r.Status, selected,
		reconciliation, resolution, nullString(r.ConfirmedBy),
		report, undo, nullString(r.ErrorMessage),
		r.StartedAt, r.CompletedAt, r.ID, r.OrgID)
	if err != nil {
		return fmt.Errorf("failed to update restore: %w", err)
	}
	return requireRow(res)
}

// DeleteRestore removes a restore record. Used only after failed analysis.
func (s *MySQLStore) DeleteRestore(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM restores WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete restore: %w", err)
	}
	return requireRow(res)
}

// ListRestores returns restores for the organization, newest first.
func (s *MySQLStore) ListRestores(ctx context.Context, orgID string, opts ListOptions) ([]*backup.Restore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+restoreColumns+` FROM restores
		 WHERE org_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		orgID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list restores: %w", err)
	}
	defer rows.Close()

	var out []*backup.Restore
	for rows.Next() {
		r, err := scanRestore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan restore row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateSchedule inserts a schedule record.
func (s *MySQLStore) CreateSchedule(ctx context.Context, sched *backup.Schedule) error {
	categories, err := marshalJSON(sched.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, org_id, name, frequency, hour, minute,
			day_of_week, day_of_month, timezone, retention_days, categories,
			storage_disk, is_active, next_run_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.OrgID, sched.Name, sched.Frequency, sched.Hour, sched.Minute,
		sched.DayOfWeek, sched.DayOfMonth, sched.Timezone, sched.RetentionDays, categories,
		sched.StorageDisk, sched.IsActive, sched.NextRunAt, sched.CreatedBy,
		sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		if isDuplicate(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, org_id, name, frequency, hour, minute,
	day_of_week, day_of_month, timezone, retention_days, categories,
	storage_disk, is_active, next_run_at, created_by, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*backup.Schedule, error) {
	var sched backup.Schedule
	var categories []byte
	err := row.Scan(&sched.ID, &sched.OrgID, &sched.Name, &sched.Frequency,
		&sched.Hour, &sched.Minute, &sched.DayOfWeek, &sched.DayOfMonth,
		&sched.Timezone, &sched.RetentionDays, &categories,
		&sched.StorageDisk, &sched.IsActive, &sched.NextRunAt,
		&sched.CreatedBy, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(categories, &sched.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode schedule categories: %w", err)
	}
	return &sched, nil
}

// GetSchedule returns a schedule by id within the organization.
func (s *MySQLStore) GetSchedule(ctx context.Context, orgID, id string) (*backup.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ? AND org_id = ?`,
		id, orgID)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	return sched, nil
}

// UpdateSchedule rewrites a schedule record.
func (s *MySQLStore) UpdateSchedule(ctx context.Context, sched *backup.Schedule) error {
	categories, err := marshalJSON(sched.Categories)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET name = ?, frequency = ?, hour = ?, minute = ?,
			day_of_week = ?, day_of_month = ?, timezone = ?, retention_days = ?,
			categories = ?, storage_disk = ?, is_active = ?, next_run_at = ?,
			updated_at = ?
		WHERE id = ? AND org_id = ?`,
		sched.Name, sched.Frequency, sched.Hour, sched.Minute,
		sched.DayOfWeek, sched.DayOfMonth, sched.Timezone, sched.RetentionDays,
		categories, sched.StorageDisk, sched.IsActive, sched.NextRunAt,
		sched.UpdatedAt, sched.ID, sched.OrgID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRow(res)
}

// DeleteSchedule removes a schedule.
func (s *MySQLStore) DeleteSchedule(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRow(res)
}

// ListSchedules returns the organization's schedules sorted by name.
func (s *MySQLStore) ListSchedules(ctx context.Context, orgID string) ([]*backup.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE org_id = ? ORDER BY name`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var out []*backup.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// ListDueSchedules returns active schedules due at or before now, across
// organizations.
func (s *MySQLStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*backup.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE is_active = 1 AND next_run_at <= ? ORDER BY next_run_at`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var out []*backup.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// AppendAudit inserts one ledger entry. There is no update or delete path.
func (s *MySQLStore) AppendAudit(ctx context.Context, entry *backup.AuditLogEntry) error {
	details, err := marshalJSON(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, org_id, action, entity_type, entity_id,
			user_id, ip_address, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrgID, entry.Action, entry.EntityType, entry.EntityID,
		entry.UserID, nullString(entry.IPAddress), nullString(entry.UserAgent),
		details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns ledger entries matching the filter, oldest first.
func (s *MySQLStore) ListAudit(ctx context.Context, orgID string, filter AuditFilter) ([]*backup.AuditLogEntry, error) {
	query := `SELECT id, org_id, action, entity_type, entity_id, user_id,
		COALESCE(ip_address, ''), COALESCE(user_agent, ''), details, created_at
		FROM audit_log WHERE org_id = ?`
	args := []interface{}{orgID}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.FromDate != nil {
		query += " AND created_at >= ?"
		args = append(args, *filter.FromDate)
	}
	if filter.ToDate != nil {
		query += " AND created_at <= ?"
		args = append(args, *filter.ToDate)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*backup.AuditLogEntry
	for rows.Next() {
		var e backup.AuditLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Action, &e.EntityType, &e.EntityID,
			&e.UserID, &e.IPAddress, &e.UserAgent, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetSettings returns the organization's settings document.
func (s *MySQLStore) GetSettings(ctx context.Context, orgID string) (*backup.BackupSettings, error) {
	var doc []byte
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT settings, updated_at FROM backup_settings WHERE org_id = ?`, orgID).
		Scan(&doc, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	var settings backup.BackupSettings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings document: %w", err)
	}
	settings.OrgID = orgID
	settings.UpdatedAt = updatedAt
	return &settings, nil
}

// SaveSettings upserts the organization's settings document.
func (s *MySQLStore) SaveSettings(ctx context.Context, settings *backup.BackupSettings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backup_settings (org_id, settings, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE settings = VALUES(settings), updated_at = VALUES(updated_at)`,
		settings.OrgID, doc, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
