package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateCode generates a unique human-shareable code with the given prefix,
// e.g. "bkp-20240101-093015-1a2b3c4d".
func GenerateCode(prefix string) string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, timestamp, short)
}

// GenerateID returns a new opaque entity identifier.
func GenerateID() string {
	return uuid.New().String()
}

// Validate checks a Backup record for structural problems.
func (b *Backup) Validate() error {
	var errs ValidationErrors

	if b.ID == "" {
		errs.Add("id", "backup ID is required", b.ID)
	}
	if b.OrgID == "" {
		errs.Add("org_id", "organization ID is required", b.OrgID)
	}
	if b.Code == "" {
		errs.Add("code", "backup code is required", b.Code)
	}
	if b.Name == "" {
		errs.Add("name", "backup name is required", b.Name)
	}
	switch b.Kind {
	case BackupKindManual, BackupKindScheduled:
	default:
		errs.Add("kind", "invalid backup kind", b.Kind)
	}
	switch b.Status {
	case BackupStatusPending, BackupStatusProcessing, BackupStatusCompleted, BackupStatusFailed:
	default:
		errs.Add("status", "invalid backup status", b.Status)
	}
	if b.StorageDisk == "" {
		errs.Add("storage_disk", "storage disk is required", b.StorageDisk)
	}
	if b.IsEncrypted && b.EncryptionKeyRef == "" {
		errs.Add("encryption_key_ref", "encrypted backups require a key reference", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks a Schedule for configuration problems. Timezone parsing is
// left to the calculator; range checks happen here so bad input is rejected
// before any state mutation.
func (s *Schedule) Validate() error {
	var errs ValidationErrors

	if s.OrgID == "" {
		errs.Add("org_id", "organization ID is required", s.OrgID)
	}
	if s.Name == "" {
		errs.Add("name", "schedule name is required", s.Name)
	}
	switch s.Frequency {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		errs.Add("frequency", "invalid schedule frequency", s.Frequency)
	}
	if s.Hour < 0 || s.Hour > 23 {
		errs.Add("hour", "hour must be between 0 and 23", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		errs.Add("minute", "minute must be between 0 and 59", s.Minute)
	}
	if s.Frequency == FrequencyWeekly {
		if s.DayOfWeek == nil {
			errs.Add("day_of_week", "weekly schedules require a day of week", nil)
		} else if *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			errs.Add("day_of_week", "day of week must be between 0 and 6", *s.DayOfWeek)
		}
	}
	if s.Frequency == FrequencyMonthly {
		if s.DayOfMonth == nil {
			errs.Add("day_of_month", "monthly schedules require a day of month", nil)
		} else if *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			errs.Add("day_of_month", "day of month must be between 1 and 31", *s.DayOfMonth)
		}
	}
	if s.Timezone == "" {
		errs.Add("timezone", "timezone is required", s.Timezone)
	}
	if s.RetentionDays < 1 || s.RetentionDays > 365 {
		errs.Add("retention_days", "retention must be between 1 and 365 days", s.RetentionDays)
	}
	if s.StorageDisk == "" {
		errs.Add("storage_disk", "storage disk is required", s.StorageDisk)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidKind reports whether k is a caller-selectable restore kind. Rollback
// operations are created internally, never selected.
func ValidKind(k RestoreKind) bool {
	switch k {
	case RestoreKindFull, RestoreKindSelective, RestoreKindMerge:
		return true
	}
	return false
}

// ValidStrategy reports whether s is a known conflict resolution strategy.
func ValidStrategy(s ConflictStrategy) bool {
	switch s {
	case StrategySkip, StrategyReplace, StrategyMerge, StrategyAsk:
		return true
	}
	return false
}
