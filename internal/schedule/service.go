package schedule

import (
	"context"
	"time"

	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/store"
)

// Service manages backup schedule records. Every mutation recomputes
// next_run_at so the stored timestamp never describes a stale configuration.
type Service struct {
	repo   store.ScheduleRepository
	ledger *audit.Ledger
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a schedule service.
func NewService(repo store.ScheduleRepository, ledger *audit.Ledger, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// ScheduleInput carries the user-editable schedule configuration.
type ScheduleInput struct {
	Name          string
	Frequency     backup.Frequency
	Hour          int
	Minute        int
	DayOfWeek     *int
	DayOfMonth    *int
	Timezone      string
	RetentionDays int
	Categories    []string
	StorageDisk   string
}

// Create validates and stores a new schedule with its first computed run time.
func (s *Service) Create(ctx context.Context, orgID string, input ScheduleInput, actor backup.Actor) (*backup.Schedule, error) {
	now := s.now()
	sched := &backup.Schedule{
		ID:            backup.GenerateID(),
		OrgID:         orgID,
		Name:          input.Name,
		Frequency:     input.Frequency,
		Hour:          input.Hour,
		Minute:        input.Minute,
		DayOfWeek:     input.DayOfWeek,
		DayOfMonth:    input.DayOfMonth,
		Timezone:      input.Timezone,
		RetentionDays: input.RetentionDays,
		Categories:    input.Categories,
		StorageDisk:   input.StorageDisk,
		IsActive:      true,
		CreatedBy:     actor.UserID,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if sched.StorageDisk == "" {
		sched.StorageDisk = "local"
	}

	if err := sched.Validate(); err != nil {
		return nil, err
	}

	next, err := NextRun(sched, now)
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = next

	if err := s.repo.CreateSchedule(ctx, sched); err != nil {
		return nil, backup.NewStorageError("failed to create schedule", err)
	}

	if err := s.ledger.Record(ctx, orgID, backup.ActionScheduleCreated, "schedule", sched.ID, actor, map[string]interface{}{
		"name":        sched.Name,
		"frequency":   string(sched.Frequency),
		"next_run_at": sched.NextRunAt.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return sched, nil
}

// Update applies new configuration to an existing schedule and recomputes its
// next run time from the updated fields.
func (s *Service) Update(ctx context.Context, orgID, id string, input ScheduleInput, actor backup.Actor) (*backup.Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	sched.Name = input.Name
	sched.Frequency = input.Frequency
	sched.Hour = input.Hour
	sched.Minute = input.Minute
	sched.DayOfWeek = input.DayOfWeek
	sched.DayOfMonth = input.DayOfMonth
	sched.RetentionDays = input.RetentionDays
	sched.Categories = input.Categories
	if input.Timezone != "" {
		sched.Timezone = input.Timezone
	}
	if input.StorageDisk != "" {
		sched.StorageDisk = input.StorageDisk
	}
	sched.UpdatedAt = s.now().UTC()

	if err := sched.Validate(); err != nil {
		return nil, err
	}

	next, err := NextRun(sched, s.now())
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = next

	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return nil, backup.NewStorageError("failed to update schedule", err)
	}

	if err := s.ledger.Record(ctx, orgID, backup.ActionScheduleUpdated, "schedule", sched.ID, actor, map[string]interface{}{
		"frequency":   string(sched.Frequency),
		"next_run_at": sched.NextRunAt.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return sched, nil
}

// Toggle enables or disables a schedule. Re-enabling recomputes next_run_at so
// a schedule disabled for months does not fire immediately on a stale time.
func (s *Service) Toggle(ctx context.Context, orgID, id string, active bool, actor backup.Actor) (*backup.Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	sched.IsActive = active
	sched.UpdatedAt = s.now().UTC()

	if active {
		next, err := NextRun(sched, s.now())
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = next
	}

	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return nil, backup.NewStorageError("failed to toggle schedule", err)
	}

	if err := s.ledger.Record(ctx, orgID, backup.ActionScheduleToggled, "schedule", sched.ID, actor, map[string]interface{}{
		"is_active": active,
	}); err != nil {
		return nil, err
	}

	return sched, nil
}

// Delete removes a schedule.
func (s *Service) Delete(ctx context.Context, orgID, id string, actor backup.Actor) error {
	sched, err := s.repo.GetSchedule(ctx, orgID, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSchedule(ctx, orgID, id); err != nil {
		return backup.NewStorageError("failed to delete schedule", err)
	}

	return s.ledger.Record(ctx, orgID, backup.ActionScheduleDeleted, "schedule", sched.ID, actor, map[string]interface{}{
		"name": sched.Name,
	})
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, orgID, id string) (*backup.Schedule, error) {
	return s.repo.GetSchedule(ctx, orgID, id)
}

// List returns all schedules for an organization.
func (s *Service) List(ctx context.Context, orgID string) ([]*backup.Schedule, error) {
	return s.repo.ListSchedules(ctx, orgID)
}

// Advance records a schedule firing: it recomputes next_run_at from the fire
// time and persists it. The scheduler runner calls this after dispatching the
// backup so a crash between dispatch and advance re-fires rather than skips.
func (s *Service) Advance(ctx context.Context, sched *backup.Schedule, firedAt time.Time) error {
	next, err := NextRun(sched, firedAt)
	if err != nil {
		return err
	}
	sched.NextRunAt = next
	sched.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateSchedule(ctx, sched); err != nil {
		return backup.NewStorageError("failed to advance schedule", err)
	}

	s.logger.LogScheduleRun(sched.OrgID, sched.ID, next, nil)
	return nil
}
