// Package scheduler runs the worker loop that fires due backup schedules and
// applies their retention policy.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/lifecycle"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/schedule"
	"backup-orchestrator/internal/store"
)

const defaultPollInterval = time.Minute

// schedulerActor attributes schedule-driven operations in the audit ledger.
var schedulerActor = backup.Actor{UserID: "scheduler"}

// BackupRunner is the slice of the backup lifecycle the runner drives.
// *lifecycle.Manager satisfies it.
type BackupRunner interface {
	Create(ctx context.Context, orgID string, input lifecycle.CreateInput, actor backup.Actor) (*backup.Backup, error)
	Run(ctx context.Context, orgID, backupID string, actor backup.Actor) (*backup.Backup, error)
	Delete(ctx context.Context, orgID, backupID string, actor backup.Actor) error
}

// Runner polls due schedules, creates scheduled backups, advances each
// schedule's next run, and sweeps backups past their retention window.
type Runner struct {
	store     store.Store
	backups   BackupRunner
	schedules *schedule.Service
	ledger    *audit.Ledger
	logger    *logging.Logger
	interval  time.Duration
	now       func() time.Time
}

// NewRunner creates a schedule runner polling at the given interval. A zero
// interval uses the default of one minute.
func NewRunner(st store.Store, backups BackupRunner, schedules *schedule.Service, ledger *audit.Ledger, logger *logging.Logger, interval time.Duration) *Runner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{
		store:     st,
		backups:   backups,
		schedules: schedules,
		ledger:    ledger,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs ticks until the context is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.WithField("interval", r.interval.String()).Info("Schedule runner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			r.logger.WithField("error", err.Error()).Error("Schedule tick failed")
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Schedule runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick processes every schedule due at the current time. One schedule's
// failure does not stop the others; the first error is returned after the
// whole batch ran.
func (r *Runner) Tick(ctx context.Context) error {
	now := r.now().UTC()
	due, err := r.store.ListDueSchedules(ctx, now)
	if err != nil {
		return backup.NewStorageError("failed to list due schedules", err)
	}

	var firstErr error
	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.fire(ctx, sched, now); err != nil {
			r.logger.LogScheduleRun(sched.OrgID, sched.ID, sched.NextRunAt, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := r.sweep(ctx, sched, now); err != nil {
			r.logger.WithFields(map[string]interface{}{
				"org_id":      sched.OrgID,
				"schedule_id": sched.ID,
				"error":       err.Error(),
			}).Error("Retention sweep failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fire creates and runs one scheduled backup, then advances the schedule.
// The advance happens after dispatch so a crash re-fires instead of skipping.
func (r *Runner) fire(ctx context.Context, sched *backup.Schedule, firedAt time.Time) error {
	b, err := r.backups.Create(ctx, sched.OrgID, lifecycle.CreateInput{
		Name:        fmt.Sprintf("%s %s", sched.Name, firedAt.Format("2006-01-02 15:04")),
		Kind:        backup.BackupKindScheduled,
		Categories:  sched.Categories,
		StorageDisk: sched.StorageDisk,
	}, schedulerActor)
	if err != nil {
		return err
	}

	if err := r.ledger.Record(ctx, sched.OrgID, backup.ActionScheduleFired, "schedule", sched.ID, schedulerActor, map[string]interface{}{
		"backup_id": b.ID,
	}); err != nil {
		return err
	}

	// A failed run already finalized the backup as failed; the schedule
	// still advances so the next slot fires on time.
	if _, err := r.backups.Run(ctx, sched.OrgID, b.ID, schedulerActor); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"org_id":      sched.OrgID,
			"schedule_id": sched.ID,
			"backup_id":   b.ID,
			"error":       err.Error(),
		}).Error("Scheduled backup failed")
	}

	return r.schedules.Advance(ctx, sched, firedAt)
}

// sweep deletes completed scheduled backups older than the schedule's
// retention window.
func (r *Runner) sweep(ctx context.Context, sched *backup.Schedule, now time.Time) error {
	if sched.RetentionDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -sched.RetentionDays)

	expired, err := r.store.ListScheduledBackupsBefore(ctx, sched.OrgID, cutoff)
	if err != nil {
		return backup.NewStorageError("failed to list expired backups", err)
	}
	for _, b := range expired {
		if err := r.backups.Delete(ctx, sched.OrgID, b.ID, schedulerActor); err != nil {
			return err
		}
		r.logger.WithFields(map[string]interface{}{
			"org_id":    sched.OrgID,
			"backup_id": b.ID,
			"cutoff":    cutoff.Format(time.RFC3339),
		}).Debug("Expired scheduled backup removed")
	}
	return nil
}
