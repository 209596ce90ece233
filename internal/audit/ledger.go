// Package audit implements the append-only audit ledger. Every state-changing
// operation in the engine writes exactly one entry; a failed write fails the
// triggering operation, because the audit record is part of the contract of a
// completed operation rather than a best-effort side effect.
package audit

import (
	"context"
	"time"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/store"
)

// Ledger is the write path for audit entries. There is no update or delete
// API by design.
type Ledger struct {
	repo   store.AuditRepository
	logger *logging.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger on top of an audit repository.
func NewLedger(repo store.AuditRepository, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Ledger{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Record appends one ledger entry for a state-changing operation. The error
// must be propagated by the caller: an operation whose audit entry cannot be
// written is not a completed operation.
func (l *Ledger) Record(ctx context.Context, orgID string, action backup.AuditAction, entityType, entityID string, actor backup.Actor, details map[string]interface{}) error {
	entry := &backup.AuditLogEntry{
		ID:         backup.GenerateID(),
		OrgID:      orgID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     actor.UserID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		Details:    details,
		CreatedAt:  l.now().UTC(),
	}

	if err := l.repo.AppendAudit(ctx, entry); err != nil {
		l.logger.WithFields(map[string]interface{}{
			"operation":   "audit_write",
			"org_id":      orgID,
			"action":      string(action),
			"entity_type": entityType,
			"entity_id":   entityID,
			"error":       err.Error(),
		}).Error("Audit ledger write failed")
		return backup.NewAuditError("failed to write audit entry", err)
	}

	l.logger.LogAuditWrite(orgID, string(action), entityType, entityID)
	return nil
}

// List returns ledger entries for the organization matching the filter.
func (l *Ledger) List(ctx context.Context, orgID string, filter store.AuditFilter) ([]*backup.AuditLogEntry, error) {
	return l.repo.ListAudit(ctx, orgID, filter)
}
