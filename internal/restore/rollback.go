package restore

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"backup-orchestrator/internal/backup"
)

// Rollback reverses a restore using the undo log captured during execution:
// inserted records are deleted and replaced records regain their prior field
// values. It produces a new restore operation with kind rollback, leaving the
// original record and its reports queryable. Valid for completed restores,
// and for failed ones whose committed categories left undo state behind.
// A rollback cannot itself be rolled back.
func (o *Orchestrator) Rollback(ctx context.Context, orgID, restoreID string, actor backup.Actor) (*backup.Restore, error) {
	original, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if original.Kind == backup.RestoreKindRollback {
		return nil, backup.NewRollbackError("a rollback operation cannot itself be rolled back", nil)
	}
	switch original.Status {
	case backup.RestoreStatusCompleted, backup.RestoreStatusFailed:
	default:
		return nil, backup.NewStateError(
			fmt.Sprintf("restore %s is %s, only finished restores can be rolled back", original.Code, original.Status), nil)
	}
	if original.UndoLog == nil || len(original.UndoLog.Categories) == 0 {
		return nil, backup.NewRollbackError(
			fmt.Sprintf("restore %s has no undo state to revert", original.Code), nil)
	}

	started := o.now().UTC()
	op := &backup.Restore{
		ID:             backup.GenerateID(),
		OrgID:          orgID,
		BackupID:       original.BackupID,
		Code:           backup.GenerateCode("rbk"),
		Kind:           backup.RestoreKindRollback,
		Status:         backup.RestoreStatusProcessing,
		RolledBackFrom: original.ID,
		CreatedBy:      actor.UserID,
		CreatedAt:      started,
		StartedAt:      &started,
	}
	if err := o.store.CreateRestore(ctx, op); err != nil {
		return nil, backup.NewStorageError("failed to create rollback record", err)
	}

	report := &backup.ExecutionReport{
		Categories: make(map[string]*backup.CategoryResult),
		StartedAt:  started,
	}

	categories := make([]string, 0, len(original.UndoLog.Categories))
	for category := range original.UndoLog.Categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		change, result, err := o.planRevert(ctx, orgID, category, original.UndoLog.Categories[category])
		if err != nil {
			return nil, o.failExecution(ctx, op, report, &backup.UndoLog{}, err, actor)
		}

		if !change.Empty() {
			if err := o.dataset.ApplyCategory(ctx, orgID, category, change); err != nil {
				result.Applied = 0
				result.Failed = len(change.Updates) + len(change.Deletes)
				result.Error = err.Error()
				report.Categories[category] = result
				return nil, o.failExecution(ctx, op, report, &backup.UndoLog{}, backup.NewStorageError(
					fmt.Sprintf("failed to revert category %s", category), err), actor)
			}
		}
		report.Categories[category] = result
	}

	completed := o.now().UTC()
	report.FinishedAt = completed
	op.ExecutionReport = report
	op.Status = backup.RestoreStatusCompleted
	op.CompletedAt = &completed
	if err := o.store.UpdateRestore(ctx, op); err != nil {
		return nil, backup.NewStorageError("failed to finalize rollback", err)
	}

	priorStatus := original.Status
	original.Status = backup.RestoreStatusRolledBack
	if err := o.store.UpdateRestore(ctx, original); err != nil {
		return nil, backup.NewStorageError("failed to mark restore rolled back", err)
	}
	o.logger.LogRestoreTransition(orgID, original.ID, string(priorStatus), string(original.Status))

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreRolledBack, "restore", original.ID, actor, map[string]interface{}{
		"rollback_id": op.ID,
	}); err != nil {
		return nil, err
	}
	return op, nil
}

// planRevert builds the change set undoing one category. Inserted records are
// deleted; replaced records revert to their prior state only when the current
// value still matches what the restore wrote. A record modified independently
// since the restore is left alone and counted as partially reverted.
func (o *Orchestrator) planRevert(ctx context.Context, orgID, category string, undo *backup.CategoryUndo) (CategoryChange, *backup.CategoryResult, error) {
	current, err := o.dataset.ReadCategory(ctx, orgID, category)
	if err != nil {
		return CategoryChange{}, nil, backup.NewStorageError(
			fmt.Sprintf("failed to read current data for category %s", category), err)
	}
	byID := make(map[string]backup.Entity, len(current))
	for _, entity := range current {
		byID[entity.ID] = entity
	}

	change := CategoryChange{}
	result := &backup.CategoryResult{}

	for _, id := range undo.InsertedIDs {
		if _, ok := byID[id]; ok {
			change.Deletes = append(change.Deletes, id)
		}
	}

	for _, replaced := range undo.Replaced {
		entity, ok := byID[replaced.Written.ID]
		if !ok || !reflect.DeepEqual(entity.Fields, replaced.Written.Fields) {
			result.PartiallyReverted++
			continue
		}
		change.Updates = append(change.Updates, replaced.Prior.Clone())
	}

	result.Applied = len(change.Updates) + len(change.Deletes)
	return change, result, nil
}
