package restore

import (
	"context"
	"fmt"

	"backup-orchestrator/internal/backup"
)

// Execute applies a confirmed restore category by category. Each category
// commits atomically, so a later failure never corrupts an earlier one; on
// failure the restore transitions to failed with the partial execution report
// preserved. Meant to run out-of-band from the confirming request.
func (o *Orchestrator) Execute(ctx context.Context, orgID, restoreID string, actor backup.Actor) (*backup.Restore, error) {
	r, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if r.Status != backup.RestoreStatusProcessing {
		return nil, backup.NewStateError(
			fmt.Sprintf("restore %s is %s, only confirmed restores can be executed", r.Code, r.Status), nil)
	}

	report := &backup.ExecutionReport{
		Categories: make(map[string]*backup.CategoryResult),
		StartedAt:  o.now().UTC(),
	}
	undo := &backup.UndoLog{Categories: make(map[string]*backup.CategoryUndo)}

	// Ask without a decision for every conflict fails before any mutation.
	if err := validateDecisions(r.Reconciliation, r.SelectedCategories, r.Resolution); err != nil {
		return r, o.failExecution(ctx, r, report, undo, err, actor)
	}

	for _, category := range r.SelectedCategories {
		if err := ctx.Err(); err != nil {
			return r, o.failExecution(ctx, r, report, undo, err, actor)
		}

		rec, ok := r.Reconciliation.Categories[category]
		if !ok {
			continue
		}

		change, result, categoryUndo, err := o.planCategory(rec, r.Resolution)
		if err != nil {
			return r, o.failExecution(ctx, r, report, undo, err, actor)
		}

		if !change.Empty() {
			if err := o.dataset.ApplyCategory(ctx, orgID, category, change); err != nil {
				result.Applied = 0
				result.Failed = len(change.Inserts) + len(change.Updates)
				result.Error = err.Error()
				report.Categories[category] = result
				return r, o.failExecution(ctx, r, report, undo, backup.NewStorageError(
					fmt.Sprintf("failed to apply category %s", category), err), actor)
			}
		}

		report.Categories[category] = result
		if len(categoryUndo.InsertedIDs) > 0 || len(categoryUndo.Replaced) > 0 {
			undo.Categories[category] = categoryUndo
		}
	}

	completed := o.now().UTC()
	report.FinishedAt = completed
	r.ExecutionReport = report
	r.UndoLog = undo
	r.Status = backup.RestoreStatusCompleted
	r.CompletedAt = &completed
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, backup.NewStorageError("failed to finalize restore", err)
	}
	o.logger.LogRestoreTransition(orgID, r.ID, string(backup.RestoreStatusProcessing), string(r.Status))

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreCompleted, "restore", r.ID, actor, map[string]interface{}{
		"categories": len(r.SelectedCategories),
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// planCategory turns one category's reconciliation into a change set:
// additions insert, identical entities skip, conflicts resolve per the active
// strategy. The undo captures inserted ids and prior state for every write.
func (o *Orchestrator) planCategory(rec *backup.CategoryReconciliation, resolution *backup.ConflictResolution) (CategoryChange, *backup.CategoryResult, *backup.CategoryUndo, error) {
	change := CategoryChange{}
	result := &backup.CategoryResult{Skipped: len(rec.Identical)}
	categoryUndo := &backup.CategoryUndo{}

	for _, entity := range rec.Additions {
		change.Inserts = append(change.Inserts, entity.Clone())
		categoryUndo.InsertedIDs = append(categoryUndo.InsertedIDs, entity.ID)
	}

	for _, conflict := range rec.Conflicts {
		if resolution == nil {
			result.Skipped++
			continue
		}
		resolved, apply, err := resolveConflict(conflict, resolution)
		if err != nil {
			return CategoryChange{}, nil, nil, err
		}
		if !apply {
			result.Skipped++
			continue
		}
		change.Updates = append(change.Updates, resolved)
		categoryUndo.Replaced = append(categoryUndo.Replaced, backup.ReplacedEntity{
			Prior:   conflict.Destination.Clone(),
			Written: resolved.Clone(),
		})
	}

	result.Applied = len(change.Inserts) + len(change.Updates)
	return change, result, categoryUndo, nil
}

// failExecution performs the terminal transition to failed, preserving
// whatever partial report and undo state the run produced.
func (o *Orchestrator) failExecution(ctx context.Context, r *backup.Restore, report *backup.ExecutionReport, undo *backup.UndoLog, cause error, actor backup.Actor) error {
	completed := o.now().UTC()
	report.FinishedAt = completed
	r.ExecutionReport = report
	r.UndoLog = undo
	r.Status = backup.RestoreStatusFailed
	r.ErrorMessage = cause.Error()
	r.CompletedAt = &completed

	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return backup.NewStorageError("failed to mark restore failed", err)
	}
	o.logger.LogRestoreTransition(r.OrgID, r.ID, string(backup.RestoreStatusProcessing), string(r.Status))

	if err := o.ledger.Record(ctx, r.OrgID, backup.ActionRestoreFailed, "restore", r.ID, actor, map[string]interface{}{
		"error": cause.Error(),
	}); err != nil {
		return err
	}
	return cause
}
