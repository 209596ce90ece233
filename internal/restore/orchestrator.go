package restore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/store"
)

// OrgNameFunc resolves an organization's current display name. Confirming a
// full or merge restore requires typing it back exactly.
type OrgNameFunc func(ctx context.Context, orgID string) (string, error)

// Orchestrator drives restore records through the state machine: pending,
// analyzing, awaiting_confirmation, processing, then completed, failed, or
// rolled_back.
type Orchestrator struct {
	store   store.Store
	dataset Dataset
	open    ArtifactOpener
	orgName OrgNameFunc
	ledger  *audit.Ledger
	logger  *logging.Logger
	now     func() time.Time
}

// NewOrchestrator creates a restore orchestrator.
func NewOrchestrator(st store.Store, dataset Dataset, open ArtifactOpener, orgName OrgNameFunc, ledger *audit.Ledger, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{
		store:   st,
		dataset: dataset,
		open:    open,
		orgName: orgName,
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}
}

// Analyze creates a restore for the backup and computes its reconciliation
// report. If a non-terminal restore already exists for the pair, that record
// is returned instead of creating a second one. A failed analysis deletes the
// half-created record so no orphaned rows survive.
func (o *Orchestrator) Analyze(ctx context.Context, orgID, backupID string, actor backup.Actor) (*backup.Restore, error) {
	b, err := o.store.GetBackup(ctx, orgID, backupID)
	if err != nil {
		return nil, err
	}
	if b.Status != backup.BackupStatusCompleted {
		return nil, backup.NewStateError(
			fmt.Sprintf("backup %s is %s, only completed backups can be restored", b.Code, b.Status), nil)
	}

	existing, err := o.store.FindActiveRestore(ctx, orgID, backupID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	r := &backup.Restore{
		ID:        backup.GenerateID(),
		OrgID:     orgID,
		BackupID:  backupID,
		Code:      backup.GenerateCode("rst"),
		Status:    backup.RestoreStatusPending,
		CreatedBy: actor.UserID,
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.CreateRestore(ctx, r); err != nil {
		if errors.Is(err, store.ErrRestoreInFlight) {
			// Lost the create race; the winner's record is the answer.
			return o.store.FindActiveRestore(ctx, orgID, backupID)
		}
		return nil, backup.NewStorageError("failed to create restore record", err)
	}

	r.Status = backup.RestoreStatusAnalyzing
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, o.discard(ctx, r, backup.NewStorageError("failed to mark restore analyzing", err))
	}
	o.logger.LogRestoreTransition(orgID, r.ID, string(backup.RestoreStatusPending), string(r.Status))

	artifact, err := o.open(ctx, orgID, backupID)
	if err != nil {
		return nil, o.discard(ctx, r, err)
	}
	report, err := reconcile(ctx, o.dataset, orgID, artifact, o.now())
	if err != nil {
		return nil, o.discard(ctx, r, err)
	}

	r.Reconciliation = report
	r.Status = backup.RestoreStatusAwaitingConfirmation
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, o.discard(ctx, r, backup.NewStorageError("failed to save reconciliation report", err))
	}
	o.logger.LogRestoreTransition(orgID, r.ID, string(backup.RestoreStatusAnalyzing), string(r.Status))

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreAnalyzed, "restore", r.ID, actor, map[string]interface{}{
		"backup_id": backupID,
		"conflicts": report.Preview.Total,
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// discard deletes a restore whose analysis failed and returns the cause.
func (o *Orchestrator) discard(ctx context.Context, r *backup.Restore, cause error) error {
	if err := o.store.DeleteRestore(ctx, r.OrgID, r.ID); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"org_id":     r.OrgID,
			"restore_id": r.ID,
			"error":      err.Error(),
		}).Error("Failed to discard restore record after analysis failure")
	}
	return cause
}

// Route tells the caller where the workflow goes after category selection.
type Route string

const (
	// RouteConfirmation means no conflicts exist; proceed to Confirm.
	RouteConfirmation Route = "confirmation"
	// RouteConflictResolution means conflicting records need a strategy via
	// ResolveConflicts before Confirm.
	RouteConflictResolution Route = "conflict_resolution"
)

// SelectCategories persists the restore kind and category selection, and
// returns the deterministic routing decision: conflicts in the preview send
// the caller through conflict resolution, none send it straight to
// confirmation.
func (o *Orchestrator) SelectCategories(ctx context.Context, orgID, restoreID string, kind backup.RestoreKind, categories []string, actor backup.Actor) (*backup.Restore, Route, error) {
	r, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, "", err
	}
	if r.Status != backup.RestoreStatusAwaitingConfirmation {
		return nil, "", backup.NewStateError(
			fmt.Sprintf("restore %s is %s, categories can only be selected while awaiting confirmation", r.Code, r.Status), nil)
	}
	if !backup.ValidKind(kind) {
		return nil, "", backup.NewValidationError(fmt.Sprintf("unknown restore kind %q", kind), nil)
	}

	if kind == backup.RestoreKindSelective && len(categories) == 0 {
		return nil, "", backup.NewValidationError("selective restores require at least one category", nil)
	}
	if len(categories) == 0 {
		for category := range r.Reconciliation.Categories {
			categories = append(categories, category)
		}
	}
	for _, category := range categories {
		if _, ok := r.Reconciliation.Categories[category]; !ok {
			return nil, "", backup.NewValidationError(
				fmt.Sprintf("category %s is not present in the backup", category), nil)
		}
	}
	sort.Strings(categories)

	r.Kind = kind
	r.SelectedCategories = categories
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, "", backup.NewStorageError("failed to save category selection", err)
	}

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreSelected, "restore", r.ID, actor, map[string]interface{}{
		"kind":       string(kind),
		"categories": categories,
	}); err != nil {
		return nil, "", err
	}

	if r.Reconciliation.Preview.Total > 0 {
		return r, RouteConflictResolution, nil
	}
	return r, RouteConfirmation, nil
}

// ResolveConflicts records the conflict strategy and any per-record decisions.
func (o *Orchestrator) ResolveConflicts(ctx context.Context, orgID, restoreID string, strategy backup.ConflictStrategy, decisions map[string]backup.ConflictDecision, actor backup.Actor) (*backup.Restore, error) {
	r, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if r.Status != backup.RestoreStatusAwaitingConfirmation {
		return nil, backup.NewStateError(
			fmt.Sprintf("restore %s is %s, conflicts can only be resolved while awaiting confirmation", r.Code, r.Status), nil)
	}
	if !backup.ValidStrategy(strategy) {
		return nil, backup.NewValidationError(fmt.Sprintf("unknown conflict strategy %q", strategy), nil)
	}
	for entityID, decision := range decisions {
		switch decision.Action {
		case backup.StrategySkip, backup.StrategyReplace, backup.StrategyMerge:
		default:
			return nil, backup.NewValidationError(
				fmt.Sprintf("decision for record %s must be skip, replace, or merge", entityID), nil)
		}
	}

	r.Resolution = &backup.ConflictResolution{
		Strategy:  strategy,
		Decisions: decisions,
	}
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, backup.NewStorageError("failed to save conflict resolution", err)
	}

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreResolved, "restore", r.ID, actor, map[string]interface{}{
		"strategy":  string(strategy),
		"decisions": len(decisions),
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Confirm gates the transition into processing. Full and merge restores
// require the caller to type the organization's current name exactly; a
// mismatch rejects the confirmation with no state change.
func (o *Orchestrator) Confirm(ctx context.Context, orgID, restoreID, orgNameInput string, actor backup.Actor) (*backup.Restore, error) {
	r, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if r.Status != backup.RestoreStatusAwaitingConfirmation {
		return nil, backup.NewStateError(
			fmt.Sprintf("restore %s is %s, only awaiting restores can be confirmed", r.Code, r.Status), nil)
	}
	if r.Kind == "" {
		return nil, backup.NewValidationError("categories must be selected before confirming", nil)
	}
	if r.Reconciliation.Preview.Total > 0 && r.Resolution == nil {
		return nil, backup.NewValidationError("conflicts must be resolved before confirming", nil)
	}

	if r.Kind.RequiresNameConfirmation() {
		name, err := o.orgName(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if orgNameInput != name {
			return nil, backup.NewConfirmationError("organization name does not match", nil)
		}
	}

	started := o.now().UTC()
	r.ConfirmedBy = actor.UserID
	r.Status = backup.RestoreStatusProcessing
	r.StartedAt = &started
	if err := o.store.UpdateRestore(ctx, r); err != nil {
		return nil, backup.NewStorageError("failed to confirm restore", err)
	}
	o.logger.LogRestoreTransition(orgID, r.ID, string(backup.RestoreStatusAwaitingConfirmation), string(r.Status))

	if err := o.ledger.Record(ctx, orgID, backup.ActionRestoreConfirmed, "restore", r.ID, actor, map[string]interface{}{
		"kind": string(r.Kind),
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Progress is the read-only projection polled while execution runs
// out-of-band. It never mutates state.
type Progress struct {
	Status          backup.RestoreStatus    `json:"status"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	ExecutionReport *backup.ExecutionReport `json:"execution_report,omitempty"`
}

// GetProgress returns the restore's current progress projection.
func (o *Orchestrator) GetProgress(ctx context.Context, orgID, restoreID string) (*Progress, error) {
	r, err := o.store.GetRestore(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		Status:          r.Status,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		ErrorMessage:    r.ErrorMessage,
		ExecutionReport: r.ExecutionReport,
	}, nil
}

// Get returns one restore record.
func (o *Orchestrator) Get(ctx context.Context, orgID, restoreID string) (*backup.Restore, error) {
	return o.store.GetRestore(ctx, orgID, restoreID)
}

// List returns the organization's restores, newest first.
func (o *Orchestrator) List(ctx context.Context, orgID string, opts store.ListOptions) ([]*backup.Restore, error) {
	return o.store.ListRestores(ctx, orgID, opts)
}
