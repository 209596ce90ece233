package restore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/store"
)

// confirmed runs a restore up to processing with the given strategy.
func confirmed(t *testing.T, h *harness, kind backup.RestoreKind, strategy backup.ConflictStrategy, decisions map[string]backup.ConflictDecision) *backup.Restore {
	t.Helper()
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	r, route, err := h.orch.SelectCategories(ctx, "org-1", r.ID, kind, nil, testActor)
	require.NoError(t, err)
	if route == RouteConflictResolution {
		r, err = h.orch.ResolveConflicts(ctx, "org-1", r.ID, strategy, decisions, testActor)
		require.NoError(t, err)
	}
	r, err = h.orch.Confirm(ctx, "org-1", r.ID, testOrgName, testActor)
	require.NoError(t, err)
	return r
}

func TestExecuteAppliesAdditions(t *testing.T) {
	artifact := map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}},
			{ID: "c-2", Fields: map[string]interface{}{"name": "Bob"}},
		},
	}
	current := map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
	}
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, "", nil)
	r, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.NoError(t, err)

	assert.Equal(t, backup.RestoreStatusCompleted, r.Status)
	assert.NotNil(t, r.CompletedAt)

	result := r.ExecutionReport.Categories["contacts"]
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	added, ok := h.dataset.entity("contacts", "c-2")
	require.True(t, ok)
	assert.Equal(t, "Bob", added.Fields["name"])

	require.NotNil(t, r.UndoLog)
	assert.Equal(t, []string{"c-2"}, r.UndoLog.Categories["contacts"].InsertedIDs)

	entries, err := h.store.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionRestoreCompleted})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExecuteReplaceStrategy(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, backup.StrategyReplace, nil)
	r, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.NoError(t, err)

	got, ok := h.dataset.entity("contacts", "c-3")
	require.True(t, ok)
	assert.Equal(t, "Carol", got.Fields["name"])
	assert.Equal(t, "555-0100", got.Fields["phone"])

	replaced := r.UndoLog.Categories["contacts"].Replaced
	require.Len(t, replaced, 1)
	assert.Equal(t, "Caroline", replaced[0].Prior.Fields["name"])
	assert.Equal(t, "Carol", replaced[0].Written.Fields["name"])
}

func TestExecuteSkipStrategy(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, backup.StrategySkip, nil)
	r, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.NoError(t, err)

	// Destination record untouched; the addition still lands.
	got, ok := h.dataset.entity("contacts", "c-3")
	require.True(t, ok)
	assert.Equal(t, "Caroline", got.Fields["name"])

	result := r.ExecutionReport.Categories["contacts"]
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 2, result.Skipped)
}

func TestExecuteMergeStrategy(t *testing.T) {
	artifact := map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice", "phone": "555-0100", "email": nil}},
		},
	}
	current := map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alicia", "email": "alice@example.com"}},
		},
	}
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindMerge, backup.StrategyMerge, nil)
	_, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.NoError(t, err)

	got, ok := h.dataset.entity("contacts", "c-1")
	require.True(t, ok)
	// Non-null source fields win, null source fields keep the destination.
	assert.Equal(t, "Alice", got.Fields["name"])
	assert.Equal(t, "555-0100", got.Fields["phone"])
	assert.Equal(t, "alice@example.com", got.Fields["email"])
}

func TestExecuteAskFailsFastOnMissingDecisions(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, backup.StrategyAsk, nil)
	_, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))

	// Nothing was written: the addition never landed.
	_, ok := h.dataset.entity("contacts", "c-2")
	assert.False(t, ok)

	stored, err := h.store.GetRestore(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.Empty(t, stored.ExecutionReport.Categories)
}

func TestExecuteAskWithDecisions(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, backup.StrategyAsk, map[string]backup.ConflictDecision{
		"c-3": {Action: backup.StrategyReplace},
	})
	r, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusCompleted, r.Status)

	got, ok := h.dataset.entity("contacts", "c-3")
	require.True(t, ok)
	assert.Equal(t, "Carol", got.Fields["name"])
}

func TestExecuteCategoryFailurePreservesPartialReport(t *testing.T) {
	artifact := map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
		"deals":    {{ID: "d-1", Fields: map[string]interface{}{"title": "Renewal"}}},
	}
	h := newHarness(t, artifact, nil)
	h.dataset.failCategory = "deals"
	ctx := context.Background()

	r := confirmed(t, h, backup.RestoreKindFull, "", nil)
	_, err := h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.Error(t, err)

	stored, err := h.store.GetRestore(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusFailed, stored.Status)

	// Categories execute alphabetically, so contacts committed before deals
	// failed; its result and the committed data survive.
	contacts := stored.ExecutionReport.Categories["contacts"]
	require.NotNil(t, contacts)
	assert.Equal(t, 1, contacts.Applied)

	deals := stored.ExecutionReport.Categories["deals"]
	require.NotNil(t, deals)
	assert.Equal(t, 1, deals.Failed)
	assert.NotEmpty(t, deals.Error)

	_, ok := h.dataset.entity("contacts", "c-1")
	assert.True(t, ok)
	_, ok = h.dataset.entity("deals", "d-1")
	assert.False(t, ok)

	entries, err := h.store.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionRestoreFailed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExecuteRequiresProcessing(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	_, err = h.orch.Execute(ctx, "org-1", r.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}
