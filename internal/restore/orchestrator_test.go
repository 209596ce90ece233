package restore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/audit"
	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
	"backup-orchestrator/internal/store"
)

var testActor = backup.Actor{UserID: "user-1", IPAddress: "10.0.0.1"}

const testOrgName = "Acme Corp"

type fakeArtifact struct {
	data map[string][]backup.Entity
}

func (f *fakeArtifact) Categories() []string {
	categories := make([]string, 0, len(f.data))
	for category := range f.data {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

func (f *fakeArtifact) Category(name string) ([]backup.Entity, error) {
	entities, ok := f.data[name]
	if !ok {
		return nil, backup.NewNotFoundError("category not in artifact", nil)
	}
	return entities, nil
}

// memDataset is an in-memory Dataset with per-category atomicity: an injected
// failure happens before any mutation.
type memDataset struct {
	data         map[string]map[string]backup.Entity
	failCategory string
}

func newMemDataset(initial map[string][]backup.Entity) *memDataset {
	d := &memDataset{data: make(map[string]map[string]backup.Entity)}
	for category, entities := range initial {
		records := make(map[string]backup.Entity, len(entities))
		for _, entity := range entities {
			records[entity.ID] = entity.Clone()
		}
		d.data[category] = records
	}
	return d
}

func (d *memDataset) ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error) {
	records := d.data[category]
	out := make([]backup.Entity, 0, len(records))
	for _, entity := range records {
		out = append(out, entity.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memDataset) ApplyCategory(ctx context.Context, orgID, category string, change CategoryChange) error {
	if category == d.failCategory {
		return errors.New("constraint violation")
	}
	records := d.data[category]
	if records == nil {
		records = make(map[string]backup.Entity)
		d.data[category] = records
	}
	for _, entity := range change.Inserts {
		records[entity.ID] = entity.Clone()
	}
	for _, entity := range change.Updates {
		records[entity.ID] = entity.Clone()
	}
	for _, id := range change.Deletes {
		delete(records, id)
	}
	return nil
}

func (d *memDataset) entity(category, id string) (backup.Entity, bool) {
	entity, ok := d.data[category][id]
	return entity, ok
}

type harness struct {
	store   *store.MemoryStore
	dataset *memDataset
	orch    *Orchestrator
	backup  *backup.Backup
	openErr error
}

func newHarness(t *testing.T, artifactData, current map[string][]backup.Entity) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelQuiet,
		Output: &bytes.Buffer{},
	})
	require.NoError(t, err)

	h := &harness{store: st, dataset: newMemDataset(current)}
	opener := func(ctx context.Context, orgID, backupID string) (ArtifactReader, error) {
		if h.openErr != nil {
			return nil, h.openErr
		}
		return &fakeArtifact{data: artifactData}, nil
	}
	orgName := func(ctx context.Context, orgID string) (string, error) {
		return testOrgName, nil
	}
	h.orch = NewOrchestrator(st, h.dataset, opener, orgName, audit.NewLedger(st, logger), logger)
	h.backup = seedCompletedBackup(t, st)
	return h
}

func seedCompletedBackup(t *testing.T, st *store.MemoryStore) *backup.Backup {
	t.Helper()
	now := time.Now().UTC()
	b := &backup.Backup{
		ID:          backup.GenerateID(),
		OrgID:       "org-1",
		Code:        backup.GenerateCode("bkp"),
		Name:        "nightly",
		Kind:        backup.BackupKindManual,
		Status:      backup.BackupStatusCompleted,
		StorageDisk: "local",
		CreatedBy:   "user-1",
		CreatedAt:   now,
		CompletedAt: &now,
	}
	require.NoError(t, st.CreateBackup(context.Background(), b))
	return b
}

// conflictedDataset returns an artifact/current pair with one addition, one
// identical record, and one conflict in the contacts category.
func conflictedDataset() (artifact, current map[string][]backup.Entity) {
	artifact = map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}},
			{ID: "c-2", Fields: map[string]interface{}{"name": "Bob"}},
			{ID: "c-3", Fields: map[string]interface{}{"name": "Carol", "phone": "555-0100"}},
		},
	}
	current = map[string][]backup.Entity{
		"contacts": {
			{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}},
			{ID: "c-3", Fields: map[string]interface{}{"name": "Caroline"}},
		},
	}
	return artifact, current
}

func TestAnalyzeClassifiesEntities(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	assert.Equal(t, backup.RestoreStatusAwaitingConfirmation, r.Status)
	assert.Contains(t, r.Code, "rst-")
	require.NotNil(t, r.Reconciliation)

	rec := r.Reconciliation.Categories["contacts"]
	require.NotNil(t, rec)
	require.Len(t, rec.Additions, 1)
	assert.Equal(t, "c-2", rec.Additions[0].ID)
	assert.Equal(t, []string{"c-1"}, rec.Identical)
	require.Len(t, rec.Conflicts, 1)
	assert.Equal(t, "c-3", rec.Conflicts[0].EntityID)
	assert.Equal(t, []string{"name", "phone"}, rec.Conflicts[0].DifferingFields)

	assert.Equal(t, 1, r.Reconciliation.Preview.Total)
	assert.Equal(t, map[string]int{"contacts": 1}, r.Reconciliation.Preview.ByCategory)

	entries, err := h.store.ListAudit(ctx, "org-1", store.AuditFilter{Action: backup.ActionRestoreAnalyzed})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	first, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	second, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	restores, err := h.store.ListRestores(ctx, "org-1", store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, restores, 1)
}

func TestAnalyzeFailureDeletesRecord(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	h.openErr = errors.New("artifact unreachable")
	ctx := context.Background()

	_, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.Error(t, err)

	restores, err := h.store.ListRestores(ctx, "org-1", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, restores)
}

func TestAnalyzeRequiresCompletedBackup(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	pending := seedCompletedBackup(t, h.store)
	pending.Status = backup.BackupStatusPending
	require.NoError(t, h.store.UpdateBackup(ctx, pending))

	_, err := h.orch.Analyze(ctx, "org-1", pending.ID, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeState))
}

func TestSelectCategoriesRoutesToConflictResolution(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	r, route, err := h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindFull, nil, testActor)
	require.NoError(t, err)
	assert.Equal(t, RouteConflictResolution, route)
	assert.Equal(t, backup.RestoreKindFull, r.Kind)
	assert.Equal(t, []string{"contacts"}, r.SelectedCategories)
}

func TestSelectCategoriesRoutesToConfirmationWithoutConflicts(t *testing.T) {
	artifact := map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
	}
	h := newHarness(t, artifact, nil)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Reconciliation.Preview.Total)

	_, route, err := h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindFull, nil, testActor)
	require.NoError(t, err)
	assert.Equal(t, RouteConfirmation, route)
}

func TestSelectCategoriesValidation(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	_, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindSelective, nil, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))

	_, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindSelective, []string{"invoices"}, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))

	_, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKind("partial"), nil, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
}

func TestConfirmNameGate(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	r, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindFull, nil, testActor)
	require.NoError(t, err)
	r, err = h.orch.ResolveConflicts(ctx, "org-1", r.ID, backup.StrategySkip, nil, testActor)
	require.NoError(t, err)

	// Wrong name: rejected with no state change.
	_, err = h.orch.Confirm(ctx, "org-1", r.ID, "acme corp", testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeConfirmation))

	stored, err := h.store.GetRestore(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusAwaitingConfirmation, stored.Status)

	// Exact name: transitions to processing.
	r, err = h.orch.Confirm(ctx, "org-1", r.ID, testOrgName, testActor)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusProcessing, r.Status)
	assert.Equal(t, "user-1", r.ConfirmedBy)
	assert.NotNil(t, r.StartedAt)
}

func TestConfirmSelectiveSkipsNameGate(t *testing.T) {
	artifact := map[string][]backup.Entity{
		"contacts": {{ID: "c-1", Fields: map[string]interface{}{"name": "Alice"}}},
	}
	h := newHarness(t, artifact, nil)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	r, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindSelective, []string{"contacts"}, testActor)
	require.NoError(t, err)

	r, err = h.orch.Confirm(ctx, "org-1", r.ID, "", testActor)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusProcessing, r.Status)
}

func TestConfirmRequiresResolutionWhenConflictsExist(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)
	r, _, err = h.orch.SelectCategories(ctx, "org-1", r.ID, backup.RestoreKindFull, nil, testActor)
	require.NoError(t, err)

	_, err = h.orch.Confirm(ctx, "org-1", r.ID, testOrgName, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
}

func TestConfirmRequiresSelection(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	_, err = h.orch.Confirm(ctx, "org-1", r.ID, testOrgName, testActor)
	require.Error(t, err)
	assert.True(t, backup.IsErrorType(err, backup.BackupErrorTypeValidation))
}

func TestGetProgressIsReadOnly(t *testing.T) {
	artifact, current := conflictedDataset()
	h := newHarness(t, artifact, current)
	ctx := context.Background()

	r, err := h.orch.Analyze(ctx, "org-1", h.backup.ID, testActor)
	require.NoError(t, err)

	progress, err := h.orch.GetProgress(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusAwaitingConfirmation, progress.Status)
	assert.Nil(t, progress.ExecutionReport)

	stored, err := h.store.GetRestore(ctx, "org-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.RestoreStatusAwaitingConfirmation, stored.Status)
}
