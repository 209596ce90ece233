// Package restore implements the guarded workflow that reconciles a backup's
// contents back into a live organization dataset: analysis, category
// selection, conflict resolution, confirmation, execution, and rollback.
package restore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"backup-orchestrator/internal/backup"
)

// ArtifactReader exposes the category entity sets of a backup artifact.
// *archive.Reader satisfies it.
type ArtifactReader interface {
	Categories() []string
	Category(name string) ([]backup.Entity, error)
}

// ArtifactOpener fetches and opens the artifact behind a backup record.
type ArtifactOpener func(ctx context.Context, orgID, backupID string) (ArtifactReader, error)

// Dataset is the live organizational data restores read from and write into.
// Category identifiers are opaque to the engine.
type Dataset interface {
	ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error)
	// ApplyCategory applies a change set to one category atomically: either
	// every insert, update, and delete commits, or none do.
	ApplyCategory(ctx context.Context, orgID, category string, change CategoryChange) error
}

// CategoryChange is the atomic unit of mutation against one category.
type CategoryChange struct {
	Inserts []backup.Entity
	Updates []backup.Entity
	Deletes []string
}

// Empty reports whether the change set would touch nothing.
func (c CategoryChange) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// reconcile classifies every artifact entity against the destination dataset:
// additions have no destination match, identical entities match field for
// field, conflicts match by id with differing fields.
func reconcile(ctx context.Context, dataset Dataset, orgID string, artifact ArtifactReader, analyzedAt time.Time) (*backup.ReconciliationReport, error) {
	report := &backup.ReconciliationReport{
		Categories: make(map[string]*backup.CategoryReconciliation),
		Preview: backup.ConflictPreview{
			ByCategory: make(map[string]int),
		},
		AnalyzedAt: analyzedAt.UTC(),
	}

	for _, category := range artifact.Categories() {
		source, err := artifact.Category(category)
		if err != nil {
			return nil, err
		}
		destination, err := dataset.ReadCategory(ctx, orgID, category)
		if err != nil {
			return nil, backup.NewStorageError(
				fmt.Sprintf("failed to read current data for category %s", category), err)
		}

		report.Categories[category] = classifyCategory(source, destination)
	}

	for category, rec := range report.Categories {
		if n := len(rec.Conflicts); n > 0 {
			report.Preview.ByCategory[category] = n
			report.Preview.Total += n
		}
	}
	return report, nil
}

func classifyCategory(source, destination []backup.Entity) *backup.CategoryReconciliation {
	byID := make(map[string]backup.Entity, len(destination))
	for _, entity := range destination {
		byID[entity.ID] = entity
	}

	rec := &backup.CategoryReconciliation{}
	for _, entity := range source {
		existing, found := byID[entity.ID]
		if !found {
			rec.Additions = append(rec.Additions, entity)
			continue
		}

		differing := differingFields(entity, existing)
		if len(differing) == 0 {
			rec.Identical = append(rec.Identical, entity.ID)
			continue
		}
		rec.Conflicts = append(rec.Conflicts, backup.ConflictRecord{
			EntityID:        entity.ID,
			Source:          entity,
			Destination:     existing,
			DifferingFields: differing,
		})
	}
	return rec
}

// differingFields returns the sorted union of field names whose values differ
// between the two entities. A field present on one side only counts as
// differing.
func differingFields(source, destination backup.Entity) []string {
	var fields []string
	for name, value := range source.Fields {
		current, ok := destination.Fields[name]
		if !ok || !reflect.DeepEqual(value, current) {
			fields = append(fields, name)
		}
	}
	for name := range destination.Fields {
		if _, ok := source.Fields[name]; !ok {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}
