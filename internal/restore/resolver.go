package restore

import (
	"fmt"

	"backup-orchestrator/internal/backup"
)

// resolveConflict decides what one conflicting record becomes under the
// active resolution. apply is false when the destination record is kept
// untouched.
func resolveConflict(conflict backup.ConflictRecord, resolution *backup.ConflictResolution) (entity backup.Entity, apply bool, err error) {
	strategy := resolution.Strategy
	var override *backup.ConflictDecision
	if decision, ok := resolution.Decisions[conflict.EntityID]; ok {
		strategy = decision.Action
		override = &decision
	}

	switch strategy {
	case backup.StrategySkip:
		return backup.Entity{}, false, nil
	case backup.StrategyReplace:
		return conflict.Source.Clone(), true, nil
	case backup.StrategyMerge:
		merged := mergeEntities(conflict.Source, conflict.Destination)
		if override != nil {
			for name, value := range override.Fields {
				merged.Fields[name] = value
			}
		}
		return merged, true, nil
	case backup.StrategyAsk:
		// Reaching here means no decision was recorded for this record;
		// validateDecisions should have caught it before any mutation.
		return backup.Entity{}, false, backup.NewValidationError(
			fmt.Sprintf("no decision recorded for conflicting record %s", conflict.EntityID), nil)
	default:
		return backup.Entity{}, false, backup.NewValidationError(
			fmt.Sprintf("unknown conflict strategy %q", strategy), nil)
	}
}

// mergeEntities performs the field-level union: every destination field is
// kept, and every non-null source field wins over it.
func mergeEntities(source, destination backup.Entity) backup.Entity {
	merged := destination.Clone()
	for name, value := range source.Fields {
		if value == nil {
			continue
		}
		merged.Fields[name] = value
	}
	return merged
}

// validateDecisions checks, before any mutation, that the ask strategy has an
// explicit decision for every conflicting record in the selected categories.
func validateDecisions(report *backup.ReconciliationReport, categories []string, resolution *backup.ConflictResolution) error {
	if resolution == nil || resolution.Strategy != backup.StrategyAsk {
		return nil
	}

	var missing []string
	for _, category := range categories {
		rec, ok := report.Categories[category]
		if !ok {
			continue
		}
		for _, conflict := range rec.Conflicts {
			if _, ok := resolution.Decisions[conflict.EntityID]; !ok {
				missing = append(missing, conflict.EntityID)
			}
		}
	}
	if len(missing) > 0 {
		return backup.NewValidationError(
			fmt.Sprintf("ask strategy requires a decision for every conflict; %d records are undecided", len(missing)), nil)
	}
	return nil
}
