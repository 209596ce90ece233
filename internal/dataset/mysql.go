// Package dataset provides the tenant entity data the engine backs up and
// restores. Both implementations satisfy the lifecycle source contract
// (Categories, ReadCategory) and the restore apply contract (ApplyCategory).
package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/restore"
)

// Schema holds the DDL for the entities table. Fields are schemaless JSON so
// one table serves every category.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    org_id     VARCHAR(36)  NOT NULL,
    category   VARCHAR(64)  NOT NULL,
    id         VARCHAR(64)  NOT NULL,
    fields     JSON         NOT NULL,
    updated_at DATETIME(6)  NOT NULL,
    PRIMARY KEY (org_id, category, id),
    KEY idx_entities_org_category (org_id, category)
);
`

// MySQLDataset reads and writes tenant entities in MySQL. ApplyCategory runs
// in a single transaction, which is what makes category execution atomic.
type MySQLDataset struct {
	db *sql.DB
}

// NewMySQLDataset wraps an existing database handle.
func NewMySQLDataset(db *sql.DB) *MySQLDataset {
	return &MySQLDataset{db: db}
}

// Categories returns the distinct categories present for the organization.
func (d *MySQLDataset) Categories(ctx context.Context, orgID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM entities WHERE org_id = ? ORDER BY category`, orgID)
	if err != nil {
		return nil, backup.NewStorageError("failed to list entity categories", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, backup.NewStorageError("failed to scan entity category", err)
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// ReadCategory returns every entity in the category. An unknown category is
// an empty set, not an error.
func (d *MySQLDataset) ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, fields FROM entities WHERE org_id = ? AND category = ? ORDER BY id`,
		orgID, category)
	if err != nil {
		return nil, backup.NewStorageError(
			fmt.Sprintf("failed to read category %s", category), err)
	}
	defer rows.Close()

	var entities []backup.Entity
	for rows.Next() {
		var entity backup.Entity
		var fields []byte
		if err := rows.Scan(&entity.ID, &fields); err != nil {
			return nil, backup.NewStorageError("failed to scan entity", err)
		}
		if err := json.Unmarshal(fields, &entity.Fields); err != nil {
			return nil, backup.NewCorruptionError(
				fmt.Sprintf("entity %s has malformed fields", entity.ID), err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// ApplyCategory commits inserts, updates, and deletes for one category in a
// single transaction.
func (d *MySQLDataset) ApplyCategory(ctx context.Context, orgID, category string, change restore.CategoryChange) error {
	if change.Empty() {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return backup.NewStorageError("failed to begin entity transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, entity := range change.Inserts {
		fields, err := json.Marshal(entity.Fields)
		if err != nil {
			return backup.NewValidationError(
				fmt.Sprintf("entity %s fields are not serializable", entity.ID), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (org_id, category, id, fields, updated_at) VALUES (?, ?, ?, ?, ?)`,
			orgID, category, entity.ID, fields, now); err != nil {
			return backup.NewStorageError(
				fmt.Sprintf("failed to insert entity %s", entity.ID), err)
		}
	}
	for _, entity := range change.Updates {
		fields, err := json.Marshal(entity.Fields)
		if err != nil {
			return backup.NewValidationError(
				fmt.Sprintf("entity %s fields are not serializable", entity.ID), err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entities SET fields = ?, updated_at = ? WHERE org_id = ? AND category = ? AND id = ?`,
			fields, now, orgID, category, entity.ID); err != nil {
			return backup.NewStorageError(
				fmt.Sprintf("failed to update entity %s", entity.ID), err)
		}
	}
	for _, id := range change.Deletes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE org_id = ? AND category = ? AND id = ?`,
			orgID, category, id); err != nil {
			return backup.NewStorageError(
				fmt.Sprintf("failed to delete entity %s", id), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return backup.NewStorageError("failed to commit entity transaction", err)
	}
	return nil
}
