package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/restore"
)

// FileDataset keeps tenant entities in JSON files, one file per category
// under <base>/<org-id>/<category>.json. It backs the memory database driver
// so the engine runs without MySQL. Category writes are serialized and land
// via rename, so a crash mid-apply leaves the previous file intact.
type FileDataset struct {
	base string
	mu   sync.Mutex
}

// NewFileDataset creates a file-backed dataset rooted at base.
func NewFileDataset(base string) (*FileDataset, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, backup.NewStorageError("failed to create dataset directory", err)
	}
	return &FileDataset{base: base}, nil
}

func (d *FileDataset) categoryPath(orgID, category string) string {
	return filepath.Join(d.base, orgID, category+".json")
}

// Categories lists the categories that have a data file for the organization.
func (d *FileDataset) Categories(ctx context.Context, orgID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.base, orgID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, backup.NewStorageError("failed to list dataset categories", err)
	}

	var categories []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		categories = append(categories, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(categories)
	return categories, nil
}

// ReadCategory returns every entity in the category. A missing file is an
// empty set.
func (d *FileDataset) ReadCategory(ctx context.Context, orgID, category string) ([]backup.Entity, error) {
	data, err := os.ReadFile(d.categoryPath(orgID, category))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, backup.NewStorageError(
			fmt.Sprintf("failed to read category %s", category), err)
	}

	var entities []backup.Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, backup.NewCorruptionError(
			fmt.Sprintf("category file %s is malformed", category), err)
	}
	return entities, nil
}

// ApplyCategory commits inserts, updates, and deletes for one category. The
// whole category is rewritten and renamed into place, so either every change
// lands or none does.
func (d *FileDataset) ApplyCategory(ctx context.Context, orgID, category string, change restore.CategoryChange) error {
	if change.Empty() {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.ReadCategory(ctx, orgID, category)
	if err != nil {
		return err
	}

	byID := make(map[string]backup.Entity, len(current))
	order := make([]string, 0, len(current))
	for _, entity := range current {
		byID[entity.ID] = entity
		order = append(order, entity.ID)
	}
	for _, entity := range change.Inserts {
		if _, exists := byID[entity.ID]; exists {
			return backup.NewConflictError(
				fmt.Sprintf("entity %s already exists in category %s", entity.ID, category), nil)
		}
		byID[entity.ID] = entity.Clone()
		order = append(order, entity.ID)
	}
	for _, entity := range change.Updates {
		if _, exists := byID[entity.ID]; !exists {
			return backup.NewNotFoundError(
				fmt.Sprintf("entity %s not found in category %s", entity.ID, category), nil)
		}
		byID[entity.ID] = entity.Clone()
	}
	for _, id := range change.Deletes {
		delete(byID, id)
	}

	next := make([]backup.Entity, 0, len(byID))
	for _, id := range order {
		if entity, ok := byID[id]; ok {
			next = append(next, entity)
		}
	}
	return d.writeCategory(orgID, category, next)
}

func (d *FileDataset) writeCategory(orgID, category string, entities []backup.Entity) error {
	dir := filepath.Join(d.base, orgID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backup.NewStorageError("failed to create organization directory", err)
	}

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return backup.NewStorageError("failed to encode category", err)
	}

	tmp, err := os.CreateTemp(dir, category+".*.tmp")
	if err != nil {
		return backup.NewStorageError("failed to create temp category file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return backup.NewStorageError("failed to write category file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return backup.NewStorageError("failed to close category file", err)
	}
	if err := os.Rename(tmp.Name(), d.categoryPath(orgID, category)); err != nil {
		os.Remove(tmp.Name())
		return backup.NewStorageError("failed to replace category file", err)
	}
	return nil
}

// Seed replaces a category wholesale. Intended for imports and tests.
func (d *FileDataset) Seed(orgID, category string, entities []backup.Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCategory(orgID, category, entities)
}
