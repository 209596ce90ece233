package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/store"
)

// csvHeader is the fixed export column order. Consumers parse by position, so
// the order is part of the export contract.
var csvHeader = []string{"ID", "Action", "Entity Type", "Entity ID", "User", "IP Address", "Date"}

// ExportCSV writes the organization's filtered ledger entries as CSV.
func (l *Ledger) ExportCSV(ctx context.Context, w io.Writer, orgID string, filter store.AuditFilter) error {
	entries, err := l.repo.ListAudit(ctx, orgID, filter)
	if err != nil {
		return backup.NewAuditError("failed to load audit entries for export", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return backup.NewAuditError("failed to write CSV header", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			string(e.Action),
			e.EntityType,
			e.EntityID,
			e.UserID,
			e.IPAddress,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return backup.NewAuditError("failed to write CSV record", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return backup.NewAuditError("failed to flush CSV export", err)
	}
	return nil
}

// ExportJSON writes the organization's filtered ledger entries as a JSON array.
func (l *Ledger) ExportJSON(ctx context.Context, w io.Writer, orgID string, filter store.AuditFilter) error {
	entries, err := l.repo.ListAudit(ctx, orgID, filter)
	if err != nil {
		return backup.NewAuditError("failed to load audit entries for export", err)
	}
	if entries == nil {
		entries = []*backup.AuditLogEntry{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return backup.NewAuditError("failed to encode JSON export", err)
	}
	return nil
}
