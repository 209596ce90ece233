package display

import (
	"fmt"
	"io"
	"sort"
	"time"

	"backup-orchestrator/internal/backup"
)

// Renderer formats domain records for terminal output.
type Renderer struct {
	out    io.Writer
	colors *ColorSystem
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, colors *ColorSystem) *Renderer {
	return &Renderer{out: out, colors: colors}
}

// Successf prints a success-colored line.
func (r *Renderer) Successf(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Success(fmt.Sprintf(format, args...)))
}

// Errorf prints an error-colored line.
func (r *Renderer) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Error(fmt.Sprintf(format, args...)))
}

// Infof prints an info-colored line.
func (r *Renderer) Infof(format string, args ...interface{}) {
	fmt.Fprintln(r.out, r.colors.Info(fmt.Sprintf(format, args...)))
}

// BackupTable renders a backup listing with aggregate stats.
func (r *Renderer) BackupTable(backups []*backup.Backup, stats *backup.BackupStats) {
	table := NewTable("CODE", "NAME", "KIND", "STATUS", "SIZE", "DISK", "CREATED")
	for _, b := range backups {
		table.AddRow(
			b.Code,
			b.Name,
			string(b.Kind),
			r.backupStatus(b.Status),
			FormatBytes(b.FileSize),
			b.StorageDisk,
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render(r.out)

	if stats != nil {
		fmt.Fprintf(r.out, "\n%d backups, %d this month, %s used",
			stats.Total, stats.ThisMonth, FormatBytes(stats.StorageUsed))
		if stats.LastBackupAt != nil {
			fmt.Fprintf(r.out, ", last %s", stats.LastBackupAt.Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(r.out)
	}
}

// ScheduleTable renders a schedule listing.
func (r *Renderer) ScheduleTable(schedules []*backup.Schedule) {
	table := NewTable("ID", "NAME", "FREQUENCY", "TIME", "TZ", "RETENTION", "ACTIVE", "NEXT RUN")
	for _, s := range schedules {
		active := r.colors.Success("yes")
		if !s.IsActive {
			active = r.colors.Colorize("no", r.colors.theme.Muted)
		}
		table.AddRow(
			s.ID,
			s.Name,
			string(s.Frequency),
			fmt.Sprintf("%02d:%02d", s.Hour, s.Minute),
			s.Timezone,
			fmt.Sprintf("%dd", s.RetentionDays),
			active,
			s.NextRunAt.Format("2006-01-02 15:04 MST"),
		)
	}
	table.Render(r.out)
}

// RestoreSummary renders one restore record with its reports.
func (r *Renderer) RestoreSummary(restore *backup.Restore) {
	fmt.Fprintf(r.out, "Restore %s  %s  %s\n",
		r.colors.Highlight(restore.Code), string(restore.Kind), r.restoreStatus(restore.Status))
	if restore.ErrorMessage != "" {
		r.Errorf("  error: %s", restore.ErrorMessage)
	}
	if restore.Reconciliation != nil {
		r.ReconciliationTable(restore.Reconciliation)
	}
	if restore.ExecutionReport != nil {
		r.ExecutionTable(restore.ExecutionReport)
	}
}

// ReconciliationTable renders the per-category conflict preview.
func (r *Renderer) ReconciliationTable(report *backup.ReconciliationReport) {
	table := NewTable("CATEGORY", "ADDITIONS", "IDENTICAL", "CONFLICTS")
	for _, category := range sortedKeys(report.Categories) {
		rec := report.Categories[category]
		conflicts := fmt.Sprintf("%d", len(rec.Conflicts))
		if len(rec.Conflicts) > 0 {
			conflicts = r.colors.Warning(conflicts)
		}
		table.AddRow(category,
			fmt.Sprintf("%d", len(rec.Additions)),
			fmt.Sprintf("%d", len(rec.Identical)),
			conflicts)
	}
	table.Render(r.out)

	if report.Preview.Total > 0 {
		fmt.Fprintln(r.out, r.colors.Warning(
			fmt.Sprintf("%d conflicting records require a resolution strategy", report.Preview.Total)))
	} else {
		fmt.Fprintln(r.out, r.colors.Success("No conflicts detected"))
	}
}

// ExecutionTable renders the per-category execution results.
func (r *Renderer) ExecutionTable(report *backup.ExecutionReport) {
	table := NewTable("CATEGORY", "APPLIED", "SKIPPED", "FAILED", "PARTIAL", "ERROR")
	for _, category := range sortedKeys(report.Categories) {
		result := report.Categories[category]
		failed := fmt.Sprintf("%d", result.Failed)
		if result.Failed > 0 {
			failed = r.colors.Error(failed)
		}
		table.AddRow(category,
			fmt.Sprintf("%d", result.Applied),
			fmt.Sprintf("%d", result.Skipped),
			failed,
			fmt.Sprintf("%d", result.PartiallyReverted),
			result.Error)
	}
	table.Render(r.out)

	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(r.out, "finished in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}
}

// AuditTable renders ledger entries.
func (r *Renderer) AuditTable(entries []*backup.AuditLogEntry) {
	table := NewTable("DATE", "ACTION", "ENTITY", "ENTITY ID", "USER", "IP")
	for _, e := range entries {
		table.AddRow(
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Action),
			e.EntityType,
			e.EntityID,
			e.UserID,
			e.IPAddress,
		)
	}
	table.Render(r.out)
}

func (r *Renderer) backupStatus(status backup.BackupStatus) string {
	switch status {
	case backup.BackupStatusCompleted:
		return r.colors.Success(string(status))
	case backup.BackupStatusFailed:
		return r.colors.Error(string(status))
	case backup.BackupStatusProcessing:
		return r.colors.Info(string(status))
	default:
		return string(status)
	}
}

func (r *Renderer) restoreStatus(status backup.RestoreStatus) string {
	switch status {
	case backup.RestoreStatusCompleted:
		return r.colors.Success(string(status))
	case backup.RestoreStatusFailed:
		return r.colors.Error(string(status))
	case backup.RestoreStatusRolledBack:
		return r.colors.Warning(string(status))
	case backup.RestoreStatusProcessing, backup.RestoreStatusAnalyzing:
		return r.colors.Info(string(status))
	default:
		return string(status)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatBytes renders a byte count in human-readable units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
