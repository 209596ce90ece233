package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/store"
)

var (
	auditAction     string
	auditEntityType string
	auditFrom       string
	auditTo         string
	auditFormat     string
	auditOutput     string
)

// auditCmd groups the audit ledger commands
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and export the audit ledger",
	Long: `List and export the organization's append-only audit ledger.

Every state-changing operation writes one ledger entry. Entries are never
updated or deleted. Exports produce CSV or a JSON array, filtered by action,
entity type, and date range.

Examples:
  backup-orchestrator audit list --org org-1 --action restore.confirmed
  backup-orchestrator audit export --org org-1 --format csv --output audit.csv --from 2024-01-01`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	RunE:  runAuditList,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries as CSV or JSON",
	RunE:  runAuditExport,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditExportCmd)

	for _, c := range []*cobra.Command{auditListCmd, auditExportCmd} {
		c.Flags().StringVar(&auditAction, "action", "", "filter by action, e.g. backup.created")
		c.Flags().StringVar(&auditEntityType, "entity-type", "", "filter by entity type (backup, restore, schedule, settings)")
		c.Flags().StringVar(&auditFrom, "from", "", "include entries at or after this date (YYYY-MM-DD)")
		c.Flags().StringVar(&auditTo, "to", "", "include entries at or before this date (YYYY-MM-DD)")
	}

	auditExportCmd.Flags().StringVar(&auditFormat, "format", "csv", "export format (csv or json)")
	auditExportCmd.Flags().StringVar(&auditOutput, "output", "", "destination file (default: stdout)")
}

func auditFilter() (store.AuditFilter, error) {
	filter := store.AuditFilter{
		Action:     backup.AuditAction(auditAction),
		EntityType: auditEntityType,
	}
	if auditFrom != "" {
		from, err := time.Parse("2006-01-02", auditFrom)
		if err != nil {
			return filter, fmt.Errorf("invalid --from date: %w", err)
		}
		filter.FromDate = &from
	}
	if auditTo != "" {
		to, err := time.Parse("2006-01-02", auditTo)
		if err != nil {
			return filter, fmt.Errorf("invalid --to date: %w", err)
		}
		filter.ToDate = &to
	}
	return filter, nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	filter, err := auditFilter()
	if err != nil {
		return err
	}
	entries, err := a.ledger.List(ctx, orgID, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.render.Infof("No audit entries found")
		return nil
	}
	a.render.AuditTable(entries)
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	filter, err := auditFilter()
	if err != nil {
		return err
	}

	out := os.Stdout
	if auditOutput != "" {
		f, err := os.Create(auditOutput)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch auditFormat {
	case "csv":
		err = a.ledger.ExportCSV(ctx, out, orgID, filter)
	case "json":
		err = a.ledger.ExportJSON(ctx, out, orgID, filter)
	default:
		return fmt.Errorf("unsupported export format %q", auditFormat)
	}
	if err != nil {
		return err
	}
	if auditOutput != "" {
		a.render.Successf("Audit ledger exported to %s", auditOutput)
	}
	return nil
}
