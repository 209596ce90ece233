package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/restore"
	"backup-orchestrator/internal/store"
)

var (
	// Selection flags
	restoreKind       string
	restoreCategories []string

	// Resolution flags
	resolveStrategy  string
	resolveDecisions []string

	// Confirmation flags
	confirmName string

	// Listing flags
	restoreListLimit int
)

// restoreCmd groups the guarded restore workflow commands
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Walk the guarded restore workflow",
	Long: `Restore a backup through analysis, selection, conflict resolution,
confirmation, and execution.

The workflow is strictly ordered. Analyze reconciles the backup archive
against current data and reports additions, identical records, and conflicts
per category. Select picks the restore kind and categories; if conflicts
exist a strategy must be chosen before confirming. Full and merge restores
require typing the organization's exact name to confirm. Execution applies
one category at a time and records an undo log, so a completed (or partially
applied failed) restore can be rolled back.

Examples:
  backup-orchestrator restore analyze <backup-id> --org org-1
  backup-orchestrator restore select <restore-id> --org org-1 --kind selective --categories contacts
  backup-orchestrator restore resolve <restore-id> --org org-1 --strategy merge
  backup-orchestrator restore confirm <restore-id> --org org-1 --name "Acme Corp"
  backup-orchestrator restore rollback <restore-id> --org org-1`,
}

var restoreAnalyzeCmd = &cobra.Command{
	Use:   "analyze <backup-id-or-code>",
	Short: "Reconcile a backup against current data",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreAnalyze,
}

var restoreSelectCmd = &cobra.Command{
	Use:   "select <restore-id>",
	Short: "Choose the restore kind and categories",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreSelect,
}

var restoreResolveCmd = &cobra.Command{
	Use:   "resolve <restore-id>",
	Short: "Choose the conflict resolution strategy",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreResolve,
}

var restoreConfirmCmd = &cobra.Command{
	Use:   "confirm <restore-id>",
	Short: "Confirm and execute the restore",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreConfirm,
}

var restoreProgressCmd = &cobra.Command{
	Use:   "progress <restore-id>",
	Short: "Show the restore's progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreProgress,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore operations",
	RunE:  runRestoreList,
}

var restoreRollbackCmd = &cobra.Command{
	Use:   "rollback <restore-id>",
	Short: "Revert an executed restore using its undo log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestoreRollback,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreAnalyzeCmd)
	restoreCmd.AddCommand(restoreSelectCmd)
	restoreCmd.AddCommand(restoreResolveCmd)
	restoreCmd.AddCommand(restoreConfirmCmd)
	restoreCmd.AddCommand(restoreProgressCmd)
	restoreCmd.AddCommand(restoreListCmd)
	restoreCmd.AddCommand(restoreRollbackCmd)

	restoreSelectCmd.Flags().StringVar(&restoreKind, "kind", "full", "restore kind (full, selective, merge)")
	restoreSelectCmd.Flags().StringSliceVar(&restoreCategories, "categories", nil, "categories to restore (default: all analyzed)")

	restoreResolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "", "conflict strategy (skip, replace, merge, ask)")
	restoreResolveCmd.Flags().StringSliceVar(&resolveDecisions, "decision", nil, "per-record decision as entity-id=action, repeatable")
	restoreResolveCmd.MarkFlagRequired("strategy")

	restoreConfirmCmd.Flags().StringVar(&confirmName, "name", "", "organization name, required for full and merge restores")

	restoreListCmd.Flags().IntVar(&restoreListLimit, "limit", 50, "maximum number of restores to list")
}

func runRestoreAnalyze(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	b, err := a.resolveBackup(ctx, args[0])
	if err != nil {
		return err
	}
	r, err := a.restores.Analyze(ctx, orgID, b.ID, a.actor())
	if err != nil {
		return err
	}

	a.render.Successf("Analysis complete: %s", r.Code)
	a.render.Infof("  restore id: %s", r.ID)
	a.render.ReconciliationTable(r.Reconciliation)
	return nil
}

func runRestoreSelect(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	r, route, err := a.restores.SelectCategories(ctx, orgID, args[0],
		backup.RestoreKind(restoreKind), restoreCategories, a.actor())
	if err != nil {
		return err
	}

	a.render.Successf("Selected %s restore of: %s", r.Kind, strings.Join(r.SelectedCategories, ", "))
	if route == restore.RouteConflictResolution {
		a.render.Infof("Conflicts exist; choose a strategy with `restore resolve` before confirming")
	} else {
		a.render.Infof("No conflicts; confirm with `restore confirm`")
	}
	return nil
}

func runRestoreResolve(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	decisions, err := parseDecisions(resolveDecisions)
	if err != nil {
		return err
	}
	r, err := a.restores.ResolveConflicts(ctx, orgID, args[0],
		backup.ConflictStrategy(resolveStrategy), decisions, a.actor())
	if err != nil {
		return err
	}

	a.render.Successf("Strategy recorded for %s: %s", r.Code, r.Resolution.Strategy)
	return nil
}

func runRestoreConfirm(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.restores.Confirm(ctx, orgID, args[0], confirmName, a.actor())
	if err != nil {
		return err
	}
	a.render.Infof("Restore %s confirmed, executing...", r.Code)

	r, execErr := a.restores.Execute(ctx, orgID, r.ID, a.actor())
	if execErr != nil {
		if r != nil {
			a.notifier.RestoreFailed(ctx, r)
			a.render.RestoreSummary(r)
		}
		return execErr
	}

	a.notifier.RestoreCompleted(ctx, r)
	a.render.Successf("Restore completed: %s", r.Code)
	a.render.ExecutionTable(r.ExecutionReport)
	return nil
}

func runRestoreProgress(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	progress, err := a.restores.GetProgress(ctx, orgID, args[0])
	if err != nil {
		return err
	}

	a.render.Infof("Status: %s", progress.Status)
	if progress.ErrorMessage != "" {
		a.render.Errorf("  error: %s", progress.ErrorMessage)
	}
	if progress.ExecutionReport != nil {
		a.render.ExecutionTable(progress.ExecutionReport)
	}
	return nil
}

func runRestoreList(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	restores, err := a.restores.List(ctx, orgID, store.ListOptions{Limit: restoreListLimit})
	if err != nil {
		return err
	}
	if len(restores) == 0 {
		a.render.Infof("No restores found")
		return nil
	}
	for _, r := range restores {
		a.render.RestoreSummary(r)
	}
	return nil
}

func runRestoreRollback(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	op, err := a.restores.Rollback(ctx, orgID, args[0], a.actor())
	if err != nil {
		return err
	}

	a.render.Successf("Rollback completed: %s", op.Code)
	a.render.ExecutionTable(op.ExecutionReport)
	return nil
}

// parseDecisions parses entity-id=action pairs for the ask strategy.
func parseDecisions(pairs []string) (map[string]backup.ConflictDecision, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	decisions := make(map[string]backup.ConflictDecision, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid decision %q, expected entity-id=action", pair)
		}
		decisions[parts[0]] = backup.ConflictDecision{Action: backup.ConflictStrategy(parts[1])}
	}
	return decisions, nil
}
