package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/display"
	"backup-orchestrator/internal/lifecycle"
	"backup-orchestrator/internal/store"
)

var (
	// Backup creation flags
	backupName        string
	backupDescription string
	backupCategories  []string
	backupDisk        string
	backupNoRun       bool

	// Backup listing flags
	backupListLimit  int
	backupListOffset int

	// Download flags
	downloadOutput string
)

// backupCmd groups the backup lifecycle commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage organization backups",
	Long: `Create, run, list, download, and delete organization backups.

A backup captures the organization's entity categories into a compressed
archive on a configured storage disk. Creating a backup registers a pending
record and, unless --no-run is given, immediately produces the artifact.

Examples:
  # Create and run a backup of everything
  backup-orchestrator backup create --org org-1 --name "pre-migration"

  # Back up selected categories to S3
  backup-orchestrator backup create --org org-1 --name contacts --categories contacts,deals --disk s3

  # Download an artifact
  backup-orchestrator backup download bkp-20240601-090000-abcd1234 --org org-1 --output ./backup.zip`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new backup",
	RunE:  runBackupCreate,
}

var backupRunCmd = &cobra.Command{
	Use:   "run <backup-id>",
	Short: "Produce the artifact for a pending backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRun,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups with aggregate statistics",
	RunE:  runBackupList,
}

var backupDownloadCmd = &cobra.Command{
	Use:   "download <backup-id-or-code>",
	Short: "Download a completed backup artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDownload,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id-or-code>",
	Short: "Delete a backup and its artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupDownloadCmd)
	backupCmd.AddCommand(backupDeleteCmd)

	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "backup name")
	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	backupCreateCmd.Flags().StringSliceVar(&backupCategories, "categories", nil, "categories to include (default: all)")
	backupCreateCmd.Flags().StringVar(&backupDisk, "disk", "", "storage disk override")
	backupCreateCmd.Flags().BoolVar(&backupNoRun, "no-run", false, "register the backup without producing the artifact")
	backupCreateCmd.MarkFlagRequired("name")

	backupListCmd.Flags().IntVar(&backupListLimit, "limit", 50, "maximum number of backups to list")
	backupListCmd.Flags().IntVar(&backupListOffset, "offset", 0, "number of backups to skip")

	backupDownloadCmd.Flags().StringVar(&downloadOutput, "output", "", "destination file (default: artifact name)")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	b, err := a.backups.Create(ctx, orgID, lifecycle.CreateInput{
		Name:        backupName,
		Description: backupDescription,
		Kind:        backup.BackupKindManual,
		Categories:  backupCategories,
		StorageDisk: backupDisk,
	}, a.actor())
	if err != nil {
		return err
	}

	if backupNoRun {
		a.render.Successf("Backup registered: %s (%s)", b.Code, b.ID)
		return nil
	}
	return a.runBackup(ctx, b.ID)
}

func runBackupRun(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.runBackup(ctx, args[0])
}

// runBackup produces the artifact and dispatches notifications. A failed run
// is already finalized as failed by the manager; the error still surfaces.
func (a *app) runBackup(ctx context.Context, backupID string) error {
	b, err := a.backups.Run(ctx, orgID, backupID, a.actor())
	if err != nil {
		if b != nil {
			a.notifier.BackupFailed(ctx, b)
		}
		return err
	}

	a.notifier.BackupCompleted(ctx, b)
	a.render.Successf("Backup completed: %s", b.Code)
	a.render.Infof("  size: %s on disk %q", display.FormatBytes(b.FileSize), b.StorageDisk)
	if b.IsEncrypted {
		a.render.Infof("  encrypted with key %q", b.EncryptionKeyRef)
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	backups, err := a.backups.List(ctx, orgID, store.ListOptions{
		Limit:  backupListLimit,
		Offset: backupListOffset,
	})
	if err != nil {
		return err
	}
	stats, err := a.backups.Stats(ctx, orgID)
	if err != nil {
		return err
	}

	if len(backups) == 0 {
		a.render.Infof("No backups found")
		return nil
	}
	a.render.BackupTable(backups, stats)
	return nil
}

func runBackupDownload(cmd *cobra.Command, args []string) error {
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
	data, b, err := a.backups.DownloadArtifact(ctx, orgID, b.ID)
	if err != nil {
		return err
	}

	output := downloadOutput
	if output == "" {
		output = b.ArtifactName()
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	a.render.Successf("Artifact written to %s (%s)", output, display.FormatBytes(int64(len(data))))
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
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
	if err := a.backups.Delete(ctx, orgID, b.ID, a.actor()); err != nil {
		return err
	}
	a.render.Successf("Backup deleted: %s", b.Code)
	return nil
}

// resolveBackup accepts either the record id or the public code.
func (a *app) resolveBackup(ctx context.Context, ref string) (*backup.Backup, error) {
	b, err := a.backups.Get(ctx, orgID, ref)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return a.backups.GetByCode(ctx, orgID, ref)
}
