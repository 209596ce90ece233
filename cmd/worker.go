package cmd

import (
	"context"

	"github.com/spf13/cobra"

	apperrors "backup-orchestrator/internal/errors"
)

// workerCmd runs the schedule worker loop
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the schedule worker",
	Long: `Run the worker loop that fires due backup schedules.

The worker polls for due schedules at the configured interval, creates and
runs the scheduled backup, advances the schedule's next-run time, and sweeps
scheduled backups older than the schedule's retention window. SIGINT and
SIGTERM stop the loop after the current tick.

Example:
  backup-orchestrator worker --config /etc/backup-orchestrator.yaml`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	shutdown := apperrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	if err := a.runner.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
