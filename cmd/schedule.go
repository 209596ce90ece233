package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/schedule"
)

var (
	// Schedule create/update flags
	scheduleName       string
	scheduleFrequency  string
	scheduleHour       int
	scheduleMinute     int
	scheduleDayOfWeek  int
	scheduleDayOfMonth int
	scheduleTimezone   string
	scheduleRetention  int
	scheduleCategories []string
	scheduleDisk       string
)

// scheduleCmd groups the backup schedule commands
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backup schedules",
	Long: `Create, update, toggle, and delete recurring backup schedules.

A schedule fires at its computed next-run time in the configured timezone and
creates a scheduled backup through the worker. Retention sweeps scheduled
backups older than the retention window after each run.

Examples:
  # Nightly backup at 02:30 Dubai time, kept for 30 days
  backup-orchestrator schedule create --org org-1 --name nightly \
    --frequency daily --hour 2 --minute 30 --timezone Asia/Dubai --retention 30

  # Weekly backup every Sunday
  backup-orchestrator schedule create --org org-1 --name weekly \
    --frequency weekly --day-of-week 0 --hour 2 --timezone UTC --retention 90

  # Pause a schedule
  backup-orchestrator schedule toggle <schedule-id> --org org-1 --off`,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup schedule",
	RunE:  runScheduleCreate,
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update <schedule-id>",
	Short: "Update a backup schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleUpdate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup schedules",
	RunE:  runScheduleList,
}

var scheduleToggleOff bool

var scheduleToggleCmd = &cobra.Command{
	Use:   "toggle <schedule-id>",
	Short: "Activate or pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleToggle,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleUpdateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleToggleCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)

	for _, c := range []*cobra.Command{scheduleCreateCmd, scheduleUpdateCmd} {
		c.Flags().StringVar(&scheduleName, "name", "", "schedule name")
		c.Flags().StringVar(&scheduleFrequency, "frequency", "daily", "hourly, daily, weekly, or monthly")
		c.Flags().IntVar(&scheduleHour, "hour", 0, "hour of day (0-23)")
		c.Flags().IntVar(&scheduleMinute, "minute", 0, "minute of hour (0-59)")
		c.Flags().IntVar(&scheduleDayOfWeek, "day-of-week", -1, "day of week for weekly schedules (0=Sunday)")
		c.Flags().IntVar(&scheduleDayOfMonth, "day-of-month", -1, "day of month for monthly schedules (1-31)")
		c.Flags().StringVar(&scheduleTimezone, "timezone", "UTC", "IANA timezone name")
		c.Flags().IntVar(&scheduleRetention, "retention", 30, "retention in days (1-365)")
		c.Flags().StringSliceVar(&scheduleCategories, "categories", nil, "categories to include (default: all)")
		c.Flags().StringVar(&scheduleDisk, "disk", "", "storage disk override")
	}
	scheduleCreateCmd.MarkFlagRequired("name")

	scheduleToggleCmd.Flags().BoolVar(&scheduleToggleOff, "off", false, "pause instead of activate")
}

func scheduleInput() schedule.ScheduleInput {
	input := schedule.ScheduleInput{
		Name:          scheduleName,
		Frequency:     backup.Frequency(scheduleFrequency),
		Hour:          scheduleHour,
		Minute:        scheduleMinute,
		Timezone:      scheduleTimezone,
		RetentionDays: scheduleRetention,
		Categories:    scheduleCategories,
		StorageDisk:   scheduleDisk,
	}
	if scheduleDayOfWeek >= 0 {
		dow := scheduleDayOfWeek
		input.DayOfWeek = &dow
	}
	if scheduleDayOfMonth >= 0 {
		dom := scheduleDayOfMonth
		input.DayOfMonth = &dom
	}
	return input
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.schedules.Create(ctx, orgID, scheduleInput(), a.actor())
	if err != nil {
		return err
	}
	a.render.Successf("Schedule created: %s", s.ID)
	a.render.Infof("  next run: %s", s.NextRunAt.Format("2006-01-02 15:04 MST"))
	return nil
}

func runScheduleUpdate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.schedules.Update(ctx, orgID, args[0], scheduleInput(), a.actor())
	if err != nil {
		return err
	}
	a.render.Successf("Schedule updated: %s", s.ID)
	a.render.Infof("  next run: %s", s.NextRunAt.Format("2006-01-02 15:04 MST"))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	schedules, err := a.schedules.List(ctx, orgID)
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		a.render.Infof("No schedules found")
		return nil
	}
	a.render.ScheduleTable(schedules)
	return nil
}

func runScheduleToggle(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.schedules.Toggle(ctx, orgID, args[0], !scheduleToggleOff, a.actor())
	if err != nil {
		return err
	}
	if s.IsActive {
		a.render.Successf("Schedule activated: %s (next run %s)",
			s.ID, s.NextRunAt.Format("2006-01-02 15:04 MST"))
	} else {
		a.render.Infof("Schedule paused: %s", s.ID)
	}
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.schedules.Delete(ctx, orgID, args[0], a.actor()); err != nil {
		return err
	}
	a.render.Successf("Schedule deleted: %s", args[0])
	return nil
}
