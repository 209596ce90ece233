package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backup-orchestrator/internal/lifecycle"
)

var (
	settingsNotifySuccess bool
	settingsNotifyFailure bool
	settingsEmails        []string
	settingsWebhook       string
	settingsDefaultDisk   string

	credentialPairs []string
)

// settingsCmd groups the per-organization settings commands
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage per-organization backup settings",
	Long: `Show and update per-organization backup settings.

Settings control notification channels (emails, webhook), the default
storage disk, and remote storage credentials. Credentials are encrypted at
rest with the engine's active key.

Examples:
  backup-orchestrator settings show --org org-1
  backup-orchestrator settings update --org org-1 --notify-failure --emails ops@example.com
  backup-orchestrator settings set-credential s3 --org org-1 --set access_key=AKIA... --set secret_key=...`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the organization's settings",
	RunE:  runSettingsShow,
}

var settingsUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the organization's settings",
	RunE:  runSettingsUpdate,
}

var settingsSetCredentialCmd = &cobra.Command{
	Use:   "set-credential <provider>",
	Short: "Store encrypted credentials for a storage provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsSetCredential,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsUpdateCmd)
	settingsCmd.AddCommand(settingsSetCredentialCmd)

	settingsUpdateCmd.Flags().BoolVar(&settingsNotifySuccess, "notify-success", false, "notify on successful backups and restores")
	settingsUpdateCmd.Flags().BoolVar(&settingsNotifyFailure, "notify-failure", true, "notify on failed backups and restores")
	settingsUpdateCmd.Flags().StringSliceVar(&settingsEmails, "emails", nil, "notification recipient emails")
	settingsUpdateCmd.Flags().StringVar(&settingsWebhook, "webhook", "", "notification webhook URL")
	settingsUpdateCmd.Flags().StringVar(&settingsDefaultDisk, "default-disk", "", "default storage disk")

	settingsSetCredentialCmd.Flags().StringSliceVar(&credentialPairs, "set", nil, "credential field as key=value, repeatable")
	settingsSetCredentialCmd.MarkFlagRequired("set")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	settings, err := a.settings.Get(ctx, orgID)
	if err != nil {
		return err
	}

	a.render.Infof("Settings for %s", orgID)
	a.render.Infof("  notify on success: %t", settings.NotifyOnSuccess)
	a.render.Infof("  notify on failure: %t", settings.NotifyOnFailure)
	if len(settings.NotificationEmails) > 0 {
		a.render.Infof("  emails: %s", strings.Join(settings.NotificationEmails, ", "))
	}
	if settings.WebhookURL != "" {
		a.render.Infof("  webhook: %s", settings.WebhookURL)
	}
	a.render.Infof("  default disk: %s", settings.DefaultStorageDisk)
	for provider := range settings.Credentials {
		a.render.Infof("  credential stored for: %s", provider)
	}
	return nil
}

func runSettingsUpdate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	settings, err := a.settings.Update(ctx, orgID, lifecycle.SettingsInput{
		NotifyOnSuccess:    settingsNotifySuccess,
		NotifyOnFailure:    settingsNotifyFailure,
		NotificationEmails: settingsEmails,
		WebhookURL:         settingsWebhook,
		DefaultStorageDisk: settingsDefaultDisk,
	}, a.actor())
	if err != nil {
		return err
	}
	a.render.Successf("Settings updated for %s (default disk %q)", orgID, settings.DefaultStorageDisk)
	return nil
}

func runSettingsSetCredential(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	payload := make(map[string]string, len(credentialPairs))
	for _, pair := range credentialPairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid credential field %q, expected key=value", pair)
		}
		payload[parts[0]] = parts[1]
	}

	if err := a.settings.SetCredential(ctx, orgID, args[0], payload, a.actor()); err != nil {
		return err
	}
	a.render.Successf("Credential stored for provider %s", args[0])
	return nil
}
