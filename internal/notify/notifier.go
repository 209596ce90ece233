// Package notify delivers backup and restore outcome notifications over the
// channels configured in an organization's settings. Delivery is best effort:
// failures are logged and never propagate to the triggering operation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
)

// SettingsReader resolves an organization's notification preferences.
// *lifecycle.SettingsService satisfies it.
type SettingsReader interface {
	Get(ctx context.Context, orgID string) (*backup.BackupSettings, error)
}

// SMTPConfig holds the mail relay connection details.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
}

// Event is one notifiable outcome.
type Event struct {
	OrgID      string                 `json:"org_id"`
	Kind       string                 `json:"event"`
	Subject    string                 `json:"subject"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// success reports whether the event is gated on notify_on_success rather
// than notify_on_failure.
func (e Event) success() bool {
	return strings.HasSuffix(e.Kind, ".completed")
}

// sendMailFunc matches smtp.SendMail; injectable for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier fans events out to email and webhook channels.
type Notifier struct {
	settings SettingsReader
	smtp     *SMTPConfig
	client   *http.Client
	logger   *logging.Logger
	sendMail sendMailFunc
	now      func() time.Time
}

// NewNotifier creates a notifier. smtpConfig may be nil, disabling the email
// channel.
func NewNotifier(settings SettingsReader, smtpConfig *SMTPConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Notifier{
		settings: settings,
		smtp:     smtpConfig,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// BackupCompleted notifies a successful backup.
func (n *Notifier) BackupCompleted(ctx context.Context, b *backup.Backup) {
	n.Dispatch(ctx, Event{
		OrgID:   b.OrgID,
		Kind:    string(backup.ActionBackupCompleted),
		Subject: fmt.Sprintf("Backup %s completed", b.Code),
		Message: fmt.Sprintf("Backup %q finished successfully (%d bytes).", b.Name, b.FileSize),
		Details: map[string]interface{}{"backup_id": b.ID, "code": b.Code},
	})
}

// BackupFailed notifies a failed backup.
func (n *Notifier) BackupFailed(ctx context.Context, b *backup.Backup) {
	n.Dispatch(ctx, Event{
		OrgID:   b.OrgID,
		Kind:    string(backup.ActionBackupFailed),
		Subject: fmt.Sprintf("Backup %s failed", b.Code),
		Message: fmt.Sprintf("Backup %q failed: %s", b.Name, b.ErrorMessage),
		Details: map[string]interface{}{"backup_id": b.ID, "code": b.Code, "error": b.ErrorMessage},
	})
}

// RestoreCompleted notifies a successful restore.
func (n *Notifier) RestoreCompleted(ctx context.Context, r *backup.Restore) {
	n.Dispatch(ctx, Event{
		OrgID:   r.OrgID,
		Kind:    string(backup.ActionRestoreCompleted),
		Subject: fmt.Sprintf("Restore %s completed", r.Code),
		Message: fmt.Sprintf("Restore %s finished successfully.", r.Code),
		Details: map[string]interface{}{"restore_id": r.ID, "code": r.Code},
	})
}

// RestoreFailed notifies a failed restore.
func (n *Notifier) RestoreFailed(ctx context.Context, r *backup.Restore) {
	n.Dispatch(ctx, Event{
		OrgID:   r.OrgID,
		Kind:    string(backup.ActionRestoreFailed),
		Subject: fmt.Sprintf("Restore %s failed", r.Code),
		Message: fmt.Sprintf("Restore %s failed: %s", r.Code, r.ErrorMessage),
		Details: map[string]interface{}{"restore_id": r.ID, "code": r.Code, "error": r.ErrorMessage},
	})
}

// Dispatch fans one event out to every enabled channel. Channel failures are
// logged and swallowed.
func (n *Notifier) Dispatch(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = n.now().UTC()
	}

	settings, err := n.settings.Get(ctx, event.OrgID)
	if err != nil {
		n.logger.WithFields(map[string]interface{}{
			"org_id": event.OrgID,
			"event":  event.Kind,
			"error":  err.Error(),
		}).Error("Failed to load notification settings")
		return
	}

	if event.success() && !settings.NotifyOnSuccess {
		return
	}
	if !event.success() && !settings.NotifyOnFailure {
		return
	}

	if len(settings.NotificationEmails) > 0 && n.smtp != nil {
		if err := n.sendEmail(settings.NotificationEmails, event); err != nil {
			n.logger.WithFields(map[string]interface{}{
				"org_id": event.OrgID,
				"event":  event.Kind,
				"error":  err.Error(),
			}).Error("Failed to send notification email")
		}
	}

	if settings.WebhookURL != "" {
		if err := n.sendWebhook(ctx, settings.WebhookURL, event); err != nil {
			n.logger.WithFields(map[string]interface{}{
				"org_id": event.OrgID,
				"event":  event.Kind,
				"url":    settings.WebhookURL,
				"error":  err.Error(),
			}).Error("Failed to deliver notification webhook")
		}
	}
}

func (n *Notifier) sendEmail(recipients []string, event Event) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.smtp.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", event.Subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(event.Message)
	msg.WriteString("\r\n")

	var auth smtp.Auth
	if n.smtp.Username != "" {
		auth = smtp.PlainAuth("", n.smtp.Username, n.smtp.Password, n.smtp.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.smtp.Host, n.smtp.Port)
	return n.sendMail(addr, auth, n.smtp.From, recipients, msg.Bytes())
}

func (n *Notifier) sendWebhook(ctx context.Context, url string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return backup.NewNetworkError("webhook delivery failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return backup.NewNetworkError(
			fmt.Sprintf("webhook endpoint returned %d", resp.StatusCode), nil)
	}
	return nil
}
