package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backup-orchestrator/internal/backup"
	"backup-orchestrator/internal/logging"
)

type fakeSettings struct {
	settings *backup.BackupSettings
}

func (f *fakeSettings) Get(ctx context.Context, orgID string) (*backup.BackupSettings, error) {
	return f.settings, nil
}

func testNotifier(t *testing.T, settings *backup.BackupSettings) *Notifier {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelQuiet,
		Output: &bytes.Buffer{},
	})
	require.NoError(t, err)
	return NewNotifier(&fakeSettings{settings: settings}, nil, logger)
}

func completedBackup() *backup.Backup {
	return &backup.Backup{
		ID:       "bk-1",
		OrgID:    "org-1",
		Code:     "bkp-20240101-090000-abcd1234",
		Name:     "nightly",
		Status:   backup.BackupStatusCompleted,
		FileSize: 2048,
	}
}

func TestWebhookDelivery(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := testNotifier(t, &backup.BackupSettings{
		OrgID:           "org-1",
		NotifyOnSuccess: true,
		WebhookURL:      server.URL,
	})

	n.BackupCompleted(context.Background(), completedBackup())

	assert.Equal(t, "org-1", received.OrgID)
	assert.Equal(t, string(backup.ActionBackupCompleted), received.Kind)
	assert.Contains(t, received.Message, "nightly")
	assert.False(t, received.OccurredAt.IsZero())
}

func TestSuccessEventsGatedBySettings(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	n := testNotifier(t, &backup.BackupSettings{
		OrgID:           "org-1",
		NotifyOnSuccess: false,
		NotifyOnFailure: true,
		WebhookURL:      server.URL,
	})
	ctx := context.Background()

	n.BackupCompleted(ctx, completedBackup())
	assert.Equal(t, 0, calls)

	failed := completedBackup()
	failed.Status = backup.BackupStatusFailed
	failed.ErrorMessage = "disk full"
	n.BackupFailed(ctx, failed)
	assert.Equal(t, 1, calls)
}

func TestWebhookFailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := testNotifier(t, &backup.BackupSettings{
		OrgID:           "org-1",
		NotifyOnSuccess: true,
		WebhookURL:      server.URL,
	})

	// Must not panic or propagate anything.
	n.BackupCompleted(context.Background(), completedBackup())
}

func TestEmailDelivery(t *testing.T) {
	var sentTo []string
	var sentBody []byte

	n := testNotifier(t, &backup.BackupSettings{
		OrgID:              "org-1",
		NotifyOnFailure:    true,
		NotificationEmails: []string{"ops@example.com", "oncall@example.com"},
	})
	n.smtp = &SMTPConfig{Host: "mail.example.com", Port: 587, From: "backups@example.com"}
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "mail.example.com:587", addr)
		assert.Equal(t, "backups@example.com", from)
		sentTo = to
		sentBody = msg
		return nil
	}

	r := &backup.Restore{
		ID:           "rs-1",
		OrgID:        "org-1",
		Code:         "rst-20240101-100000-ef012345",
		Status:       backup.RestoreStatusFailed,
		ErrorMessage: "category deals failed",
	}
	n.RestoreFailed(context.Background(), r)

	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, sentTo)
	assert.Contains(t, string(sentBody), "Subject: Restore rst-20240101-100000-ef012345 failed")
	assert.Contains(t, string(sentBody), "category deals failed")
}

func TestNoChannelsConfiguredIsANoOp(t *testing.T) {
	n := testNotifier(t, &backup.BackupSettings{
		OrgID:           "org-1",
		NotifyOnSuccess: true,
		NotifyOnFailure: true,
	})
	n.BackupCompleted(context.Background(), completedBackup())
}
