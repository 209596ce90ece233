package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backup-orchestrator/internal/backup"
)

func testRenderer() (*Renderer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	// Colors disabled so assertions see plain text.
	return NewRenderer(buf, NewColorSystem(DarkTheme(), false)), buf
}

func TestTableRendering(t *testing.T) {
	table := NewTable("CODE", "STATUS")
	table.width = 80
	table.AddRow("bkp-1", "completed")
	table.AddRow("bkp-2")

	buf := &bytes.Buffer{}
	table.Render(buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "CODE")
	assert.Contains(t, lines[1], "----")
	assert.Contains(t, lines[2], "completed")
}

func TestTableTruncation(t *testing.T) {
	table := NewTable("NAME")
	table.width = 12
	table.AddRow(strings.Repeat("x", 40))

	buf := &bytes.Buffer{}
	table.Render(buf)
	assert.Contains(t, buf.String(), "…")
}

func TestBackupTable(t *testing.T) {
	r, buf := testRenderer()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	r.BackupTable([]*backup.Backup{
		{
			Code:        "bkp-20240601-090000-abcd1234",
			Name:        "nightly",
			Kind:        backup.BackupKindScheduled,
			Status:      backup.BackupStatusCompleted,
			FileSize:    4096,
			StorageDisk: "local",
			CreatedAt:   now,
		},
	}, &backup.BackupStats{Total: 1, ThisMonth: 1, StorageUsed: 4096})

	out := buf.String()
	assert.Contains(t, out, "bkp-20240601-090000-abcd1234")
	assert.Contains(t, out, "4.0 KiB")
	assert.Contains(t, out, "1 backups, 1 this month")
}

func TestReconciliationTable(t *testing.T) {
	r, buf := testRenderer()

	r.ReconciliationTable(&backup.ReconciliationReport{
		Categories: map[string]*backup.CategoryReconciliation{
			"contacts": {
				Additions: []backup.Entity{{ID: "c-1"}},
				Identical: []string{"c-2"},
				Conflicts: []backup.ConflictRecord{{EntityID: "c-3"}},
			},
		},
		Preview: backup.ConflictPreview{Total: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "contacts")
	assert.Contains(t, out, "1 conflicting records require a resolution strategy")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(1536*1024))
	assert.Equal(t, "2.0 GiB", FormatBytes(2*1024*1024*1024))
}

func TestColorSystemDisabled(t *testing.T) {
	cs := NewColorSystem(DarkTheme(), false)
	assert.False(t, cs.IsColorSupported())
	assert.Equal(t, "completed", cs.Success("completed"))
}
