package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/syncer"
)

func TestListTextEscapes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "no reminders", listText(nil))

	r, err := reminder.NewDaily("3", "09:00", "<script>&")
	require.NoError(t, err)
	got := listText([]reminder.Reminder{r})
	assert.Contains(t, got, "<b>1 reminders</b>")
	assert.Contains(t, got, "<b>#3</b>")
	assert.Contains(t, got, "&lt;script&gt;&amp;")
}

func TestClearText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "removed 0 reminders.", clearText(ClearReport{}))
	assert.Equal(t,
		"removed 4 reminders. backup: 3 marked deleted, 1 already gone, 0 failed.",
		clearText(ClearReport{Removed: 4, Backup: syncer.BatchReport{Total: 4, Deleted: 3, NotFound: 1}}))
	assert.Contains(t,
		clearText(ClearReport{Removed: 2, BackupErr: errors.Join(syncer.ErrNotInitialized)}),
		"backup cleanup: backup is not configured")
}
