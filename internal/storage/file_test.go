package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

func openTestFile(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.json")}, timeconv.Default(), logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestFileStoreMissingAndBlank(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, dir := openTestFile(t)

	list, err := st.LoadReminders(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.reminders.json"), []byte("  \n"), 0o600))
	list, err = st.LoadReminders(ctx)
	require.NoError(t, err)
	assert.Nil(t, list)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.reminders.json"), []byte("[{"), 0o600))
	_, err = st.LoadReminders(ctx)
	assert.Error(t, err, "corrupt document is reported to the caller")

	rs := reminder.NewStore(st, logx.Nop())
	assert.Empty(t, rs.Load(ctx), "reminder store turns corruption into an empty table")
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, dir := openTestFile(t)

	r1, err := reminder.NewDaily("1", "09:00", "Standup")
	require.NoError(t, err)
	r2, err := reminder.NewWeekly("2", "sunday", "20:30", "<i>Plan week</i>")
	require.NoError(t, err)
	require.NoError(t, st.SaveReminders(ctx, []reminder.Reminder{r1, r2}))
	require.NoError(t, st.SaveSubscribers(ctx, []int64{-1001, 42}))

	got, err := st.LoadReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []reminder.Reminder{r1, r2}, got)

	ids, err := st.LoadSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001, 42}, ids)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files are renamed away")
	}
}

func TestFileStoreAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, dir := openTestFile(t)
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Kind: AuditSend, Action: "deliver", ReminderID: "1", ChatID: 5, Status: "success"}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Kind: AuditOp, Action: "create", ReminderID: "2", Actor: "ops"}))

	data, err := os.ReadFile(filepath.Join(dir, "bot.audit.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
	assert.Contains(t, string(data), `"kind":"send"`)

	require.NoError(t, st.Close())
	assert.Error(t, st.AppendAudit(ctx, AuditEntry{Kind: AuditOp, Action: "late"}))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, nil, logx.Nop())
	assert.Error(t, err)

	st, err := Open(Config{Driver: "none"}, nil, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
