package backup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
)

func TestFromReminderWeekly(t *testing.T) {
	t.Parallel()
	r, err := reminder.NewWeekly("4", "friday", "18:00", "Retro")
	require.NoError(t, err)
	r.ChatID = -1001
	r.Username = "ops"

	rec := FromReminder(r)
	assert.Equal(t, "friday 18:00", rec.Time)
	assert.Equal(t, "friday", rec.DaysOfWeek)
	assert.Equal(t, "weekly", rec.Type)
	assert.Equal(t, "-1001", rec.ChatID)
	assert.Equal(t, StatusActive, rec.Status)
}

func TestToReminderRoundTrip(t *testing.T) {
	t.Parallel()
	conv := timeconv.Default()
	once, err := reminder.NewOnce("1", "2030-05-01 08:30", "Launch", conv)
	require.NoError(t, err)
	daily, err := reminder.NewDaily("2", "09:00", "Standup")
	require.NoError(t, err)
	weekly, err := reminder.NewWeekly("3", "sunday", "23:59", "Backup")
	require.NoError(t, err)
	weekly.LastSent = "2030-04-28 23:59:00"

	for _, r := range []reminder.Reminder{once, daily, weekly} {
		got, err := ToReminder(FromReminder(r), conv)
		require.NoError(t, err, r.Describe())
		assert.Equal(t, r.Describe(), got.Describe())
		assert.Equal(t, r.Text, got.Text)
		assert.Equal(t, r.LastSent, got.LastSent)
	}
}

func TestToReminderWeekdaySources(t *testing.T) {
	t.Parallel()
	conv := timeconv.Default()
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"days column", Record{ID: "1", Text: "x", Type: "weekly", Time: "10:00", DaysOfWeek: "tuesday"}, "weekly tuesday 10:00"},
		{"combined time", Record{ID: "2", Text: "x", Type: "weekly", Time: "thursday 07:15"}, "weekly thursday 07:15"},
		{"days column wins", Record{ID: "3", Text: "x", Type: "Weekly", Time: "monday 07:15", DaysOfWeek: "friday"}, "weekly friday 07:15"},
	}
	for _, tt := range tests {
		got, err := ToReminder(tt.rec, conv)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got.Describe(), tt.name)
	}
}

func TestToReminderRejectsBadRows(t *testing.T) {
	t.Parallel()
	conv := timeconv.Default()
	for _, rec := range []Record{
		{ID: "1", Text: "x", Type: "hourly", Time: "10:00"},
		{ID: "2", Text: "x", Type: "daily", Time: "25:00"},
		{ID: "3", Text: "x", Type: "weekly", Time: "10:00"},
		{ID: "4", Text: "", Type: "daily", Time: "10:00"},
		{ID: "5", Text: "x", Type: "once", Time: "tomorrow"},
	} {
		_, err := ToReminder(rec, conv)
		assert.True(t, errors.Is(err, reminder.ErrInvalid), "row %s: %v", rec.ID, err)
	}
}
