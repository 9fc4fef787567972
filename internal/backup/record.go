package backup

import (
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
)

// FromReminder renders r as an Active backup row.
func FromReminder(r reminder.Reminder) Record {
	rec := Record{
		ID:        r.ID,
		Text:      r.Text,
		Type:      string(r.Kind),
		ChatName:  r.ChatName,
		Status:    StatusActive,
		CreatedAt: r.CreatedAt,
		Username:  r.Username,
		LastSent:  r.LastSent,
	}
	if r.ChatID != 0 {
		rec.ChatID = strconv.FormatInt(r.ChatID, 10)
	}
	switch r.Kind {
	case reminder.KindOnce:
		rec.Time = r.Trigger.DateTime
	case reminder.KindDaily:
		rec.Time = r.Trigger.Clock()
	case reminder.KindWeekly:
		day := r.Trigger.Weekday.String()
		rec.Time = day + " " + r.Trigger.Clock()
		rec.DaysOfWeek = day
	}
	return rec
}

// ToReminder rebuilds a reminder from a backup row. It does not look at
// Status.
func ToReminder(rec Record, conv *timeconv.Converter) (reminder.Reminder, error) {
	id := strings.TrimSpace(rec.ID)
	kind, err := reminder.ParseKind(rec.Type)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("%w: row %s: %v", reminder.ErrInvalid, id, err)
	}

	var r reminder.Reminder
	when := strings.TrimSpace(rec.Time)
	switch kind {
	case reminder.KindOnce:
		r, err = reminder.NewOnce(id, when, rec.Text, conv)
	case reminder.KindDaily:
		r, err = reminder.NewDaily(id, when, rec.Text)
	case reminder.KindWeekly:
		day, clock := splitWeekly(when, rec.DaysOfWeek)
		r, err = reminder.NewWeekly(id, day, clock, rec.Text)
	}
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("%w: row %s: %v", reminder.ErrInvalid, id, err)
	}

	r.Provenance = reminder.Provenance{
		CreatedAt: rec.CreatedAt,
		Username:  rec.Username,
		ChatName:  rec.ChatName,
		LastSent:  rec.LastSent,
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(rec.ChatID), 10, 64); err == nil {
		r.ChatID = n
	}
	if err := r.Validate(conv); err != nil {
		return reminder.Reminder{}, err
	}
	return r, nil
}

// splitWeekly takes the weekday from days when present, otherwise from a
// "<weekday> HH:MM" time column. The clock is always the last field of t.
func splitWeekly(t, days string) (day, clock string) {
	fields := strings.Fields(t)
	if len(fields) > 0 {
		clock = fields[len(fields)-1]
	}
	day = strings.TrimSpace(days)
	if day == "" && len(fields) > 1 {
		day = fields[0]
	}
	return day, clock
}
