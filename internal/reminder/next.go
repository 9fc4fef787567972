package reminder

import (
	"time"

	"remindbot/internal/timeconv"
)

// NextFire returns the first instant strictly after now at which r fires.
// A once reminder whose instant is not after now has no next fire.
func NextFire(r Reminder, conv *timeconv.Converter, now time.Time) (time.Time, bool) {
	switch r.Kind {
	case KindOnce:
		at, err := conv.ParseDateTime(r.Trigger.DateTime)
		if err != nil || !at.After(now) {
			return time.Time{}, false
		}
		return at, true
	case KindDaily:
		local := conv.ToLocal(now)
		cand := time.Date(local.Year(), local.Month(), local.Day(), r.Trigger.Hour, r.Trigger.Minute, 0, 0, conv.Location())
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 1)
		}
		return cand.UTC(), true
	case KindWeekly:
		local := conv.ToLocal(now)
		cand := time.Date(local.Year(), local.Month(), local.Day(), r.Trigger.Hour, r.Trigger.Minute, 0, 0, conv.Location())
		ahead := (int(r.Trigger.Weekday.Time()) - int(local.Weekday()) + 7) % 7
		cand = cand.AddDate(0, 0, ahead)
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 7)
		}
		return cand.UTC(), true
	}
	return time.Time{}, false
}

// Upcoming pairs a reminder with its next fire instant.
type Upcoming struct {
	Reminder Reminder
	At       time.Time
}

// Soonest returns the reminder that fires first after now. Ties keep list order.
func Soonest(list []Reminder, conv *timeconv.Converter, now time.Time) (Upcoming, bool) {
	var best Upcoming
	found := false
	for _, r := range list {
		at, ok := NextFire(r, conv, now)
		if !ok {
			continue
		}
		if !found || at.Before(best.At) {
			best = Upcoming{Reminder: r, At: at}
			found = true
		}
	}
	return best, found
}
