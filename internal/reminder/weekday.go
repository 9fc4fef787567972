package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/timeconv"
)

// Weekday counts from Monday=0 to Sunday=6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// Russian names are what the legacy data files and backup sheets hold.
var weekdayNamesRU = [...]string{"понедельник", "вторник", "среда", "четверг", "пятница", "суббота", "воскресенье"}

var weekdayAliases = map[string]Weekday{
	"mon": Monday, "tue": Tuesday, "wed": Wednesday, "thu": Thursday, "fri": Friday, "sat": Saturday, "sun": Sunday,
	"пн": Monday, "вт": Tuesday, "ср": Wednesday, "чт": Thursday, "пт": Friday, "сб": Saturday, "вс": Sunday,
}

func (w Weekday) String() string {
	if w < Monday || w > Sunday {
		return "weekday(" + strconv.Itoa(int(w)) + ")"
	}
	return weekdayNames[w]
}

// Time converts to the stdlib weekday (Sunday=0).
func (w Weekday) Time() time.Weekday { return time.Weekday((int(w) + 1) % 7) }

// FromTime converts a stdlib weekday.
func FromTime(wd time.Weekday) Weekday { return Weekday((int(wd) + 6) % 7) }

// ParseWeekday accepts English or Russian names, common abbreviations and
// the digits 0..6 (Monday=0).
func ParseWeekday(s string) (Weekday, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(raw); err == nil {
		if n >= 0 && n <= 6 {
			return Weekday(n), nil
		}
		return 0, &timeconv.ParseError{Input: s, Layout: "weekday 0..6"}
	}
	for i, name := range weekdayNames {
		if raw == name {
			return Weekday(i), nil
		}
	}
	for i, name := range weekdayNamesRU {
		if raw == name {
			return Weekday(i), nil
		}
	}
	if w, ok := weekdayAliases[raw]; ok {
		return w, nil
	}
	return 0, &timeconv.ParseError{Input: s, Layout: "weekday name", Err: fmt.Errorf("unknown weekday")}
}
