// Package reminder defines the reminder model and the stores that own the
// authoritative local reminder table and subscriber set.
package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/timeconv"
)

type Kind string

const (
	KindOnce   Kind = "once"
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOnce, KindDaily, KindWeekly:
		return k, nil
	}
	return "", fmt.Errorf("unknown reminder type %q", s)
}

var (
	ErrPastTrigger = errors.New("reminder: once trigger is not in the future")
	ErrInvalid     = errors.New("reminder: invalid record")
	ErrNotFound    = errors.New("reminder: not found")
	ErrDuplicateID = errors.New("reminder: duplicate id")
)

// Trigger is the when-part of a reminder. Which fields are meaningful
// depends on the reminder's Kind:
//
//	once:   DateTime ("YYYY-MM-DD HH:MM", canonical local time)
//	daily:  Hour, Minute
//	weekly: Weekday, Hour, Minute
type Trigger struct {
	DateTime string
	Hour     int
	Minute   int
	Weekday  Weekday
}

// Clock renders the recurring time of day as "HH:MM".
func (t Trigger) Clock() string { return timeconv.FormatClock(t.Hour, t.Minute) }

// Provenance is informational metadata carried to the backup store.
type Provenance struct {
	CreatedAt string
	Username  string
	ChatID    int64
	ChatName  string
	LastSent  string
}

type Reminder struct {
	ID      string
	Kind    Kind
	Text    string
	Trigger Trigger
	Provenance
}

// NewOnce builds a one-off reminder from a "YYYY-MM-DD HH:MM" local string.
func NewOnce(id, datetime, text string, conv *timeconv.Converter) (Reminder, error) {
	at, err := conv.ParseDateTime(datetime)
	if err != nil {
		return Reminder{}, err
	}
	return Reminder{ID: id, Kind: KindOnce, Text: text, Trigger: Trigger{DateTime: conv.FormatLocal(at)}}, nil
}

// NewDaily builds a daily reminder from "HH:MM".
func NewDaily(id, clock, text string) (Reminder, error) {
	h, m, err := timeconv.ParseClock(clock)
	if err != nil {
		return Reminder{}, err
	}
	return Reminder{ID: id, Kind: KindDaily, Text: text, Trigger: Trigger{Hour: h, Minute: m}}, nil
}

// NewWeekly builds a weekly reminder from a weekday name (or 0..6) and "HH:MM".
func NewWeekly(id, day, clock, text string) (Reminder, error) {
	wd, err := ParseWeekday(day)
	if err != nil {
		return Reminder{}, err
	}
	h, m, err := timeconv.ParseClock(clock)
	if err != nil {
		return Reminder{}, err
	}
	return Reminder{ID: id, Kind: KindWeekly, Text: text, Trigger: Trigger{Weekday: wd, Hour: h, Minute: m}}, nil
}

// Validate checks the record shape. It does not check whether a once
// trigger is in the future; that depends on the clock.
func (r Reminder) Validate(conv *timeconv.Converter) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: reminder %s has empty text", ErrInvalid, r.ID)
	}
	switch r.Kind {
	case KindOnce:
		if _, err := conv.ParseDateTime(r.Trigger.DateTime); err != nil {
			return fmt.Errorf("%w: reminder %s: %v", ErrInvalid, r.ID, err)
		}
	case KindWeekly:
		if r.Trigger.Weekday < Monday || r.Trigger.Weekday > Sunday {
			return fmt.Errorf("%w: reminder %s: weekday %d out of range", ErrInvalid, r.ID, r.Trigger.Weekday)
		}
		fallthrough
	case KindDaily:
		if r.Trigger.Hour < 0 || r.Trigger.Hour > 23 || r.Trigger.Minute < 0 || r.Trigger.Minute > 59 {
			return fmt.Errorf("%w: reminder %s: time out of range", ErrInvalid, r.ID)
		}
	default:
		return fmt.Errorf("%w: reminder %s: unknown type %q", ErrInvalid, r.ID, r.Kind)
	}
	return nil
}

// Describe is a short human label for the trigger, e.g. "weekly monday 09:00".
func (r Reminder) Describe() string {
	switch r.Kind {
	case KindOnce:
		return "once " + r.Trigger.DateTime
	case KindDaily:
		return "daily " + r.Trigger.Clock()
	case KindWeekly:
		return "weekly " + r.Trigger.Weekday.String() + " " + r.Trigger.Clock()
	}
	return string(r.Kind)
}

// NumericID returns the id as an integer, or false for non-numeric ids.
func (r Reminder) NumericID() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(r.ID))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func cloneList(in []Reminder) []Reminder {
	if in == nil {
		return nil
	}
	return append([]Reminder(nil), in...)
}
