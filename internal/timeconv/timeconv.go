// Package timeconv converts between the service's canonical local zone and UTC.
//
// The canonical zone is a fixed offset: there is no DST handling, and every
// reminder trigger is expressed as a wall clock in that zone.
package timeconv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateTimeLayout is the user-facing layout for one-off reminders.
	DateTimeLayout = "2006-01-02 15:04"
	// ClockLayout is the user-facing layout for recurring reminders.
	ClockLayout = "15:04"

	DefaultName   = "MSK"
	DefaultOffset = 3 * time.Hour
)

// ErrParse is matched by every malformed-input error from this package.
var ErrParse = errors.New("timeconv: parse error")

// ParseError describes malformed user-entered time input.
type ParseError struct {
	Input  string
	Layout string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid time %q (want %s): %v", e.Input, e.Layout, e.Err)
	}
	return fmt.Sprintf("invalid time %q (want %s)", e.Input, e.Layout)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Converter is stateless apart from its zone and clock source.
type Converter struct {
	loc *time.Location
	now func() time.Time
}

// New returns a converter for a fixed-offset zone. An empty name becomes
// DefaultName.
func New(name string, offset time.Duration) *Converter {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return &Converter{loc: time.FixedZone(name, int(offset/time.Second)), now: time.Now}
}

// Default is the MSK (UTC+3) converter.
func Default() *Converter { return New(DefaultName, DefaultOffset) }

// WithClock returns a copy using now as its clock. Tests use it.
func (c *Converter) WithClock(now func() time.Time) *Converter {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Converter) Location() *time.Location { return c.loc }

// ZoneName is the short zone label shown to users, e.g. "MSK".
func (c *Converter) ZoneName() string {
	name, _ := time.Unix(0, 0).In(c.loc).Zone()
	return name
}

// Now returns the current instant in the canonical zone.
func (c *Converter) Now() time.Time { return c.now().In(c.loc) }

// ToUTC treats the wall clock of local as canonical-zone time, ignoring
// whatever location local carries.
func (c *Converter) ToUTC(local time.Time) time.Time {
	y, mo, d := local.Date()
	h, mi, s := local.Clock()
	return time.Date(y, mo, d, h, mi, s, local.Nanosecond(), c.loc).UTC()
}

// ToLocal returns the canonical-zone wall clock for an instant.
func (c *Converter) ToLocal(utc time.Time) time.Time { return utc.In(c.loc) }

// ParseDateTime parses "YYYY-MM-DD HH:MM" as canonical local time and
// returns the UTC instant.
func (c *Converter) ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(DateTimeLayout, s, c.loc)
	if err != nil {
		return time.Time{}, &ParseError{Input: s, Layout: "YYYY-MM-DD HH:MM", Err: err}
	}
	return t.UTC(), nil
}

// FormatLocal renders an instant as "YYYY-MM-DD HH:MM" in the canonical zone.
func (c *Converter) FormatLocal(t time.Time) string { return t.In(c.loc).Format(DateTimeLayout) }

// ParseClock parses "HH:MM" (single-digit hours accepted).
func ParseClock(s string) (hour, minute int, err error) {
	raw := strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, 0, &ParseError{Input: raw, Layout: "HH:MM"}
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 || len(hh) > 2 {
		return 0, 0, &ParseError{Input: raw, Layout: "HH:MM", Err: errors.New("invalid hour")}
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, 0, &ParseError{Input: raw, Layout: "HH:MM", Err: errors.New("invalid minute")}
	}
	return hour, minute, nil
}

// FormatClock renders hour and minute as "HH:MM".
func FormatClock(hour, minute int) string { return fmt.Sprintf("%02d:%02d", hour, minute) }

// UTCClock is a time of day on the scheduler's UTC clock.
type UTCClock struct {
	Hour    int
	Minute  int
	Weekday time.Weekday
	// DayShift is -1, 0 or +1 depending on which UTC day the local clock lands on.
	DayShift int
}

// ClockToUTC converts a canonical local time of day to UTC. weekday is the
// local weekday; the returned weekday is rolled when the conversion crosses
// midnight.
func (c *Converter) ClockToUTC(hour, minute int, weekday time.Weekday) UTCClock {
	_, off := time.Unix(0, 0).In(c.loc).Zone()
	mins := hour*60 + minute - off/60
	shift := 0
	for mins < 0 {
		mins += 24 * 60
		shift--
	}
	for mins >= 24*60 {
		mins -= 24 * 60
		shift++
	}
	wd := (int(weekday) + shift%7 + 7) % 7
	return UTCClock{Hour: mins / 60, Minute: mins % 60, Weekday: time.Weekday(wd), DayShift: shift}
}

// ParseOffset parses "+03:00", "-0530", "+3" or a Go duration like "3h".
func ParseOffset(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return DefaultOffset, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	sign := time.Duration(1)
	body := raw
	switch {
	case strings.HasPrefix(body, "+"):
		body = body[1:]
	case strings.HasPrefix(body, "-"):
		sign = -1
		body = body[1:]
	}
	body = strings.ReplaceAll(body, ":", "")
	var h, m int
	var err error
	switch len(body) {
	case 1, 2:
		h, err = strconv.Atoi(body)
	case 4:
		h, err = strconv.Atoi(body[:2])
		if err == nil {
			m, err = strconv.Atoi(body[2:])
		}
	default:
		err = errors.New("bad length")
	}
	if err != nil || h > 14 || m > 59 {
		return 0, &ParseError{Input: raw, Layout: "+HH:MM"}
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}
