package reminder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"remindbot/internal/timeconv"
)

// Record is the at-rest shape of a reminder. Every field is a string so old
// files written with numeric chat ids still decode.
type Record struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	DateTime string     `json:"datetime,omitempty"`
	Time     string     `json:"time,omitempty"`
	Day      string     `json:"day,omitempty"`
	Text     string     `json:"text"`
	Created  string     `json:"created_at,omitempty"`
	Username string     `json:"username,omitempty"`
	ChatID   flexString `json:"chat_id,omitempty"`
	ChatName string     `json:"chat_name,omitempty"`
	LastSent string     `json:"last_sent,omitempty"`
}

// flexString decodes a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ChatIDString returns the originating chat id as stored.
func (r Record) ChatIDString() string { return string(r.ChatID) }

// SetChatID sets the originating chat id from its stored text form.
func (r *Record) SetChatID(s string) { r.ChatID = flexString(s) }

// ToRecord flattens r into its at-rest shape.
func (r Reminder) ToRecord() Record {
	rec := Record{
		ID:       r.ID,
		Type:     string(r.Kind),
		Text:     r.Text,
		Created:  r.CreatedAt,
		Username: r.Username,
		ChatName: r.ChatName,
		LastSent: r.LastSent,
	}
	if r.ChatID != 0 {
		rec.ChatID = flexString(strconv.FormatInt(r.ChatID, 10))
	}
	switch r.Kind {
	case KindOnce:
		rec.DateTime = r.Trigger.DateTime
	case KindDaily:
		rec.Time = r.Trigger.Clock()
	case KindWeekly:
		rec.Time = r.Trigger.Clock()
		rec.Day = r.Trigger.Weekday.String()
	}
	return rec
}

// FromRecord rebuilds and validates a reminder from its at-rest shape.
func FromRecord(rec Record, conv *timeconv.Converter) (Reminder, error) {
	kind, err := ParseKind(rec.Type)
	if err != nil {
		return Reminder{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r := Reminder{
		ID:   strings.TrimSpace(rec.ID),
		Kind: kind,
		Text: rec.Text,
		Provenance: Provenance{
			CreatedAt: rec.Created,
			Username:  rec.Username,
			ChatName:  rec.ChatName,
			LastSent:  rec.LastSent,
		},
	}
	if s := strings.TrimSpace(string(rec.ChatID)); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			r.ChatID = id
		}
	}
	switch kind {
	case KindOnce:
		at, err := conv.ParseDateTime(rec.DateTime)
		if err != nil {
			return Reminder{}, fmt.Errorf("%w: reminder %s: %v", ErrInvalid, r.ID, err)
		}
		r.Trigger.DateTime = conv.FormatLocal(at)
	case KindDaily, KindWeekly:
		h, m, err := timeconv.ParseClock(rec.Time)
		if err != nil {
			return Reminder{}, fmt.Errorf("%w: reminder %s: %v", ErrInvalid, r.ID, err)
		}
		r.Trigger.Hour, r.Trigger.Minute = h, m
		if kind == KindWeekly {
			wd, err := ParseWeekday(rec.Day)
			if err != nil {
				return Reminder{}, fmt.Errorf("%w: reminder %s: %v", ErrInvalid, r.ID, err)
			}
			r.Trigger.Weekday = wd
		}
	}
	if err := r.Validate(conv); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// DecodeList parses a JSON array of records. Records that fail validation
// are skipped and counted; only a malformed document is an error.
func DecodeList(data []byte, conv *timeconv.Converter) (out []Reminder, skipped int, err error) {
	var raw []Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, err
	}
	out = make([]Reminder, 0, len(raw))
	for _, rec := range raw {
		r, err := FromRecord(rec, conv)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	return out, skipped, nil
}

// EncodeList renders reminders as an indented JSON array of records.
func EncodeList(list []Reminder) ([]byte, error) {
	recs := make([]Record, 0, len(list))
	for _, r := range list {
		recs = append(recs, r.ToRecord())
	}
	return json.MarshalIndent(recs, "", "  ")
}
