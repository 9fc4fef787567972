package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

type memPersister struct {
	list    []Reminder
	loadErr error
	saveErr error
	saves   int
}

func (m *memPersister) LoadReminders(context.Context) ([]Reminder, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return cloneList(m.list), nil
}

func (m *memPersister) SaveReminders(_ context.Context, list []Reminder) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.list = cloneList(list)
	return nil
}

func daily(id, clock string) Reminder {
	r, err := NewDaily(id, clock, "text "+id)
	if err != nil {
		panic(err)
	}
	return r
}

func TestNextIDIgnoresNonNumericAndNeverReuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{list: []Reminder{daily("1", "09:00"), daily("7", "10:00"), daily("abc", "11:00")}}
	s := NewStore(p, logx.Nop())
	s.Load(ctx)

	id := s.NextID()
	require.Equal(t, "8", id)
	require.NoError(t, s.Append(ctx, daily(id, "12:00")))

	_, ok, err := s.Remove(ctx, "8")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9", s.NextID(), "deleted tail id must not be reissued")

	empty := NewStore(nil, logx.Nop())
	assert.Equal(t, "1", empty.NextID())
}

func TestLoadNeverFails(t *testing.T) {
	t.Parallel()
	s := NewStore(&memPersister{loadErr: errors.New("corrupt")}, logx.Nop())
	assert.Empty(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestPersistErrorKeepsMemoryAuthoritative(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{saveErr: errors.New("disk full")}
	s := NewStore(p, logx.Nop())

	err := s.Append(ctx, daily("1", "09:00"))
	require.Error(t, err)
	assert.True(t, IsPersistError(err))
	_, ok := s.Get("1")
	assert.True(t, ok)

	p.saveErr = nil
	require.NoError(t, s.Append(ctx, daily("2", "10:00")))
	assert.Len(t, p.list, 2, "next successful write reconciles")
}

func TestAppendDuplicateAndRemoveMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{}
	s := NewStore(p, logx.Nop())
	require.NoError(t, s.Append(ctx, daily("1", "09:00")))
	require.ErrorIs(t, s.Append(ctx, daily("1", "10:00")), ErrDuplicateID)

	saves := p.saves
	_, ok, err := s.Remove(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, saves, p.saves, "removing a missing id writes nothing")
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	conv := timeconv.Default()
	once, err := NewOnce("3", "2030-05-01 08:15", "<b>Launch</b>", conv)
	require.NoError(t, err)
	once.Provenance = Provenance{CreatedAt: "2030-04-01 10:00:00", Username: "ops", ChatID: -100123, ChatName: "Team"}
	weekly, err := NewWeekly("4", "пятница", "18:00", "Retro")
	require.NoError(t, err)

	data, err := EncodeList([]Reminder{once, weekly, daily("5", "07:05")})
	require.NoError(t, err)
	got, skipped, err := DecodeList(data, conv)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, got, 3)
	assert.Equal(t, once, got[0])
	assert.Equal(t, weekly, got[1])
	assert.Equal(t, Friday, got[1].Trigger.Weekday)
	assert.Equal(t, "friday", weekly.ToRecord().Day)
}

func TestDecodeListSkipsInvalidRecords(t *testing.T) {
	t.Parallel()
	data := []byte(`[
		{"id":"1","type":"daily","time":"09:00","text":"ok","chat_id":-1001},
		{"id":"2","type":"daily","time":"9am","text":"bad time"},
		{"id":"","type":"once","datetime":"2030-01-01 10:00","text":"no id"},
		{"id":"4","type":"weekly","day":"среда","time":"10:30","text":"legacy day"},
		{"id":"5","type":"monthly","text":"unknown kind"}
	]`)
	got, skipped, err := DecodeList(data, timeconv.Default())
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, got, 2)
	assert.Equal(t, int64(-1001), got[0].ChatID)
	assert.Equal(t, Wednesday, got[1].Trigger.Weekday)

	_, _, err = DecodeList([]byte("{not json"), timeconv.Default())
	assert.Error(t, err)
}

func TestNextFire(t *testing.T) {
	t.Parallel()
	conv := timeconv.Default()
	// Wednesday 2025-06-11 10:00 MSK
	now := time.Date(2025, 6, 11, 7, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		r    Reminder
		want time.Time
		ok   bool
	}{
		{name: "daily later today", r: daily("1", "12:00"), want: time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC), ok: true},
		{name: "daily tomorrow", r: daily("2", "09:00"), want: time.Date(2025, 6, 12, 6, 0, 0, 0, time.UTC), ok: true},
		{name: "daily exactly now rolls", r: daily("3", "10:00"), want: time.Date(2025, 6, 12, 7, 0, 0, 0, time.UTC), ok: true},
		{name: "weekly monday", r: mustWeekly("4", "monday", "09:00"), want: time.Date(2025, 6, 16, 6, 0, 0, 0, time.UTC), ok: true},
		{name: "weekly today earlier", r: mustWeekly("5", "wednesday", "08:00"), want: time.Date(2025, 6, 18, 5, 0, 0, 0, time.UTC), ok: true},
		{name: "weekly today later", r: mustWeekly("6", "wednesday", "11:00"), want: time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC), ok: true},
		{name: "once future", r: mustOnce("7", "2025-06-11 10:01", conv), want: time.Date(2025, 6, 11, 7, 1, 0, 0, time.UTC), ok: true},
		{name: "once past", r: mustOnce("8", "2025-06-11 09:59", conv), ok: false},
		{name: "once exactly now", r: mustOnce("9", "2025-06-11 10:00", conv), ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NextFire(tt.r, conv, now)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, got.Equal(tt.want), "NextFire = %v, want %v", got, tt.want)
			}
		})
	}

	up, ok := Soonest([]Reminder{daily("1", "12:00"), mustOnce("7", "2025-06-11 10:01", conv)}, conv, now)
	require.True(t, ok)
	assert.Equal(t, "7", up.Reminder.ID)
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Weekday{"Monday": Monday, "0": Monday, "6": Sunday, "воскресенье": Sunday, "fri": Friday, "Пн": Monday} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWeekday("someday")
	assert.ErrorIs(t, err, timeconv.ErrParse)
	_, err = ParseWeekday("7")
	assert.ErrorIs(t, err, timeconv.ErrParse)
	assert.Equal(t, time.Sunday, Sunday.Time())
	assert.Equal(t, Monday, FromTime(time.Monday))
}

func TestSubscribers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSubscribers(nil, logx.Nop())
	added, err := s.Add(ctx, 20)
	require.NoError(t, err)
	assert.True(t, added)
	added, _ = s.Add(ctx, 20)
	assert.False(t, added)
	_, _ = s.Add(ctx, 10)
	assert.Equal(t, []int64{10, 20}, s.Snapshot())

	add, rem := SetDiff([]int64{1, 2, 3}, []int64{2, 3, 4})
	assert.Equal(t, []int64{4}, add)
	assert.Equal(t, []int64{1}, rem)
}

func mustWeekly(id, day, clock string) Reminder {
	r, err := NewWeekly(id, day, clock, "text "+id)
	if err != nil {
		panic(err)
	}
	return r
}

func mustOnce(id, dt string, conv *timeconv.Converter) Reminder {
	r, err := NewOnce(id, dt, "text "+id, conv)
	if err != nil {
		panic(err)
	}
	return r
}

func TestAddMissingKeepsExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := &memPersister{}
	s := NewStore(p, logx.Nop())
	require.NoError(t, s.Save(ctx, []Reminder{daily("1", "09:00"), daily("2", "10:00")}))
	saves := p.saves

	remote := daily("2", "23:00")
	added, err := s.AddMissing(ctx, []Reminder{remote, daily("7", "11:00"), daily("7", "12:00")})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "7", added[0].ID)
	assert.Equal(t, saves+1, p.saves)

	got, _ := s.Get("2")
	assert.Equal(t, "10:00", got.Trigger.Clock(), "local record wins")
	assert.Equal(t, "8", s.NextID())

	added, err = s.AddMissing(ctx, []Reminder{daily("1", "09:00")})
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, saves+1, p.saves, "no write when nothing is new")
}

func TestMarkSentStampsCurrentRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(&memPersister{}, logx.Nop())
	require.NoError(t, s.Append(ctx, daily("1", "09:00")))
	replaced := daily("1", "18:00")
	replaced.Text = "new text"
	require.NoError(t, s.ReplaceAll(ctx, []Reminder{replaced}))

	got, ok, err := s.MarkSent(ctx, "1", "2030-01-01 09:00:00")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new text", got.Text)
	assert.Equal(t, "2030-01-01 09:00:00", got.LastSent)

	_, ok, err = s.MarkSent(ctx, "404", "x")
	assert.False(t, ok)
	assert.NoError(t, err)
}
