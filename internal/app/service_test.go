package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/backup"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/syncer"
	"remindbot/internal/task/engine"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

type delivered struct {
	chatID int64
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []delivered
}

func (n *recordingNotifier) Deliver(_ context.Context, chatID int64, markup string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, delivered{chatID: chatID, text: markup})
	return nil
}

func (n *recordingNotifier) SendPlain(ctx context.Context, chatID int64, text string) error {
	return n.Deliver(ctx, chatID, text)
}

// 2030-01-01 10:00 MSK
var testNow = time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)

var alice = Actor{UserID: 1, Username: "alice", ChatID: 100, ChatName: "team"}

var testConv = timeconv.Default().WithClock(func() time.Time { return testNow })

func buildService(store storage.Store, bk backup.Store, n *recordingNotifier) *Service {
	driver := "none"
	if bk != nil {
		driver = "memory"
	}
	return NewService(Components{
		Conv:         testConv,
		Store:        store,
		Backup:       bk,
		Notifier:     n,
		BackupDriver: driver,
		Engine:       engine.Config{Enabled: true, Workers: 2, QueueSize: 32, DefaultTimeout: 5 * time.Second},
		Sync:         syncer.Config{Attempts: 1, BaseDelay: time.Millisecond, CallTimeout: time.Second},
		Log:          logx.Nop(),
	})
}

func newTestService(t *testing.T, bk backup.Store) (*Service, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	svc := buildService(storage.NewMemory(), bk, n)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = svc.Stop(sctx)
		cancel()
	})
	return svc, n
}

func TestDailyCreateArmAndFire(t *testing.T) {
	t.Parallel()
	svc, n := newTestService(t, nil)
	ctx := context.Background()

	added, err := svc.Subscribe(ctx, alice)
	require.NoError(t, err)
	assert.True(t, added)
	again, err := svc.Subscribe(ctx, alice)
	require.NoError(t, err)
	assert.False(t, again)

	r, err := svc.CreateDaily(ctx, alice, "09:00", "  Standup  ")
	require.NoError(t, err)
	assert.Equal(t, "Standup", r.Text)
	assert.Equal(t, "alice", r.Username)
	assert.Equal(t, int64(100), r.ChatID)

	_, armed := svc.sched.Armed(r.ID)
	assert.True(t, armed)

	require.NoError(t, svc.fire(ctx, r.ID))
	n.mu.Lock()
	require.Len(t, n.sent, 1)
	assert.Equal(t, int64(100), n.sent[0].chatID)
	assert.Contains(t, n.sent[0].text, "Standup")
	n.mu.Unlock()

	got, ok := svc.reminders.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, "2030-01-01 10:00:00", got.LastSent)

	st := svc.Status()
	assert.Equal(t, 1, st.Reminders)
	assert.Equal(t, 1, st.Subscribers)
	assert.Equal(t, 1, st.Timers)
	assert.Equal(t, "none", st.Backup)
	assert.False(t, st.BackupReady)
	require.True(t, st.HasNext)
	assert.Equal(t, r.ID, st.Next.Reminder.ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateOnce(ctx, alice, "2029-12-31 10:00", "late")
	assert.ErrorIs(t, err, reminder.ErrPastTrigger)
	assert.Equal(t, "that time has already passed", UserMessage(err))

	_, err = svc.CreateDaily(ctx, alice, "25:00", "x")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(UserMessage(err), "could not read"), UserMessage(err))

	_, err = svc.CreateWeekly(ctx, alice, "monday", "09:00", "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	assert.Empty(t, svc.List())
	assert.Zero(t, svc.TimerCount())
}

func TestDeleteCancelsTimer(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Delete(ctx, alice, "#42")
	assert.ErrorIs(t, err, reminder.ErrNotFound)
	assert.Equal(t, "no reminder with that id. see /list", UserMessage(err))

	once, err := svc.CreateOnce(ctx, alice, "2030-01-02 10:00", "Launch")
	require.NoError(t, err)
	weekly, err := svc.CreateWeekly(ctx, alice, "friday", "18:00", "Retro")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.TimerCount())

	removed, err := svc.Delete(ctx, alice, "#"+once.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch", removed.Text)
	assert.Equal(t, 1, svc.TimerCount())
	_, armed := svc.sched.Armed(weekly.ID)
	assert.True(t, armed)

	rep, err := svc.ClearAll(ctx, alice, func(ClearReport) { t.Error("no batch runs without a backup") })
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Removed)
	assert.False(t, rep.Queued)
	assert.ErrorIs(t, rep.BackupErr, syncer.ErrNotInitialized)
	assert.Empty(t, svc.List())
	assert.Zero(t, svc.TimerCount())
}

func TestStartRestoresFromBackup(t *testing.T) {
	t.Parallel()
	bk := backup.NewMemory()
	bk.Seed([]backup.Record{
		{ID: "5", Text: "Standup", Time: "09:00", Type: "daily", Status: backup.StatusActive},
		{ID: "6", Text: "Old", Time: "10:00", Type: "daily", Status: backup.StatusDeleted},
		{ID: "7", Text: "Retro", Time: "friday 18:00", Type: "weekly", Status: backup.StatusActive, DaysOfWeek: "friday"},
	}, []int64{100, 200})

	svc, _ := newTestService(t, bk)
	ctx := context.Background()

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, "5", list[0].ID)
	assert.Equal(t, "7", list[1].ID)
	assert.Equal(t, 2, svc.TimerCount())
	assert.Equal(t, 2, svc.Status().Subscribers)
	assert.True(t, svc.Status().BackupReady)

	// ids continue above the restored rows
	r, err := svc.CreateDaily(ctx, alice, "12:00", "Lunch")
	require.NoError(t, err)
	assert.Equal(t, "8", r.ID)
	require.Eventually(t, func() bool { return bk.Calls("upsert") >= 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{autoSyncJob}, svc.Status().Jobs)
	require.NoError(t, svc.ApplySync(syncer.Config{Attempts: 1}, "*/10 * * * *"))
	jobs := svc.sched.Snapshot().Jobs
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].Spec, "*/10")
	assert.Error(t, svc.ApplySync(syncer.Config{}, "every blue moon"))
}

func TestClearAllReturnsBeforeBackupBatch(t *testing.T) {
	t.Parallel()
	bk := backup.NewMemory()
	svc, _ := newTestService(t, bk)
	svc.sync.Apply(syncer.Config{
		Attempts:    1,
		BaseDelay:   time.Millisecond,
		CallTimeout: time.Second,
		BatchSize:   1,
		BatchPause:  300 * time.Millisecond,
		RecordPause: time.Millisecond,
		RecordStep:  time.Millisecond,
	})
	ctx := context.Background()
	for _, clock := range []string{"09:00", "10:00", "11:00"} {
		_, err := svc.CreateDaily(ctx, alice, clock, "r "+clock)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return bk.Calls("upsert") >= 3 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan ClearReport, 1)
	start := time.Now()
	rep, err := svc.ClearAll(ctx, alice, func(r ClearReport) { done <- r })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "batch pauses run on the job queue")
	assert.True(t, rep.Queued)
	assert.Equal(t, 3, rep.Removed)
	assert.Empty(t, svc.List())
	assert.Equal(t, "removed 3 reminders. backup cleanup queued; the result follows.", clearText(rep))

	select {
	case final := <-done:
		assert.NoError(t, final.BackupErr)
		assert.Equal(t, 3, final.Backup.Deleted)
		assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("clear batch never reported")
	}

	var actions []string
	for _, e := range svc.store.(*storage.Memory).Audit() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "clear_backup")
}

func TestRestoreReportsFromQueue(t *testing.T) {
	t.Parallel()
	bk := backup.NewMemory()
	svc, _ := newTestService(t, bk)
	bk.Seed([]backup.Record{
		{ID: "3", Text: "Standup", Time: "09:00", Type: "daily", Status: backup.StatusActive},
	}, nil)

	type result struct {
		rep syncer.RestoreReport
		err error
	}
	done := make(chan result, 1)
	err := svc.Restore(context.Background(), alice, func(rep syncer.RestoreReport, err error) {
		done <- result{rep, err}
	})
	require.NoError(t, err)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.True(t, got.rep.Replaced)
		assert.Equal(t, 1, got.rep.Rearm.Armed)
	case <-time.After(2 * time.Second):
		t.Fatal("restore never reported")
	}
	list := svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, "3", list[0].ID)

	local, _ := newTestService(t, nil)
	assert.ErrorIs(t, local.Restore(context.Background(), alice, nil), syncer.ErrNotInitialized)
}

func TestChatStatsFollowActivity(t *testing.T) {
	t.Parallel()
	bk := backup.NewMemory()
	svc, _ := newTestService(t, bk)
	ctx := context.Background()
	group := alice
	group.ChatType = "group"

	waitStat := func(reminders int) backup.ChatStat {
		t.Helper()
		var got backup.ChatStat
		require.Eventually(t, func() bool {
			rows, err := bk.FetchChatStats(ctx)
			if err != nil || len(rows) != 1 {
				return false
			}
			got = rows[0]
			return got.Reminders == reminders
		}, 2*time.Second, 10*time.Millisecond)
		return got
	}

	_, err := svc.Subscribe(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, backup.ChatStat{
		ChatID: 100, Name: "team", Type: "group", Reminders: 0,
		FirstSeen: "2030-01-01 10:00:00", LastActivity: "2030-01-01 10:00:00",
	}, waitStat(0))

	r, err := svc.CreateDaily(ctx, group, "09:00", "Standup")
	require.NoError(t, err)
	waitStat(1)
	_, err = svc.CreateDaily(ctx, group, "18:00", "Wrap up")
	require.NoError(t, err)
	waitStat(2)

	_, err = svc.Delete(ctx, alice, r.ID)
	require.NoError(t, err)
	got := waitStat(1)
	assert.Equal(t, "group", got.Type, "delete keeps the known chat type")

	_, err = svc.ClearAll(ctx, alice, nil)
	require.NoError(t, err)
	waitStat(0)
}

func TestFileStoreRoundTripKeepsNextFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.json")
	open := func() storage.Store {
		st, err := storage.Open(storage.Config{Driver: "file", Path: path}, testConv, logx.Nop())
		require.NoError(t, err)
		return st
	}
	stop := func(svc *Service) {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		require.NoError(t, svc.Stop(sctx))
	}

	first := buildService(open(), nil, &recordingNotifier{})
	require.NoError(t, first.Start(ctx))
	created := []reminder.Reminder{}
	for _, mk := range []func() (reminder.Reminder, error){
		func() (reminder.Reminder, error) { return first.CreateOnce(ctx, alice, "2030-01-02 08:30", "Flight") },
		func() (reminder.Reminder, error) { return first.CreateDaily(ctx, alice, "09:00", "Standup") },
		func() (reminder.Reminder, error) { return first.CreateWeekly(ctx, alice, "sunday", "01:30", "Backup") },
	} {
		r, err := mk()
		require.NoError(t, err)
		created = append(created, r)
	}
	stop(first)

	second := buildService(open(), nil, &recordingNotifier{})
	require.NoError(t, second.Start(ctx))
	defer stop(second)

	loaded := second.List()
	require.Len(t, loaded, len(created))
	for i, want := range created {
		got := loaded[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Text, got.Text)
		wantAt, ok := reminder.NextFire(want, testConv, testNow)
		require.True(t, ok)
		gotAt, ok := reminder.NextFire(got, testConv, testNow)
		require.True(t, ok)
		assert.True(t, wantAt.Equal(gotAt), "%s: %v != %v", want.Describe(), wantAt, gotAt)
	}
	assert.Equal(t, 3, second.TimerCount())
}

func TestUserMessage(t *testing.T) {
	t.Parallel()
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(syncer.ErrNotInitialized), "backup.driver")
	assert.Contains(t, UserMessage(&backup.RateLimitedError{RetryAfter: time.Second}), "rate limiting")
	assert.Equal(t, "timed out. try again", UserMessage(context.DeadlineExceeded))
	assert.Equal(t, "failed: boom", UserMessage(assertErr("boom")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
