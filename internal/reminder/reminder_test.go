package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpro/internal/docstore"
	"eventpro/internal/model"
	"eventpro/internal/notify"
)

type sent struct {
	event model.Event
	hours int
}

type fakeSender struct {
	mu   sync.Mutex
	sent   []sent
	err    error
	result *notify.Result
}

func (f *fakeSender) Reminder(ctx context.Context, ev model.Event, hours int) (notify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{event: ev, hours: hours})
	if f.result != nil {
		return *f.result, f.err
	}
	return notify.Result{Success: 1, Total: 1}, f.err
}

func (f *fakeSender) count(hours int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.hours == hours {
			n++
		}
	}
	return n
}

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func newScheduler(sender Sender) (*Scheduler, docstore.Store) {
	store := docstore.NewMemory()
	s := NewScheduler(store, sender)
	s.now = func() time.Time { return now }
	return s, store
}

func TestScheduleReminders_ComputesFireTimes(t *testing.T) {
	s, _ := newScheduler(&fakeSender{})
	ev := model.Event{ID: "e1", Name: "Expo", StartDate: now.Add(72 * time.Hour)}

	require.NoError(t, s.ScheduleReminders(context.Background(), ev))

	rec, err := s.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, rec.Reminder48h.Equal(now.Add(24*time.Hour)))
	assert.True(t, rec.Reminder24h.Equal(now.Add(48*time.Hour)))
	assert.False(t, rec.Sent48h)
	assert.False(t, rec.Sent24h)
	assert.Equal(t, "Expo", rec.EventName)
}

func TestScheduleReminders_RequiresID(t *testing.T) {
	s, _ := newScheduler(&fakeSender{})
	assert.Error(t, s.ScheduleReminders(context.Background(), model.Event{}))
}

func TestCheck_Sends48hOnce(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newScheduler(sender)
	ctx := context.Background()

	// 48h reminder due an hour ago, 24h reminder still in the future.
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", Name: "Expo", StartDate: now.Add(47 * time.Hour)}))

	res, err := s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent48h)
	assert.Equal(t, 0, res.Sent24h)
	assert.Equal(t, 1, sender.count(48))

	rec, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, rec.Sent48h)
	assert.False(t, rec.Sent24h)

	res, err = s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent48h)
	assert.Equal(t, 1, sender.count(48))
}

func TestCheck_RevisitsRecordAfter48hSent(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newScheduler(sender)
	ctx := context.Background()
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now.Add(47 * time.Hour)}))

	_, err := s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)

	later := now.Add(24 * time.Hour)
	res, err := s.CheckAndSendReminders(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent24h)
	assert.Equal(t, 1, sender.count(24))
	assert.Equal(t, 1, sender.count(48))
}

func TestCheck_NothingDue(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newScheduler(sender)
	require.NoError(t, s.ScheduleReminders(context.Background(), model.Event{ID: "e1", StartDate: now.Add(30 * 24 * time.Hour)}))

	res, err := s.CheckAndSendReminders(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, CheckResult{Checked: 1}, res)
	assert.Empty(t, sender.sent)
}

func TestCheck_FailedSendIsNotRetried(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	s, _ := newScheduler(sender)
	ctx := context.Background()
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now.Add(47 * time.Hour)}))

	res, err := s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec, _ := s.Get(ctx, "e1")
	assert.True(t, rec.Sent48h, "flag stays set after a failed send")

	sender.err = nil
	_, err = s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sender.count(48))
}

func TestCheck_CountsRelayFailures(t *testing.T) {
	sender := &fakeSender{result: &notify.Result{Failed: 2, Total: 2}}
	s, _ := newScheduler(sender)
	ctx := context.Background()
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now.Add(47 * time.Hour)}))
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e2", StartDate: now.Add(20 * time.Hour)}))

	res, err := s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Sent48h)
	assert.Zero(t, res.Sent24h)
	assert.Equal(t, 4, res.FailedRecipients)

	sender.result = &notify.Result{Success: 1, Failed: 1, Total: 2}
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e3", StartDate: now.Add(47 * time.Hour)}))
	res, err = s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent48h)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.FailedRecipients)
}

func TestCheck_RescheduleRearms(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newScheduler(sender)
	ctx := context.Background()
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now.Add(47 * time.Hour)}))
	_, _ = s.CheckAndSendReminders(ctx, now)

	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now.Add(40 * time.Hour)}))
	_, err := s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sender.count(48))
}

func TestCheck_ConcurrentCheckersSendOnce(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newScheduler(sender)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: id, StartDate: now.Add(10 * time.Hour)}))
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CheckAndSendReminders(ctx, now)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, sender.count(48))
	assert.Equal(t, 3, sender.count(24))
}

func TestCheck_UsesStoredEventDetails(t *testing.T) {
	sender := &fakeSender{}
	s, store := newScheduler(sender)
	ctx := context.Background()
	ev := model.Event{ID: "e1", Name: "Expo", Location: "Rosario", StartDate: now.Add(20 * time.Hour)}
	data, err := docstore.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, model.CollectionEvents, "e1", data, false))
	require.NoError(t, s.ScheduleReminders(ctx, ev))

	_, err = s.CheckAndSendReminders(ctx, now)
	require.NoError(t, err)
	require.NotEmpty(t, sender.sent)
	assert.Equal(t, "Rosario", sender.sent[0].event.Location)
}

func TestCancelReminders(t *testing.T) {
	s, _ := newScheduler(&fakeSender{})
	ctx := context.Background()
	require.NoError(t, s.ScheduleReminders(ctx, model.Event{ID: "e1", StartDate: now}))
	require.NoError(t, s.CancelReminders(ctx, "e1"))
	_, err := s.Get(ctx, "e1")
	assert.Error(t, err)
}

func TestService_TriggerAndStatus(t *testing.T) {
	sender := &fakeSender{}
	sched, _ := newScheduler(sender)
	require.NoError(t, sched.ScheduleReminders(context.Background(), model.Event{ID: "e1", StartDate: now.Add(47 * time.Hour)}))

	svc, err := NewService(sched, "", time.UTC)
	require.NoError(t, err)
	assert.False(t, svc.Status().Running)
	assert.Equal(t, DefaultSchedule, svc.Status().Schedule)

	res, err := svc.TriggerCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent48h)

	st := svc.Status()
	require.NotNil(t, st.LastCheck)
	assert.True(t, st.LastCheck.Equal(now))
	assert.Equal(t, res, st.LastResult)
}

func TestService_StartStop(t *testing.T) {
	sched, _ := newScheduler(&fakeSender{})
	svc, err := NewService(sched, "*/5 * * * *", time.UTC)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	assert.Error(t, svc.Start(ctx))

	st := svc.Status()
	assert.True(t, st.Running)
	assert.NotNil(t, st.NextRun)

	svc.Stop()
	assert.False(t, svc.Status().Running)
	assert.NotPanics(t, svc.Stop)
}

func TestService_RestartSurvivesEarlierStop(t *testing.T) {
	sched, _ := newScheduler(&fakeSender{})
	svc, err := NewService(sched, "*/5 * * * *", time.UTC)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	svc.Stop()
	require.NoError(t, svc.Start(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, svc.Status().Running)

	cancel()
	assert.Eventually(t, func() bool { return !svc.Status().Running }, time.Second, 10*time.Millisecond)
}

func TestNewService_InvalidSchedule(t *testing.T) {
	sched, _ := newScheduler(&fakeSender{})
	_, err := NewService(sched, "every tuesday", time.UTC)
	assert.Error(t, err)
}
