// Package reminder persists the 48h/24h reminder schedule of every event and
// sends the reminders that have come due.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/notify"
)

const (
	lead48h = 48 * time.Hour
	lead24h = 24 * time.Hour

	field48h = "sent48h"
	field24h = "sent24h"
)

// Sender delivers a reminder for an event. *notify.Notifier implements it.
type Sender interface {
	Reminder(ctx context.Context, ev model.Event, hours int) (notify.Result, error)
}

// CheckResult counts what one check did.
type CheckResult struct {
	Checked int `json:"checked"`
	Sent48h int `json:"sent48h"`
	Sent24h int `json:"sent24h"`
	Failed  int `json:"failed"`

	// FailedRecipients counts relay sends that failed across all reminders.
	FailedRecipients int `json:"failedRecipients"`
}

// Scheduler reads and writes ReminderRecords in the notifications
// collection.
type Scheduler struct {
	store  docstore.Store
	sender Sender
	now    func() time.Time
}

func NewScheduler(store docstore.Store, sender Sender) *Scheduler {
	return &Scheduler{store: store, sender: sender, now: time.Now}
}

// ScheduleReminders overwrites the record of ev with fresh fire times and
// both flags cleared.
func (s *Scheduler) ScheduleReminders(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		return errors.New("reminder: event has no id")
	}
	rec := model.ReminderRecord{
		EventID:     ev.ID,
		EventName:   ev.Name,
		EventDate:   ev.StartDate,
		Reminder48h: ev.StartDate.Add(-lead48h),
		Reminder24h: ev.StartDate.Add(-lead24h),
		CreatedAt:   s.now(),
	}
	data, err := docstore.Encode(rec)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, model.CollectionNotifications, ev.ID, data, false); err != nil {
		return fmt.Errorf("reminder: schedule %s: %w", ev.ID, err)
	}
	appLog.Debug("reminders scheduled", "event", ev.ID, "r48h", rec.Reminder48h, "r24h", rec.Reminder24h)
	return nil
}

// CancelReminders drops the record of a deleted event.
func (s *Scheduler) CancelReminders(ctx context.Context, eventID string) error {
	if err := s.store.Delete(ctx, model.CollectionNotifications, eventID); err != nil {
		return fmt.Errorf("reminder: cancel %s: %w", eventID, err)
	}
	return nil
}

// Get returns the stored record of an event.
func (s *Scheduler) Get(ctx context.Context, eventID string) (model.ReminderRecord, error) {
	doc, err := s.store.Get(ctx, model.CollectionNotifications, eventID)
	if err != nil {
		return model.ReminderRecord{}, err
	}
	var rec model.ReminderRecord
	if err := doc.DataTo(&rec); err != nil {
		return model.ReminderRecord{}, err
	}
	return rec, nil
}

// CheckAndSendReminders sends every reminder due at now. Each flag is
// claimed with a compare-and-set before its message is sent, so a reminder
// goes out at most once even with concurrent checkers. A failed send is
// not retried.
func (s *Scheduler) CheckAndSendReminders(ctx context.Context, now time.Time) (CheckResult, error) {
	var res CheckResult

	pending, err := s.pending(ctx)
	if err != nil {
		return res, err
	}

	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var rec model.ReminderRecord
		if err := doc.DataTo(&rec); err != nil {
			appLog.Error("reminder: bad record", err, "id", doc.ID)
			res.Failed++
			continue
		}
		if rec.EventID == "" {
			rec.EventID = doc.ID
		}
		res.Checked++

		if !rec.Sent48h && !now.Before(rec.Reminder48h) {
			s.fire(ctx, doc.ID, rec, field48h, 48, &res)
		}
		if !rec.Sent24h && !now.Before(rec.Reminder24h) {
			s.fire(ctx, doc.ID, rec, field24h, 24, &res)
		}
	}

	appLog.Info("reminder check finished",
		"checked", res.Checked,
		"sent48h", res.Sent48h,
		"sent24h", res.Sent24h,
		"failed", res.Failed,
	)
	return res, nil
}

// pending returns the records with at least one unsent flag, each once.
func (s *Scheduler) pending(ctx context.Context) ([]docstore.Document, error) {
	open48, err := s.store.Query(ctx, model.CollectionNotifications, field48h, false)
	if err != nil {
		return nil, fmt.Errorf("reminder: query %s: %w", field48h, err)
	}
	open24, err := s.store.Query(ctx, model.CollectionNotifications, field24h, false)
	if err != nil {
		return nil, fmt.Errorf("reminder: query %s: %w", field24h, err)
	}

	seen := make(map[string]bool, len(open48)+len(open24))
	out := make([]docstore.Document, 0, len(open48)+len(open24))
	for _, d := range append(open48, open24...) {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}

func (s *Scheduler) fire(ctx context.Context, id string, rec model.ReminderRecord, field string, hours int, res *CheckResult) {
	won, err := s.store.CompareAndSet(ctx, model.CollectionNotifications, id, field, false, true)
	if err != nil {
		appLog.Error("reminder: claim failed", err, "event", rec.EventID, "flag", field)
		res.Failed++
		return
	}
	if !won {
		appLog.Debug("reminder already claimed", "event", rec.EventID, "flag", field)
		return
	}

	ev := s.event(ctx, rec)
	out, err := s.sender.Reminder(ctx, ev, hours)
	if err != nil {
		appLog.Error("reminder: send failed", err, "event", rec.EventID, "hours", hours)
		res.Failed++
		return
	}
	res.FailedRecipients += out.Failed
	if out.Total > 0 && out.Success == 0 {
		appLog.Warn("reminder: no recipient reached", "event", rec.EventID, "hours", hours, "failed", out.Failed)
		res.Failed++
		return
	}

	if hours == 48 {
		res.Sent48h++
	} else {
		res.Sent24h++
	}
}

// event loads the full event for richer messages, falling back to what the
// record carries.
func (s *Scheduler) event(ctx context.Context, rec model.ReminderRecord) model.Event {
	fallback := model.Event{ID: rec.EventID, Name: rec.EventName, StartDate: rec.EventDate}

	doc, err := s.store.Get(ctx, model.CollectionEvents, rec.EventID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			appLog.Error("reminder: load event failed", err, "event", rec.EventID)
		}
		return fallback
	}
	var ev model.Event
	if err := doc.DataTo(&ev); err != nil {
		return fallback
	}
	ev.ID = doc.ID
	return ev
}
