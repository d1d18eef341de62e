// Package events implements the event workflows: validate, persist, mirror
// into the session state, then notify and (re)schedule reminders.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/notify"
	"eventpro/internal/state"
)

// Notifier broadcasts event changes. *notify.Notifier implements it.
type Notifier interface {
	EventCreated(ctx context.Context, ev model.Event) notify.Result
	EventUpdated(ctx context.Context, ev model.Event) notify.Result
	EventDeleted(ctx context.Context, ev model.Event) notify.Result
}

// Reminders keeps reminder records in step with events.
// *reminder.Scheduler implements it.
type Reminders interface {
	ScheduleReminders(ctx context.Context, ev model.Event) error
	CancelReminders(ctx context.Context, eventID string) error
}

// CalendarSync mirrors events into an external calendar. *gcal.Client
// implements it. Create returns an empty id when no account is linked.
type CalendarSync interface {
	Create(ctx context.Context, ev model.Event) (string, error)
	Update(ctx context.Context, ev model.Event) error
	Delete(ctx context.Context, remoteID string) error
}

// Options tunes a Service.
type Options struct {
	Location *time.Location
	// AsyncNotify runs notifications and reminder scheduling in the
	// background; Wait blocks until they finish.
	AsyncNotify bool
	// Sync is optional.
	Sync CalendarSync
}

type Service struct {
	store     docstore.Store
	notifier  Notifier
	reminders Reminders
	cal       CalendarSync
	loc       *time.Location
	async     bool
	wg        sync.WaitGroup
	now       func() time.Time
}

func NewService(store docstore.Store, notifier Notifier, reminders Reminders, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		reminders: reminders,
		cal:       opts.Sync,
		loc:       opts.Location,
		async:     opts.AsyncNotify,
		now:       time.Now,
	}
}

// Location is the timezone used for date-only input.
func (s *Service) Location() *time.Location { return s.loc }

// Wait blocks until background side effects have finished.
func (s *Service) Wait() { s.wg.Wait() }

// List reads every stored event without touching any session.
func (s *Service) List(ctx context.Context) ([]model.Event, error) {
	docs, err := s.store.List(ctx, model.CollectionEvents)
	if err != nil {
		return nil, common.Op("Error al cargar los eventos", err)
	}
	return docstore.Decode(docs, func(e *model.Event, id string) { e.ID = id })
}

// Load replaces the session's events with the stored ones.
func (s *Service) Load(ctx context.Context, st *state.Store) ([]model.Event, error) {
	evs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	st.SetEvents(evs)
	appLog.Debug("events loaded", "count", len(evs))
	return st.Events(), nil
}

// Ensure loads events unless the session cache is still fresh.
func (s *Service) Ensure(ctx context.Context, st *state.Store) ([]model.Event, error) {
	if _, ok := st.Cached(state.KeyEvents, 0); ok {
		return st.Events(), nil
	}
	return s.Load(ctx, st)
}

// Create validates d against the session roster, stores the event and
// adds it to the session. Notification and reminder scheduling are best
// effort.
func (s *Service) Create(ctx context.Context, st *state.Store, d Draft) (model.Event, error) {
	ev, err := Validate(d, st.Technicians(), s.loc)
	if err != nil {
		return model.Event{}, err
	}

	ev, err = s.insert(ctx, ev)
	if err != nil {
		return model.Event{}, common.Op("Error al crear el evento", err)
	}
	st.AddEvent(ev)
	appLog.Info("event created", "id", ev.ID, "name", ev.Name)

	s.sideEffect(ctx, func(ctx context.Context) {
		s.notifier.EventCreated(ctx, ev)
		if err := s.reminders.ScheduleReminders(ctx, ev); err != nil {
			appLog.Error("schedule reminders failed", err, "event", ev.ID)
		}
		s.mirror(ctx, st, ev)
	})
	return ev, nil
}

// Import stores events coming from an external calendar. No broadcast is
// sent; reminders are scheduled.
func (s *Service) Import(ctx context.Context, st *state.Store, drafts []Draft) ([]model.Event, error) {
	out := make([]model.Event, 0, len(drafts))
	for _, d := range drafts {
		ev, err := Validate(d, nil, s.loc)
		if err != nil {
			return out, err
		}
		ev, err = s.insert(ctx, ev)
		if err != nil {
			return out, common.Op("Error al importar los eventos", err)
		}
		st.AddEvent(ev)
		out = append(out, ev)

		s.sideEffect(ctx, func(ctx context.Context) {
			if err := s.reminders.ScheduleReminders(ctx, ev); err != nil {
				appLog.Error("schedule reminders failed", err, "event", ev.ID)
			}
		})
	}
	if len(out) > 0 {
		appLog.Info("events imported", "count", len(out))
	}
	return out, nil
}

// Update applies p to the event with the given id. Reminders are re-armed
// when the start date changes.
func (s *Service) Update(ctx context.Context, st *state.Store, id string, p Patch) (model.Event, error) {
	current, ok := st.GetEvent(id)
	if !ok {
		return model.Event{}, fmt.Errorf("event %s: %w", id, common.ErrNotFound)
	}

	next, err := Validate(p.Apply(DraftOf(current)), st.Technicians(), s.loc)
	if err != nil {
		return model.Event{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.ExternalRef = current.ExternalRef
	next.GoogleEventID = current.GoogleEventID
	next.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, next); err != nil {
		return model.Event{}, common.Op("Error al actualizar el evento", err)
	}
	st.UpdateEvent(id, func(ev *model.Event) { *ev = next.Clone() })
	appLog.Info("event updated", "id", id)

	dateChanged := !next.StartDate.Equal(current.StartDate)
	s.sideEffect(ctx, func(ctx context.Context) {
		s.notifier.EventUpdated(ctx, next)
		if dateChanged {
			if err := s.reminders.ScheduleReminders(ctx, next); err != nil {
				appLog.Error("reschedule reminders failed", err, "event", id)
			}
		}
		s.mirror(ctx, st, next)
	})
	return next, nil
}

// Reschedule moves an event to [start, end] (end inclusive), as done by
// calendar drag and resize.
func (s *Service) Reschedule(ctx context.Context, st *state.Store, id string, start, end time.Time) (model.Event, error) {
	startStr, endStr := FormatDate(start), FormatDate(end)
	return s.Update(ctx, st, id, Patch{StartDate: &startStr, EndDate: &endStr})
}

// ReplaceTechnicians stores a new technician list for an event without
// validation or notification. It is used by the technician rename fan-out.
func (s *Service) ReplaceTechnicians(ctx context.Context, id string, names []string) error {
	fields := map[string]any{
		"technicians": names,
		"updatedAt":   s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, model.CollectionEvents, id, fields); err != nil {
		return common.Op("Error al actualizar el evento", err)
	}
	return nil
}

// Delete removes the event from the store and the session and cancels its
// reminders.
func (s *Service) Delete(ctx context.Context, st *state.Store, id string) error {
	ev, found := st.GetEvent(id)

	if err := s.store.Delete(ctx, model.CollectionEvents, id); err != nil {
		return common.Op("Error al eliminar el evento", err)
	}
	st.RemoveEvent(id)
	appLog.Info("event deleted", "id", id)

	s.sideEffect(ctx, func(ctx context.Context) {
		if err := s.reminders.CancelReminders(ctx, id); err != nil {
			appLog.Error("cancel reminders failed", err, "event", id)
		}
		if found {
			s.notifier.EventDeleted(ctx, ev)
		}
		if found && ev.GoogleEventID != "" && s.cal != nil {
			if err := s.cal.Delete(ctx, ev.GoogleEventID); err != nil {
				appLog.Warn("calendar sync delete failed", "event", id, "error", err.Error())
			}
		}
	})
	return nil
}

func (s *Service) Get(st *state.Store, id string) (model.Event, error) {
	ev, ok := st.GetEvent(id)
	if !ok {
		return model.Event{}, fmt.Errorf("event %s: %w", id, common.ErrNotFound)
	}
	return ev, nil
}

func (s *Service) ByStatus(st *state.Store, status model.EventStatus, now time.Time) []model.Event {
	return st.EventsByStatus(status, now)
}

func (s *Service) InRange(st *state.Store, from, to time.Time) []model.Event {
	return st.EventsInRange(from, to)
}

// mirror pushes ev to the external calendar. A new remote id is stored on
// the event and in the session.
func (s *Service) mirror(ctx context.Context, st *state.Store, ev model.Event) {
	if s.cal == nil {
		return
	}
	if ev.GoogleEventID != "" {
		if err := s.cal.Update(ctx, ev); err != nil {
			appLog.Warn("calendar sync update failed", "event", ev.ID, "error", err.Error())
		}
		return
	}
	remoteID, err := s.cal.Create(ctx, ev)
	if err != nil {
		appLog.Warn("calendar sync create failed", "event", ev.ID, "error", err.Error())
		return
	}
	if remoteID == "" {
		return
	}
	if err := s.store.Update(ctx, model.CollectionEvents, ev.ID, map[string]any{"googleEventId": remoteID}); err != nil {
		appLog.Error("store calendar sync id failed", err, "event", ev.ID)
		return
	}
	st.UpdateEvent(ev.ID, func(e *model.Event) { e.GoogleEventID = remoteID })
}

func (s *Service) insert(ctx context.Context, ev model.Event) (model.Event, error) {
	now := s.now().UTC()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	data, err := docstore.Encode(ev)
	if err != nil {
		return model.Event{}, err
	}
	delete(data, "id")
	id, err := s.store.Add(ctx, model.CollectionEvents, data)
	if err != nil {
		return model.Event{}, err
	}
	ev.ID = id
	return ev, nil
}

func (s *Service) save(ctx context.Context, ev model.Event) error {
	data, err := docstore.Encode(ev)
	if err != nil {
		return err
	}
	delete(data, "id")
	return s.store.Update(ctx, model.CollectionEvents, ev.ID, data)
}

// sideEffect runs fn inline, or in the background when async is set. Side
// effects never fail the calling operation.
func (s *Service) sideEffect(ctx context.Context, fn func(ctx context.Context)) {
	if !s.async {
		fn(ctx)
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}
