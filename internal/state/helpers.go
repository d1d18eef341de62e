package state

import (
	"slices"
	"time"

	"eventpro/internal/model"
)

// Stats is the derived summary shown on the home view.
type Stats struct {
	TotalEvents      int `json:"totalEvents"`
	TotalTechnicians int `json:"totalTechnicians"`
	UpcomingEvents   int `json:"upcomingEvents"`
	OngoingEvents    int `json:"ongoingEvents"`
	CompletedEvents  int `json:"completedEvents"`
}

func (s *Store) Events() []model.Event {
	evs, _ := s.Get(KeyEvents).([]model.Event)
	return evs
}

func (s *Store) Technicians() []model.Technician {
	ts, _ := s.Get(KeyTechnicians).([]model.Technician)
	return ts
}

func (s *Store) CurrentUser() *model.User {
	u, _ := s.Get(KeyCurrentUser).(*model.User)
	return u
}

func (s *Store) CurrentView() model.View {
	v, _ := s.Get(KeyCurrentView).(model.View)
	return v
}

func (s *Store) ActiveModal() string {
	m, _ := s.Get(KeyActiveModal).(string)
	return m
}

func (s *Store) IsLoading() bool {
	b, _ := s.Get(KeyIsLoading).(bool)
	return b
}

func (s *Store) IsRegistering() bool {
	b, _ := s.Get(KeyIsRegistering).(bool)
	return b
}

// SetEvents replaces the whole event list, sorted by start date.
func (s *Store) SetEvents(events []model.Event) {
	s.Set(KeyEvents, sortEvents(events))
}

func (s *Store) SetTechnicians(technicians []model.Technician) {
	out := slices.Clone(technicians)
	if out == nil {
		out = []model.Technician{}
	}
	s.Set(KeyTechnicians, out)
}

// UpdateEvents atomically replaces the event list with fn applied to a copy
// of it. The result is sorted by start date.
func (s *Store) UpdateEvents(fn func(events []model.Event) []model.Event) {
	s.update(KeyEvents, func(old any) (any, bool) {
		current, _ := old.([]model.Event)
		return sortEvents(fn(slices.Clone(current))), true
	})
}

// UpdateTechnicians atomically replaces the roster with fn applied to a copy
// of it.
func (s *Store) UpdateTechnicians(fn func(techs []model.Technician) []model.Technician) {
	s.update(KeyTechnicians, func(old any) (any, bool) {
		current, _ := old.([]model.Technician)
		out := fn(slices.Clone(current))
		if out == nil {
			out = []model.Technician{}
		}
		return out, true
	})
}

func (s *Store) AddEvent(ev model.Event) {
	s.UpdateEvents(func(events []model.Event) []model.Event {
		return append(events, ev)
	})
}

// UpdateEvent applies fn to a copy of the event with the given id. It
// reports false, without notifying, if no such event exists.
func (s *Store) UpdateEvent(id string, fn func(ev *model.Event)) bool {
	return s.update(KeyEvents, func(old any) (any, bool) {
		current, _ := old.([]model.Event)
		i := slices.IndexFunc(current, func(e model.Event) bool { return e.ID == id })
		if i < 0 {
			return nil, false
		}
		events := slices.Clone(current)
		updated := events[i].Clone()
		fn(&updated)
		events[i] = updated
		return sortEvents(events), true
	})
}

func (s *Store) RemoveEvent(id string) {
	s.UpdateEvents(func(events []model.Event) []model.Event {
		return slices.DeleteFunc(events, func(e model.Event) bool { return e.ID == id })
	})
}

func (s *Store) GetEvent(id string) (model.Event, bool) {
	for _, e := range s.Events() {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return model.Event{}, false
}

func (s *Store) AddTechnician(t model.Technician) {
	s.UpdateTechnicians(func(techs []model.Technician) []model.Technician {
		return append(techs, t)
	})
}

// UpdateTechnician applies fn to a copy of the technician with the given id.
func (s *Store) UpdateTechnician(id string, fn func(t *model.Technician)) bool {
	return s.update(KeyTechnicians, func(old any) (any, bool) {
		current, _ := old.([]model.Technician)
		i := slices.IndexFunc(current, func(t model.Technician) bool { return t.ID == id })
		if i < 0 {
			return nil, false
		}
		techs := slices.Clone(current)
		fn(&techs[i])
		return techs, true
	})
}

func (s *Store) RemoveTechnician(id string) {
	s.UpdateTechnicians(func(techs []model.Technician) []model.Technician {
		return slices.DeleteFunc(techs, func(t model.Technician) bool { return t.ID == id })
	})
}

func (s *Store) GetTechnician(id string) (model.Technician, bool) {
	for _, t := range s.Technicians() {
		if t.ID == id {
			return t, true
		}
	}
	return model.Technician{}, false
}

func (s *Store) SetCurrentUser(u *model.User) { s.Set(KeyCurrentUser, u) }
func (s *Store) ClearCurrentUser()            { s.Set(KeyCurrentUser, (*model.User)(nil)) }
func (s *Store) SetCurrentView(v model.View)  { s.Set(KeyCurrentView, v) }
func (s *Store) SetLoading(b bool)            { s.Set(KeyIsLoading, b) }
func (s *Store) SetRegistering(b bool)        { s.Set(KeyIsRegistering, b) }
func (s *Store) SetActiveModal(handle string) { s.Set(KeyActiveModal, handle) }
func (s *Store) ClearActiveModal()            { s.Set(KeyActiveModal, "") }

// EventsByStatus returns the events whose derived status at now is status.
func (s *Store) EventsByStatus(status model.EventStatus, now time.Time) []model.Event {
	var out []model.Event
	for _, e := range s.Events() {
		if e.Status(now) == status {
			out = append(out, e)
		}
	}
	return out
}

// EventsInRange returns the events overlapping [from, to].
func (s *Store) EventsInRange(from, to time.Time) []model.Event {
	var out []model.Event
	for _, e := range s.Events() {
		if e.Overlaps(from, to) {
			out = append(out, e)
		}
	}
	return out
}

// GetStats computes the summary counters at now.
func (s *Store) GetStats(now time.Time) Stats {
	events := s.Events()
	st := Stats{
		TotalEvents:      len(events),
		TotalTechnicians: len(s.Technicians()),
	}
	for _, e := range events {
		switch e.Status(now) {
		case model.StatusUpcoming:
			st.UpcomingEvents++
		case model.StatusOngoing:
			st.OngoingEvents++
		case model.StatusCompleted:
			st.CompletedEvents++
		}
	}
	return st
}
