// Package technicians manages the technician roster of a session and keeps
// the events that reference technicians by name consistent with it.
package technicians

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	"eventpro/internal/identity"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/notify"
	"eventpro/internal/state"
)

// EventWriter reloads a session's events from the store and persists the
// technician list of an event. *events.Service implements it.
type EventWriter interface {
	Load(ctx context.Context, st *state.Store) ([]model.Event, error)
	ReplaceTechnicians(ctx context.Context, eventID string, names []string) error
}

// Input is the user-supplied form of a technician.
type Input struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Patch updates a technician; nil fields are left unchanged.
type Patch struct {
	Name      *string `json:"name"`
	Specialty *string `json:"specialty"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
}

type Service struct {
	store  docstore.Store
	events EventWriter
	phones notify.PhoneValidator
	now    func() time.Time
}

func NewService(store docstore.Store, events EventWriter, phones notify.PhoneValidator) *Service {
	return &Service{store: store, events: events, phones: phones, now: time.Now}
}

// Load replaces the session roster with the stored one, sorted by name.
func (s *Service) Load(ctx context.Context, st *state.Store) ([]model.Technician, error) {
	docs, err := s.store.List(ctx, model.CollectionTechnicians)
	if err != nil {
		return nil, common.Op("Error al cargar los técnicos", err)
	}
	techs, err := docstore.Decode(docs, func(t *model.Technician, id string) { t.ID = id })
	if err != nil {
		return nil, common.Op("Error al cargar los técnicos", err)
	}
	st.SetTechnicians(SortByName(techs))
	appLog.Debug("technicians loaded", "count", len(techs))
	return st.Technicians(), nil
}

// Ensure loads the roster unless the session cache is still fresh.
func (s *Service) Ensure(ctx context.Context, st *state.Store) ([]model.Technician, error) {
	if _, ok := st.Cached(state.KeyTechnicians, 0); ok {
		return st.Technicians(), nil
	}
	return s.Load(ctx, st)
}

// Create validates in against the roster and stores a new technician.
func (s *Service) Create(ctx context.Context, st *state.Store, in Input) (model.Technician, error) {
	t, err := s.validate(in, "", st.Technicians())
	if err != nil {
		return model.Technician{}, err
	}

	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	data, err := docstore.Encode(t)
	if err != nil {
		return model.Technician{}, err
	}
	delete(data, "id")

	id, err := s.store.Add(ctx, model.CollectionTechnicians, data)
	if err != nil {
		return model.Technician{}, common.Op("Error al agregar el técnico", err)
	}
	t.ID = id

	st.UpdateTechnicians(func(techs []model.Technician) []model.Technician {
		return SortByName(append(techs, t))
	})
	appLog.Info("technician created", "id", id, "name", t.Name)
	return t, nil
}

// Update applies p. A rename is propagated to every event listing the old
// name.
func (s *Service) Update(ctx context.Context, st *state.Store, id string, p Patch) (model.Technician, error) {
	current, ok := st.GetTechnician(id)
	if !ok {
		return model.Technician{}, fmt.Errorf("technician %s: %w", id, common.ErrNotFound)
	}

	next, err := s.validate(p.apply(inputOf(current)), id, st.Technicians())
	if err != nil {
		return model.Technician{}, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now().UTC()

	data, err := docstore.Encode(next)
	if err != nil {
		return model.Technician{}, err
	}
	delete(data, "id")
	for _, k := range []string{"specialty", "phone", "email"} {
		if _, ok := data[k]; !ok {
			data[k] = nil
		}
	}
	if err := s.store.Update(ctx, model.CollectionTechnicians, id, data); err != nil {
		return model.Technician{}, common.Op("Error al actualizar el técnico", err)
	}
	st.UpdateTechnicians(func(techs []model.Technician) []model.Technician {
		for i := range techs {
			if techs[i].ID == id {
				techs[i] = next
			}
		}
		return SortByName(techs)
	})
	appLog.Info("technician updated", "id", id)

	if next.Name != current.Name {
		if err := s.renameInEvents(ctx, st, current.Name, next.Name); err != nil {
			return next, err
		}
	}
	return next, nil
}

// renameInEvents rewrites every stored event listing oldName. Events are
// reloaded first so that those created by other sessions are included.
func (s *Service) renameInEvents(ctx context.Context, st *state.Store, oldName, newName string) error {
	evs, err := s.events.Load(ctx, st)
	if err != nil {
		return common.Op("Error al actualizar las referencias del técnico en los eventos", err)
	}
	updated := 0
	for _, ev := range evs {
		if !ev.HasTechnician(oldName) {
			continue
		}
		names := Rename(ev.Technicians, oldName, newName)
		if err := s.events.ReplaceTechnicians(ctx, ev.ID, names); err != nil {
			return common.Op("Error al actualizar las referencias del técnico en los eventos", err)
		}
		st.UpdateEvent(ev.ID, func(e *model.Event) { e.Technicians = names })
		updated++
	}
	if updated > 0 {
		appLog.Info("technician renamed in events", "from", oldName, "to", newName, "events", updated)
	}
	return nil
}

// Rename replaces oldName with newName in names, keeping positions. When
// newName is already listed, the old entry is dropped instead.
func Rename(names []string, oldName, newName string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == oldName {
			n = newName
		}
		if slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Delete removes a technician. It fails with a *common.InUseError naming
// the blocking events while any event still lists the technician.
func (s *Service) Delete(ctx context.Context, st *state.Store, id string) (model.Technician, error) {
	t, ok := st.GetTechnician(id)
	if !ok {
		return model.Technician{}, fmt.Errorf("technician %s: %w", id, common.ErrNotFound)
	}

	// The guard runs against the stored events, not the session snapshot.
	evs, err := s.events.Load(ctx, st)
	if err != nil {
		return model.Technician{}, err
	}
	var blockers []string
	for _, ev := range evs {
		if ev.HasTechnician(t.Name) {
			blockers = append(blockers, ev.Name)
		}
	}
	if len(blockers) > 0 {
		return model.Technician{}, &common.InUseError{What: "el técnico", Blockers: blockers}
	}

	if err := s.store.Delete(ctx, model.CollectionTechnicians, id); err != nil {
		return model.Technician{}, common.Op("Error al eliminar el técnico", err)
	}
	st.RemoveTechnician(id)
	appLog.Info("technician deleted", "id", id, "name", t.Name)
	return t, nil
}

func (s *Service) Get(st *state.Store, id string) (model.Technician, error) {
	t, ok := st.GetTechnician(id)
	if !ok {
		return model.Technician{}, fmt.Errorf("technician %s: %w", id, common.ErrNotFound)
	}
	return t, nil
}

// Search filters the roster by a case-insensitive substring of the name.
// An empty query returns everyone.
func (s *Service) Search(st *state.Store, query string) []model.Technician {
	q := strings.ToLower(strings.TrimSpace(query))
	all := st.Technicians()
	if q == "" {
		return all
	}
	var out []model.Technician
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Name), q) {
			out = append(out, t)
		}
	}
	return out
}

// Available returns the technicians not assigned to any event overlapping
// [from, to].
func (s *Service) Available(st *state.Store, from, to time.Time) []model.Technician {
	busy := map[string]bool{}
	for _, ev := range st.EventsInRange(from, to) {
		for _, n := range ev.Technicians {
			busy[n] = true
		}
	}
	var out []model.Technician
	for _, t := range st.Technicians() {
		if !busy[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Workload lists the events of one technician.
type Workload struct {
	Technician model.Technician `json:"technician"`
	Events     []model.Event    `json:"events"`
	Count      int              `json:"count"`
}

// Workload returns the events assigned to technician id. When from and to
// are both non-zero only events overlapping [from, to] are counted.
func (s *Service) Workload(st *state.Store, id string, from, to time.Time) (Workload, error) {
	t, err := s.Get(st, id)
	if err != nil {
		return Workload{}, err
	}
	w := Workload{Technician: t, Events: []model.Event{}}
	ranged := !from.IsZero() && !to.IsZero()
	for _, ev := range st.Events() {
		if !ev.HasTechnician(t.Name) {
			continue
		}
		if ranged && !ev.Overlaps(from, to) {
			continue
		}
		w.Events = append(w.Events, ev)
	}
	w.Count = len(w.Events)
	return w, nil
}

// Stat counts the assignments of one technician by event status.
type Stat struct {
	Technician      model.Technician `json:"technician"`
	TotalEvents     int              `json:"totalEvents"`
	UpcomingEvents  int              `json:"upcomingEvents"`
	OngoingEvents   int              `json:"ongoingEvents"`
	CompletedEvents int              `json:"completedEvents"`
}

// Stats returns per-technician counters, busiest first.
func (s *Service) Stats(st *state.Store, now time.Time) []Stat {
	events := st.Events()
	out := make([]Stat, 0, len(st.Technicians()))
	for _, t := range st.Technicians() {
		stat := Stat{Technician: t}
		for _, ev := range events {
			if !ev.HasTechnician(t.Name) {
				continue
			}
			stat.TotalEvents++
			switch ev.Status(now) {
			case model.StatusUpcoming:
				stat.UpcomingEvents++
			case model.StatusOngoing:
				stat.OngoingEvents++
			case model.StatusCompleted:
				stat.CompletedEvents++
			}
		}
		out = append(out, stat)
	}
	slices.SortStableFunc(out, func(a, b Stat) int { return b.TotalEvents - a.TotalEvents })
	return out
}

// BulkCreate creates each input in turn. Inputs that fail validation are
// skipped; a store failure stops the batch.
func (s *Service) BulkCreate(ctx context.Context, st *state.Store, inputs []Input) ([]model.Technician, error) {
	created := make([]model.Technician, 0, len(inputs))
	for _, in := range inputs {
		t, err := s.Create(ctx, st, in)
		if err != nil {
			if isSkippable(err) {
				appLog.Warn("technician skipped", "name", in.Name, "error", err.Error())
				continue
			}
			return created, err
		}
		created = append(created, t)
	}
	appLog.Info("technicians created", "count", len(created), "requested", len(inputs))
	return created, nil
}

// BulkDelete deletes each id in turn. Technicians still assigned to events
// or already gone are skipped; a store failure stops the batch.
func (s *Service) BulkDelete(ctx context.Context, st *state.Store, ids []string) ([]model.Technician, error) {
	deleted := make([]model.Technician, 0, len(ids))
	for _, id := range ids {
		t, err := s.Delete(ctx, st, id)
		if err != nil {
			if isSkippable(err) {
				appLog.Warn("technician not deleted", "id", id, "error", err.Error())
				continue
			}
			return deleted, err
		}
		deleted = append(deleted, t)
	}
	appLog.Info("technicians deleted", "count", len(deleted), "requested", len(ids))
	return deleted, nil
}

func (s *Service) validate(in Input, selfID string, roster []model.Technician) (model.Technician, error) {
	var problems []string

	name := strings.TrimSpace(in.Name)
	if name == "" {
		problems = append(problems, "El nombre del técnico es requerido")
	} else if slices.ContainsFunc(roster, func(t model.Technician) bool {
		return t.ID != selfID && strings.EqualFold(t.Name, name)
	}) {
		problems = append(problems, "Ya existe un técnico con ese nombre")
	}

	email := strings.TrimSpace(in.Email)
	if email != "" && !identity.IsValidEmail(email) {
		problems = append(problems, "El email no tiene un formato válido")
	}

	phone := strings.TrimSpace(in.Phone)
	if phone != "" {
		normalized, err := s.phones.Validate(phone)
		if err != nil {
			problems = append(problems, err.Error())
		}
		phone = normalized
	}

	if err := common.NewValidationError(problems); err != nil {
		return model.Technician{}, err
	}
	return model.Technician{
		Name:      name,
		Specialty: model.StringPtr(strings.TrimSpace(in.Specialty)),
		Phone:     model.StringPtr(phone),
		Email:     model.StringPtr(email),
	}, nil
}

func inputOf(t model.Technician) Input {
	return Input{
		Name:      t.Name,
		Specialty: model.Deref(t.Specialty),
		Phone:     model.Deref(t.Phone),
		Email:     model.Deref(t.Email),
	}
}

func (p Patch) apply(in Input) Input {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&in.Name, p.Name)
	set(&in.Specialty, p.Specialty)
	set(&in.Phone, p.Phone)
	set(&in.Email, p.Email)
	return in
}

// SortByName orders technicians by name using Spanish collation, ignoring
// case and accents.
func SortByName(techs []model.Technician) []model.Technician {
	out := slices.Clone(techs)
	c := collate.New(language.Spanish, collate.Loose)
	slices.SortStableFunc(out, func(a, b model.Technician) int {
		return c.CompareString(a.Name, b.Name)
	})
	return out
}
