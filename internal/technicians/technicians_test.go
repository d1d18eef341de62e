package technicians

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	"eventpro/internal/model"
	"eventpro/internal/notify"
	"eventpro/internal/state"
)

type fakeEvents struct {
	stored  []model.Event
	calls   map[string][]string
	err     error
	loadErr error
}

// set stores events and mirrors them into the session, as a load would.
func (f *fakeEvents) set(st *state.Store, events []model.Event) {
	f.stored = events
	st.SetEvents(events)
}

func (f *fakeEvents) Load(_ context.Context, st *state.Store) ([]model.Event, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	st.SetEvents(f.stored)
	return st.Events(), nil
}

func (f *fakeEvents) ReplaceTechnicians(_ context.Context, id string, names []string) error {
	if f.err != nil {
		return f.err
	}
	if f.calls == nil {
		f.calls = map[string][]string{}
	}
	f.calls[id] = names
	return nil
}

func day(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

func setup(t *testing.T) (*Service, *state.Store, *fakeEvents) {
	t.Helper()
	evs := &fakeEvents{}
	svc := NewService(docstore.NewMemory(), evs, notify.PhoneValidator{})
	return svc, state.New(), evs
}

func mustCreate(t *testing.T, svc *Service, st *state.Store, name string) model.Technician {
	t.Helper()
	tech, err := svc.Create(context.Background(), st, Input{Name: name})
	require.NoError(t, err)
	return tech
}

func TestCreate_ValidationAndSort(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	mustCreate(t, svc, st, "Ólga")
	mustCreate(t, svc, st, "beto")
	mustCreate(t, svc, st, "Ana")

	names := []string{}
	for _, tech := range st.Technicians() {
		names = append(names, tech.Name)
	}
	assert.Equal(t, []string{"Ana", "beto", "Ólga"}, names)

	_, err := svc.Create(ctx, st, Input{Name: " ANA "})
	var ve *common.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"Ya existe un técnico con ese nombre"}, ve.Problems)

	_, err = svc.Create(ctx, st, Input{Name: "", Email: "nope", Phone: "12"})
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Problems, 3)
	assert.Equal(t, "El nombre del técnico es requerido", ve.Problems[0])
	assert.Equal(t, "El email no tiene un formato válido", ve.Problems[1])
}

func TestCreate_NormalizesPhone(t *testing.T) {
	svc, st, _ := setup(t)
	tech, err := svc.Create(context.Background(), st, Input{Name: "Ana", Phone: "11 2345 6789", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "541123456789", model.Deref(tech.Phone))
	assert.Nil(t, tech.Specialty)
}

func TestUpdate_RenameFansOutAcrossEvents(t *testing.T) {
	svc, st, evs := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	mustCreate(t, svc, st, "Beto")
	evs.set(st, []model.Event{
		{ID: "e1", Name: "Expo", StartDate: day(3, 1), EndDate: day(3, 2), Technicians: []string{"Carla", "Ana", "Beto"}},
		{ID: "e2", Name: "Gala", StartDate: day(4, 1), EndDate: day(4, 1), Technicians: []string{"Ana", "Ana María"}},
		{ID: "e3", Name: "Feria", StartDate: day(5, 1), EndDate: day(5, 1), Technicians: []string{"Beto"}},
	})

	newName := "Ana María"
	got, err := svc.Update(context.Background(), st, ana.ID, Patch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "Ana María", got.Name)

	e1, _ := st.GetEvent("e1")
	assert.Equal(t, []string{"Carla", "Ana María", "Beto"}, e1.Technicians)
	e2, _ := st.GetEvent("e2")
	assert.Equal(t, []string{"Ana María"}, e2.Technicians)
	e3, _ := st.GetEvent("e3")
	assert.Equal(t, []string{"Beto"}, e3.Technicians)

	assert.Len(t, evs.calls, 2)
	assert.NotContains(t, evs.calls, "e3")
}

func TestUpdate_KeepOwnNameAndClearField(t *testing.T) {
	svc, st, evs := setup(t)
	tech, err := svc.Create(context.Background(), st, Input{Name: "Ana", Specialty: "Sonido"})
	require.NoError(t, err)

	same := "ana"
	empty := ""
	got, err := svc.Update(context.Background(), st, tech.ID, Patch{Name: &same, Specialty: &empty})
	require.NoError(t, err, "case-only rename of self is allowed")
	assert.Nil(t, got.Specialty)
	assert.Empty(t, evs.calls)

	_, err = svc.Update(context.Background(), st, "ghost", Patch{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate_FanOutFailure(t *testing.T) {
	svc, st, evs := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	evs.set(st, []model.Event{{ID: "e1", Name: "Expo", Technicians: []string{"Ana"}}})
	evs.err = errors.New("down")

	newName := "Anita"
	_, err := svc.Update(context.Background(), st, ana.ID, Patch{Name: &newName})
	var oe *common.OpError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "Error al actualizar las referencias del técnico en los eventos", oe.Message)
}

func TestRename(t *testing.T) {
	assert.Equal(t, []string{"X", "B"}, Rename([]string{"A", "B"}, "A", "X"))
	assert.Equal(t, []string{"B", "X"}, Rename([]string{"B", "A", "X"}, "A", "X"))
	assert.Equal(t, []string{"X", "B"}, Rename([]string{"A", "B", "X"}, "A", "X"))
}

func TestDelete_BlockedWhileAssigned(t *testing.T) {
	svc, st, evs := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	evs.set(st, []model.Event{
		{ID: "e1", Name: "Expo", StartDate: day(3, 1), Technicians: []string{"Ana"}},
		{ID: "e2", Name: "Gala", StartDate: day(4, 1), Technicians: []string{"Ana"}},
	})

	_, err := svc.Delete(context.Background(), st, ana.ID)
	require.ErrorIs(t, err, common.ErrInUse)
	var iu *common.InUseError
	require.True(t, errors.As(err, &iu))
	assert.Equal(t, []string{"Expo", "Gala"}, iu.Blockers)
	assert.Len(t, st.Technicians(), 1)

	evs.set(st, nil)
	deleted, err := svc.Delete(context.Background(), st, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", deleted.Name)
	assert.Empty(t, st.Technicians())
}

func TestDelete_ChecksStoredEventsNotSessionSnapshot(t *testing.T) {
	svc, st, evs := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	st.SetEvents(nil)
	evs.stored = []model.Event{{ID: "e9", Name: "Gala", StartDate: day(4, 1), Technicians: []string{"Ana"}}}

	_, err := svc.Delete(context.Background(), st, ana.ID)
	require.ErrorIs(t, err, common.ErrInUse)
	assert.Len(t, st.Technicians(), 1)
	assert.Len(t, st.Events(), 1, "session is refreshed from the store")

	evs.loadErr = errors.New("down")
	evs.stored = nil
	_, err = svc.Delete(context.Background(), st, ana.ID)
	require.Error(t, err)
	assert.Len(t, st.Technicians(), 1)
}

func TestUpdate_RenameReachesEventsOutsideSession(t *testing.T) {
	svc, st, evs := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	st.SetEvents(nil)
	evs.stored = []model.Event{{ID: "e9", Name: "Gala", StartDate: day(4, 1), Technicians: []string{"Ana"}}}

	newName := "Anita"
	_, err := svc.Update(context.Background(), st, ana.ID, Patch{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, []string{"Anita"}, evs.calls["e9"])
	e9, ok := st.GetEvent("e9")
	require.True(t, ok)
	assert.Equal(t, []string{"Anita"}, e9.Technicians)
}

func TestQueries(t *testing.T) {
	svc, st, _ := setup(t)
	ana := mustCreate(t, svc, st, "Ana")
	mustCreate(t, svc, st, "Beto")
	mustCreate(t, svc, st, "Mariana")
	st.SetEvents([]model.Event{
		{ID: "e1", Name: "Expo", StartDate: day(3, 1), EndDate: day(3, 3), Technicians: []string{"Ana"}},
		{ID: "e2", Name: "Gala", StartDate: day(6, 1), EndDate: day(6, 1), Technicians: []string{"Ana", "Beto"}},
	})

	assert.Len(t, svc.Search(st, "ana"), 2)
	assert.Len(t, svc.Search(st, "  "), 3)

	free := svc.Available(st, day(3, 2), day(3, 2))
	require.Len(t, free, 2)
	assert.Equal(t, "Beto", free[0].Name)

	w, err := svc.Workload(st, ana.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, w.Count)
	w, err = svc.Workload(st, ana.ID, day(5, 1), day(7, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count)

	stats := svc.Stats(st, day(4, 1))
	require.Len(t, stats, 3)
	assert.Equal(t, "Ana", stats[0].Technician.Name)
	assert.Equal(t, 2, stats[0].TotalEvents)
	assert.Equal(t, 1, stats[0].CompletedEvents)
	assert.Equal(t, 1, stats[0].UpcomingEvents)
	assert.Equal(t, "Beto", stats[1].Technician.Name)
	assert.Equal(t, 0, stats[2].TotalEvents)
}

func TestBulkCreateAndDelete(t *testing.T) {
	svc, st, evs := setup(t)
	ctx := context.Background()

	created, err := svc.BulkCreate(ctx, st, []Input{{Name: "Ana"}, {Name: ""}, {Name: "ana"}, {Name: "Beto"}})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	evs.set(st, []model.Event{{ID: "e1", Name: "Expo", Technicians: []string{"Ana"}}})
	deleted, err := svc.BulkDelete(ctx, st, []string{created[0].ID, created[1].ID, "ghost"})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Beto", deleted[0].Name)
}

func TestExport(t *testing.T) {
	svc, st, _ := setup(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC) }
	_, err := svc.Create(context.Background(), st, Input{Name: "Ana", Specialty: "Luces"})
	require.NoError(t, err)

	b, ctype, err := svc.Export(st, "CSV")
	require.NoError(t, err)
	assert.Contains(t, ctype, "text/csv")
	rows, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Luces", rows[1][2])
	assert.Equal(t, "5/3/2026", rows[1][5])

	b, _, err = svc.Export(st, "json")
	require.NoError(t, err)
	assert.Contains(t, string(b), `"name": "Ana"`)

	_, _, err = svc.Export(st, "xml")
	var ve *common.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestImport(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	created, err := svc.Import(ctx, st, []byte(`[{"name":"Ana"},{"name":"Beto","email":"b@x.io"}]`))
	require.NoError(t, err)
	assert.Len(t, created, 2)

	created, err = svc.Import(ctx, st, []byte(` {"name":"Carla"}`))
	require.NoError(t, err)
	assert.Len(t, created, 1)

	_, err = svc.Import(ctx, st, []byte(`not json`))
	var ve *common.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestLoad_SortsAndCaches(t *testing.T) {
	store := docstore.NewMemory()
	ctx := context.Background()
	for _, n := range []string{"Zoe", "ana"} {
		_, err := store.Add(ctx, model.CollectionTechnicians, map[string]any{"name": n})
		require.NoError(t, err)
	}
	svc := NewService(store, &fakeEvents{}, notify.PhoneValidator{})
	st := state.New()

	techs, err := svc.Ensure(ctx, st)
	require.NoError(t, err)
	require.Len(t, techs, 2)
	assert.Equal(t, "ana", techs[0].Name)
	assert.NotEmpty(t, techs[0].ID)
}
