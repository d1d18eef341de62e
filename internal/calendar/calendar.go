// Package calendar adapts events to the month/week calendar widget and to an
// ICS subscription feed.
//
// The widget works with exclusive end dates while events store an inclusive
// last day. Items add one day on the way out; Drop and Resize remove it on
// the way back.
package calendar

import (
	"context"
	"time"

	"eventpro/internal/model"
	"eventpro/internal/state"
)

const dateLayout = "2006-01-02"

// Props carries the event fields the widget shows in tooltips and modals.
type Props struct {
	Location          string            `json:"location"`
	ProductionCompany string            `json:"productionCompany"`
	Contact           string            `json:"contact"`
	Description       string            `json:"description"`
	Technicians       []string          `json:"technicians"`
	Status            model.EventStatus `json:"status"`
}

// Item is one all-day widget entry. End is exclusive.
type Item struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
	AllDay          bool     `json:"allDay"`
	BackgroundColor string   `json:"backgroundColor"`
	BorderColor     string   `json:"borderColor"`
	TextColor       string   `json:"textColor"`
	ExtendedProps   Props    `json:"extendedProps"`
	ClassNames      []string `json:"classNames"`
}

// Items converts events to widget items, colored by their status at now.
func Items(evs []model.Event, now time.Time) []Item {
	out := make([]Item, 0, len(evs))
	for _, ev := range evs {
		status := ev.Status(now)
		color := status.Color()
		techs := ev.Technicians
		if techs == nil {
			techs = []string{}
		}
		out = append(out, Item{
			ID:              ev.ID,
			Title:           ev.Name,
			Start:           ev.StartDate.Format(dateLayout),
			End:             ExclusiveEnd(ev.EndDate).Format(dateLayout),
			AllDay:          true,
			BackgroundColor: color,
			BorderColor:     color,
			TextColor:       "#ffffff",
			ExtendedProps: Props{
				Location:          ev.Location,
				ProductionCompany: ev.ProductionCompany,
				Contact:           ev.Contact,
				Description:       ev.Description,
				Technicians:       techs,
				Status:            status,
			},
			ClassNames: []string{"event-" + string(status)},
		})
	}
	return out
}

// ExclusiveEnd is the day after the inclusive last day.
func ExclusiveEnd(last time.Time) time.Time {
	return model.StartOfDay(last).AddDate(0, 0, 1)
}

// InclusiveEnd converts a widget end back to the last day of the event. It
// never returns a day before start.
func InclusiveEnd(start, exclusive time.Time) time.Time {
	last := model.StartOfDay(exclusive).AddDate(0, 0, -1)
	if last.Before(model.StartOfDay(start)) {
		return model.StartOfDay(start)
	}
	return last
}

// Rescheduler is the subset of the event service the widget callbacks need.
type Rescheduler interface {
	Get(st *state.Store, id string) (model.Event, error)
	Reschedule(ctx context.Context, st *state.Store, id string, start, end time.Time) (model.Event, error)
}

// Adapter applies widget drag and resize callbacks to events.
type Adapter struct {
	events Rescheduler
}

func NewAdapter(events Rescheduler) *Adapter {
	return &Adapter{events: events}
}

// Drop moves an event to start. A nil end keeps the current duration;
// otherwise end is the exclusive widget end.
func (a *Adapter) Drop(ctx context.Context, st *state.Store, id string, start time.Time, end *time.Time) (model.Event, error) {
	ev, err := a.events.Get(st, id)
	if err != nil {
		return model.Event{}, err
	}
	start = model.StartOfDay(start)

	var last time.Time
	if end != nil {
		last = InclusiveEnd(start, *end)
	} else {
		last = start.AddDate(0, 0, ev.DurationDays()-1)
	}
	return a.events.Reschedule(ctx, st, id, start, last)
}

// Resize changes the end of an event, keeping its start.
func (a *Adapter) Resize(ctx context.Context, st *state.Store, id string, end time.Time) (model.Event, error) {
	ev, err := a.events.Get(st, id)
	if err != nil {
		return model.Event{}, err
	}
	return a.events.Reschedule(ctx, st, id, ev.StartDate, InclusiveEnd(ev.StartDate, end))
}
