package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventpro/internal/model"
)

// Reminder leads of the feed alarms, matching the WhatsApp reminders.
var alarmLeads = []int{48, 24}

// FeedOptions names the published calendar.
type FeedOptions struct {
	Name     string
	Timezone string
	// Domain suffixes event IDs to build globally unique UIDs.
	Domain string
}

// Feed builds an ICS calendar with one all-day VEVENT per event. Each event
// carries display alarms 48h and 24h before it starts.
func Feed(evs []model.Event, opts FeedOptions, now time.Time) *ical.Calendar {
	if opts.Name == "" {
		opts.Name = "EventPro"
	}
	if opts.Domain == "" {
		opts.Domain = "eventpro"
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//EventPro//Eventos//ES")
	cal.SetName(opts.Name)
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}
	cal.SetRefreshInterval("PT1H")

	for _, ev := range evs {
		ve := cal.AddEvent(ev.ID + "@" + opts.Domain)
		ve.SetDtStampTime(now)
		if !ev.CreatedAt.IsZero() {
			ve.SetCreatedTime(ev.CreatedAt)
		}
		if !ev.UpdatedAt.IsZero() {
			ve.SetModifiedAt(ev.UpdatedAt)
		}
		ve.SetAllDayStartAt(ev.StartDate)
		ve.SetAllDayEndAt(ExclusiveEnd(ev.EndDate))
		ve.SetSummary(ev.Name)
		ve.SetLocation(ev.Location)
		ve.SetDescription(description(ev))

		status := ev.Status(now)
		ve.AddCategory(string(status))
		ve.SetColor(status.Color())

		for _, h := range alarmLeads {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dH", h))
			alarm.SetDescription(fmt.Sprintf("%s en %d horas", ev.Name, h))
		}
	}
	return cal
}

// WriteFeed serializes the feed of evs to w.
func WriteFeed(w io.Writer, evs []model.Event, opts FeedOptions, now time.Time) error {
	return Feed(evs, opts, now).SerializeTo(w)
}

func description(ev model.Event) string {
	var lines []string
	if ev.Description != "" {
		lines = append(lines, ev.Description)
	}
	if ev.ProductionCompany != "" {
		lines = append(lines, "Productora: "+ev.ProductionCompany)
	}
	if ev.Contact != "" {
		lines = append(lines, "Contacto: "+ev.Contact)
	}
	if len(ev.Technicians) > 0 {
		lines = append(lines, "Técnicos: "+strings.Join(ev.Technicians, ", "))
	}
	return strings.Join(lines, "\n")
}
