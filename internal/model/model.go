package model

import (
	"slices"
	"time"
)

// Collection names in the document store.
const (
	CollectionUsers         = "users"
	CollectionEvents        = "events"
	CollectionTechnicians   = "technicians"
	CollectionNotifications = "notifications"
)

// View is the active top-level screen of a session.
type View string

const (
	ViewHome        View = "home"
	ViewCalendar    View = "calendar"
	ViewTechnicians View = "technicians"
	ViewMetrics     View = "metrics"
)

// Valid reports whether v is one of the known views.
func (v View) Valid() bool {
	switch v {
	case ViewHome, ViewCalendar, ViewTechnicians, ViewMetrics:
		return true
	}
	return false
}

// EventStatus is derived from "now" and the event's inclusive date range.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusOngoing   EventStatus = "ongoing"
	StatusCompleted EventStatus = "completed"
)

var statusColors = map[EventStatus]string{
	StatusUpcoming:  "#f59e0b",
	StatusOngoing:   "#22c55e",
	StatusCompleted: "#6b7280",
}

// Color is the calendar color for the status.
func (s EventStatus) Color() string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return "#3b82f6"
}

// User is the profile document stored under users/{uid}.
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public returns a copy of u without credential material.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

// Event is a scheduled production with an inclusive date range.
//
// Technicians holds display names, not IDs: renaming a technician fans out
// across every event that lists the old name.
type Event struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Location          string    `json:"location"`
	StartDate         time.Time `json:"startDate"`
	EndDate           time.Time `json:"endDate"`
	ProductionCompany string    `json:"productionCompany"`
	Contact           string    `json:"contact"`
	Description       string    `json:"description"`
	Technicians       []string  `json:"technicians"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ExternalRef       *string   `json:"externalRef,omitempty"`
	// GoogleEventID is the id of the mirrored Google Calendar event.
	GoogleEventID string `json:"googleEventId,omitempty"`
}

// Status derives the event status at now. The range covers the whole start
// day through the whole end day; both bounds are inclusive.
func (e Event) Status(now time.Time) EventStatus {
	start := StartOfDay(e.StartDate)
	end := EndOfDay(e.EndDate)

	switch {
	case now.Before(start):
		return StatusUpcoming
	case now.After(end):
		return StatusCompleted
	default:
		return StatusOngoing
	}
}

// HasTechnician reports whether name is assigned to the event.
func (e Event) HasTechnician(name string) bool {
	return slices.Contains(e.Technicians, name)
}

// Overlaps reports whether the event's day range intersects [from, to].
func (e Event) Overlaps(from, to time.Time) bool {
	return !StartOfDay(e.StartDate).After(to) && !EndOfDay(e.EndDate).Before(from)
}

// DurationDays is the number of calendar days covered, at least 1.
func (e Event) DurationDays() int {
	d := int(StartOfDay(e.EndDate).Sub(StartOfDay(e.StartDate)).Hours()/24) + 1
	if d < 1 {
		return 1
	}
	return d
}

// Clone returns a deep copy so callers can mutate slices safely.
func (e Event) Clone() Event {
	e.Technicians = slices.Clone(e.Technicians)
	if e.ExternalRef != nil {
		ref := *e.ExternalRef
		e.ExternalRef = &ref
	}
	return e
}

// Technician is a staff member assignable to events by display name.
type Technician struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReminderRecord is the persisted 48h/24h reminder schedule of one event,
// stored under notifications/{eventId}.
type ReminderRecord struct {
	EventID     string    `json:"eventId"`
	EventName   string    `json:"eventName"`
	EventDate   time.Time `json:"eventDate"`
	Reminder48h time.Time `json:"reminder48h"`
	Reminder24h time.Time `json:"reminder24h"`
	Sent48h     bool      `json:"sent48h"`
	Sent24h     bool      `json:"sent24h"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay is the last representable instant of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
