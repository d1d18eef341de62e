package events

import (
	"slices"
	"strings"
	"time"

	"eventpro/internal/common"
	"eventpro/internal/model"
)

// Draft is the user input for a new event. Dates are strings so that
// malformed input can be reported as a validation problem.
type Draft struct {
	Name              string   `json:"name"`
	Location          string   `json:"location"`
	StartDate         string   `json:"startDate"`
	EndDate           string   `json:"endDate"`
	ProductionCompany string   `json:"productionCompany"`
	Contact           string   `json:"contact"`
	Description       string   `json:"description"`
	Technicians       []string `json:"technicians"`
	ExternalRef       *string  `json:"externalRef,omitempty"`
}

// Patch updates an event; nil fields are left unchanged.
type Patch struct {
	Name              *string   `json:"name"`
	Location          *string   `json:"location"`
	StartDate         *string   `json:"startDate"`
	EndDate           *string   `json:"endDate"`
	ProductionCompany *string   `json:"productionCompany"`
	Contact           *string   `json:"contact"`
	Description       *string   `json:"description"`
	Technicians       *[]string `json:"technicians"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate accepts an RFC 3339 timestamp, a local date-time or a plain
// date. Values without an offset are read in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t in the form ParseDate reads back losslessly.
func FormatDate(t time.Time) string {
	return t.Format(time.RFC3339)
}

// DraftOf turns an existing event back into editable input.
func DraftOf(ev model.Event) Draft {
	return Draft{
		Name:              ev.Name,
		Location:          ev.Location,
		StartDate:         FormatDate(ev.StartDate),
		EndDate:           FormatDate(ev.EndDate),
		ProductionCompany: ev.ProductionCompany,
		Contact:           ev.Contact,
		Description:       ev.Description,
		Technicians:       slices.Clone(ev.Technicians),
		ExternalRef:       ev.ExternalRef,
	}
}

// Apply overlays the non-nil fields of p onto d.
func (p Patch) Apply(d Draft) Draft {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&d.Name, p.Name)
	set(&d.Location, p.Location)
	set(&d.StartDate, p.StartDate)
	set(&d.EndDate, p.EndDate)
	set(&d.ProductionCompany, p.ProductionCompany)
	set(&d.Contact, p.Contact)
	set(&d.Description, p.Description)
	if p.Technicians != nil {
		d.Technicians = slices.Clone(*p.Technicians)
	}
	return d
}

// Validate checks d and converts it into an event (without ID or
// timestamps). Every problem is reported at once. When roster is non-nil,
// technician names must belong to it.
func Validate(d Draft, roster []model.Technician, loc *time.Location) (model.Event, error) {
	var problems []string

	name := strings.TrimSpace(d.Name)
	location := strings.TrimSpace(d.Location)
	company := strings.TrimSpace(d.ProductionCompany)

	if name == "" {
		problems = append(problems, "El nombre del evento es requerido")
	}
	if location == "" {
		problems = append(problems, "La ubicación es requerida")
	}

	start, okStart := ParseDate(d.StartDate, loc)
	end, okEnd := ParseDate(d.EndDate, loc)
	if !okStart {
		problems = append(problems, "La fecha de inicio no es válida")
	}
	if !okEnd {
		problems = append(problems, "La fecha de fin no es válida")
	}
	if okStart && okEnd && model.StartOfDay(end).Before(model.StartOfDay(start)) {
		problems = append(problems, "La fecha de fin no puede ser anterior a la fecha de inicio")
	}

	if company == "" {
		problems = append(problems, "La productora es requerida")
	}

	techs := normalizeNames(d.Technicians)
	if roster != nil {
		for _, n := range techs {
			if !slices.ContainsFunc(roster, func(t model.Technician) bool { return t.Name == n }) {
				problems = append(problems, "El técnico "+n+" no existe")
			}
		}
	}

	if err := common.NewValidationError(problems); err != nil {
		return model.Event{}, err
	}

	return model.Event{
		Name:              name,
		Location:          location,
		StartDate:         start,
		EndDate:           end,
		ProductionCompany: company,
		Contact:           strings.TrimSpace(d.Contact),
		Description:       strings.TrimSpace(d.Description),
		Technicians:       techs,
		ExternalRef:       d.ExternalRef,
	}, nil
}

// normalizeNames trims names and drops blanks and duplicates, keeping the
// first occurrence.
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}
