package notify

import (
	"fmt"
	"strings"
	"time"

	"eventpro/internal/model"
)

// Kind selects a message template.
type Kind string

const (
	KindEventCreated Kind = "event_created"
	KindEventUpdated Kind = "event_updated"
	KindEventDeleted Kind = "event_deleted"
	KindReminder48h  Kind = "reminder_48h"
	KindReminder24h  Kind = "reminder_24h"
)

// DefaultTimezone is used to render dates when none is configured.
const DefaultTimezone = "America/Argentina/Buenos_Aires"

var templates = map[Kind]string{
	KindEventCreated: "🎉 *NUEVO EVENTO CREADO*\n\n*{eventName}*\n📍 Lugar: {location}\n🏢 Productora: {productora}\n📞 Contacto: {contacto}\n📅 Fecha: {date}\n\n¡Revisa los detalles en la aplicación!",
	KindEventUpdated: "✏️ *EVENTO ACTUALIZADO*\n\n*{eventName}*\n📍 Lugar: {location}\n🏢 Productora: {productora}\n📞 Contacto: {contacto}\n📅 Fecha: {date}\n\n¡Revisa los cambios en la aplicación!",
	KindEventDeleted: "🗑️ *EVENTO ELIMINADO*\n\n*{eventName}*\n📅 Fecha: {date}\n\nEl evento ha sido eliminado.",
	KindReminder48h:  "⏰ *RECORDATORIO - 48 HORAS*\n\n*{eventName}*\n📍 Lugar: {location}\n🏢 Productora: {productora}\n📞 Contacto: {contacto}\n📅 Fecha: {date}\n⏰ Hora: {time}\n\n¡El evento está a 48 horas!",
	KindReminder24h:  "🚨 *RECORDATORIO - 24 HORAS*\n\n*{eventName}*\n📍 Lugar: {location}\n🏢 Productora: {productora}\n📞 Contacto: {contacto}\n📅 Fecha: {date}\n⏰ Hora: {time}\n\n¡El evento es mañana!",
}

// Template returns the raw template for kind.
func Template(kind Kind) (string, bool) {
	t, ok := templates[kind]
	return t, ok
}

// Render substitutes every {key} of data into template in a single pass.
// Placeholders without a value are left as they are.
func Render(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Compose renders the template of kind for ev.
func Compose(kind Kind, ev model.Event, loc *time.Location) (string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("notify: unknown template %q", kind)
	}
	return Render(t, EventData(ev, loc)), nil
}

// EventData is the placeholder set of an event, with fallbacks for empty
// fields.
func EventData(ev model.Event, loc *time.Location) map[string]string {
	if loc == nil {
		loc = time.UTC
	}
	start := ev.StartDate.In(loc)
	return map[string]string{
		"eventName":  orDefault(ev.Name, "Evento"),
		"location":   orDefault(ev.Location, "No especificado"),
		"productora": orDefault(ev.ProductionCompany, "No especificada"),
		"contacto":   orDefault(ev.Contact, "No especificado"),
		"date":       FormatDate(start),
		"time":       start.Format("15:04"),
	}
}

var (
	weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	months   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatDate renders t as "lunes, 2 de marzo de 2026".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year())
}

// LoadLocation resolves name, falling back to DefaultTimezone and then UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
