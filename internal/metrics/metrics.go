// Package metrics summarizes the events of a session over a trailing
// window: totals, average duration, busiest technicians, growth against
// the previous window, a per-day timeline and technician usage.
package metrics

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"eventpro/internal/common"
	"eventpro/internal/model"
)

// Range is a trailing window ending now.
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"
	Range1y  Range = "1y"
)

// DefaultRange is used when no range is requested.
const DefaultRange = Range7d

// unassigned is the placeholder some imported events carry instead of a
// technician.
const unassigned = "Sin asignar"

var rangeDays = map[Range]int{
	Range7d:  7,
	Range30d: 30,
	Range90d: 90,
	Range1y:  365,
}

// ParseRange accepts 7d, 30d, 90d or 1y; empty means DefaultRange.
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return DefaultRange, nil
	}
	if _, ok := rangeDays[r]; !ok {
		return "", common.NewValidationError([]string{"Rango no soportado: " + s})
	}
	return r, nil
}

// Window is the span the range covers when it ends at now.
func (r Range) Window(now time.Time) (from, to time.Time) {
	days, ok := rangeDays[r]
	if !ok {
		days = rangeDays[DefaultRange]
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), now
}

type Summary struct {
	Total                int      `json:"total"`
	AverageDuration      float64  `json:"averageDuration"`
	AverageDurationLabel string   `json:"averageDurationLabel"`
	TopTechnicians       []string `json:"topTechnicians"`
	TopCount             int      `json:"topCount"`
	TopLabel             string   `json:"topLabel"`
	PreviousTotal        int      `json:"previousTotal"`
	Growth               float64  `json:"growth"`
	GrowthLabel          string   `json:"growthLabel"`
}

// Point is the number of events starting on one day.
type Point struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Usage is the number of events a technician is assigned to.
type Usage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Report struct {
	Range    Range     `json:"range"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Summary  Summary   `json:"summary"`
	Timeline []Point   `json:"timeline"`
	Usage    []Usage   `json:"technicianUsage"`
}

// Compute builds the report for r ending at now.
func Compute(events []model.Event, r Range, now time.Time) Report {
	from, to := r.Window(now)
	current := inWindow(events, from, to, true)
	previous := inWindow(events, from.Add(-to.Sub(from)), from, false)

	usage := TechnicianUsage(current)
	top, topCount := topTechnicians(usage)

	avg := AverageDuration(current)
	growth, growthLabel := Growth(len(current), len(previous))

	return Report{
		Range: r,
		From:  from,
		To:    to,
		Summary: Summary{
			Total:                len(current),
			AverageDuration:      avg,
			AverageDurationLabel: durationLabel(avg, len(current)),
			TopTechnicians:       top,
			TopCount:             topCount,
			TopLabel:             topLabel(top, topCount),
			PreviousTotal:        len(previous),
			Growth:               growth,
			GrowthLabel:          growthLabel,
		},
		Timeline: Timeline(current),
		Usage:    usage,
	}
}

// inWindow keeps events starting in [from, to], or [from, to) when
// closed is false.
func inWindow(events []model.Event, from, to time.Time, closed bool) []model.Event {
	var out []model.Event
	for _, e := range events {
		if e.StartDate.IsZero() || e.StartDate.Before(from) {
			continue
		}
		if e.StartDate.After(to) || (!closed && e.StartDate.Equal(to)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AverageDuration is the mean of whole days between start and end, each
// event counting at least one day.
func AverageDuration(events []model.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	total := 0
	for _, e := range events {
		days := 1
		if !e.EndDate.IsZero() {
			d := int(math.Ceil(e.EndDate.Sub(e.StartDate).Hours() / 24))
			days = max(1, d)
		}
		total += days
	}
	return float64(total) / float64(len(events))
}

func durationLabel(avg float64, n int) string {
	switch {
	case n == 0:
		return "0 días"
	case avg == 1:
		return "1 día"
	}
	return fmt.Sprintf("%.1f días", avg)
}

// Growth compares two counts as a percentage. An empty previous window
// yields 100% when anything happened in the current one.
func Growth(current, previous int) (float64, string) {
	if previous == 0 {
		if current > 0 {
			return 100, "+100%"
		}
		return 0, "0%"
	}
	g := float64(current-previous) / float64(previous) * 100
	if g >= 0 {
		return g, fmt.Sprintf("+%.1f%%", g)
	}
	return g, fmt.Sprintf("%.1f%%", g)
}

// Timeline counts events per start day, oldest first.
func Timeline(events []model.Event) []Point {
	counts := map[string]int{}
	labels := map[string]string{}
	for _, e := range events {
		key := e.StartDate.Format(time.DateOnly)
		counts[key]++
		labels[key] = shortLabel(e.StartDate)
	}
	out := make([]Point, 0, len(counts))
	for d, c := range counts {
		out = append(out, Point{Date: d, Label: labels[d], Count: c})
	}
	slices.SortFunc(out, func(a, b Point) int { return strings.Compare(a.Date, b.Date) })
	return out
}

// TechnicianUsage counts assignments per technician name, busiest first.
func TechnicianUsage(events []model.Event) []Usage {
	counts := map[string]int{}
	for _, e := range events {
		for _, n := range e.Technicians {
			if n == "" || n == unassigned {
				continue
			}
			counts[n]++
		}
	}
	out := make([]Usage, 0, len(counts))
	for n, c := range counts {
		out = append(out, Usage{Name: n, Count: c})
	}
	slices.SortFunc(out, func(a, b Usage) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// topTechnicians returns every name tied for the highest count.
func topTechnicians(usage []Usage) ([]string, int) {
	if len(usage) == 0 {
		return []string{}, 0
	}
	best := usage[0].Count
	var names []string
	for _, u := range usage {
		if u.Count != best {
			break
		}
		names = append(names, u.Name)
	}
	return names, best
}

func topLabel(names []string, count int) string {
	switch len(names) {
	case 0:
		return "-"
	case 1:
		return fmt.Sprintf("%s (%d eventos)", names[0], count)
	}
	return fmt.Sprintf("%s (%d eventos c/u)", strings.Join(names, ", "), count)
}

var shortMonths = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"}

func shortLabel(t time.Time) string {
	return fmt.Sprintf("%d %s", t.Day(), shortMonths[t.Month()-1])
}
