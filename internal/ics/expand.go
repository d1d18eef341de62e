package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventpro/internal/log"
)

const defaultMaxOccurrences = 5000

// Window bounds an expansion. Occurrences overlapping [From, To] are kept.
type Window struct {
	From time.Time
	To   time.Time
	// Location is the zone occurrences are converted to; nil means time.Local.
	Location *time.Location
	// MaxPerSeries caps the instances produced by one RRULE.
	MaxPerSeries int
}

// Occurrence is a concrete instance of an entry. End is exclusive.
type Occurrence struct {
	SourceID    string
	UID         string
	Summary     string
	Description string
	Location    string
	AllDay      bool
	Start       time.Time
	End         time.Time
}

// Ref identifies the occurrence across imports: the UID, plus the instance
// start for recurring series.
func (o Occurrence) Ref(recurring bool) string {
	if !recurring {
		return o.UID
	}
	return o.UID + "#" + o.Start.UTC().Format("20060102T150405Z")
}

// Expand turns entries into occurrences inside w, applying RRULE, EXDATE
// and RECURRENCE-ID overrides. The second result is the set of UIDs that
// are recurring series.
func Expand(entries []Entry, w Window) ([]Occurrence, map[string]bool, error) {
	if w.To.Before(w.From) {
		return nil, nil, errors.New("expand: window ends before it starts")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerSeries <= 0 {
		w.MaxPerSeries = defaultMaxOccurrences
	}

	bases := map[string][]Entry{}
	overrides := map[string][]Entry{}
	var uids []string
	for _, e := range entries {
		if e.IsOverride() {
			overrides[e.UID] = append(overrides[e.UID], e)
			continue
		}
		if _, seen := bases[e.UID]; !seen {
			uids = append(uids, e.UID)
		}
		bases[e.UID] = append(bases[e.UID], e)
	}

	var out []Occurrence
	recurring := map[string]bool{}
	for _, uid := range uids {
		for _, e := range bases[uid] {
			if e.RRule == "" {
				out = append(out, expandSingle(e, overrides[uid], w)...)
				continue
			}
			recurring[uid] = true
			occ, capped := expandSeries(e, overrides[uid], w)
			if capped {
				appLog.Warn("ics series truncated", "uid", uid, "cap", w.MaxPerSeries)
			}
			out = append(out, occ...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, recurring, nil
}

func expandSingle(e Entry, overrides []Entry, w Window) []Occurrence {
	if !overlaps(e.Start, e.End, w.From, w.To) {
		return nil
	}
	if o, ok := overrideFor(overrides, e.Start); ok {
		e = o
	}
	return []Occurrence{occurrence(e, e.Start, e.End, w.Location)}
}

func expandSeries(e Entry, overrides []Entry, w Window) ([]Occurrence, bool) {
	r, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		appLog.Error("ics rrule parse failed", err, "uid", e.UID, "rrule", e.RRule)
		return nil, false
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	loc := e.Start.Location()
	duration := e.End.Sub(e.Start)
	// Widen the lower bound so instances that started earlier but still
	// overlap the window are included.
	starts := set.Between(w.From.In(loc).Add(-duration), w.To.In(loc), true)

	capped := false
	if len(starts) > w.MaxPerSeries {
		starts = starts[:w.MaxPerSeries]
		capped = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if e.AllDay {
			start = inDay(start, loc)
			end = start.AddDate(0, 0, max(1, int(duration.Hours()/24)))
		}
		inst := e
		if o, ok := overrideFor(overrides, start); ok {
			inst = o
			start, end = o.Start, o.End
		}
		out = append(out, occurrence(inst, start, end, w.Location))
	}
	return out, capped
}

// overrideFor finds the override whose RECURRENCE-ID equals start.
func overrideFor(overrides []Entry, start time.Time) (Entry, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return Entry{}, false
}

func occurrence(e Entry, start, end time.Time, loc *time.Location) Occurrence {
	o := Occurrence{
		SourceID:    e.Source.ID,
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		AllDay:      e.AllDay,
		Start:       start.In(loc),
		End:         end.In(loc),
	}
	if e.AllDay {
		// Dates stay on the same calendar day regardless of zone.
		o.Start = inDay(start, loc)
		o.End = inDay(end, loc)
	}
	return o
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
