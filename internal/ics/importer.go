// Package ics imports events from external calendar subscriptions: feeds
// are fetched with a disk cache, parsed, expanded and turned into event
// drafts.
package ics

import (
	"context"
	"strings"
	"time"

	"eventpro/internal/events"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
)

// Fallbacks for fields external calendars usually lack.
const (
	defaultLocation = "Sin ubicación"
	defaultCompany  = "Calendario externo"
)

// Importer converts subscribed feeds into event drafts.
type Importer struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	horizon time.Duration
}

func NewImporter(fetcher *Fetcher, sources []Source, loc *time.Location, horizon time.Duration) *Importer {
	if loc == nil {
		loc = time.Local
	}
	if horizon <= 0 {
		horizon = 90 * 24 * time.Hour
	}
	return &Importer{fetcher: fetcher, sources: sources, loc: loc, horizon: horizon}
}

// Sources lists the configured subscriptions.
func (im *Importer) Sources() []Source { return im.sources }

// Drafts fetches every source and returns drafts for the occurrences
// starting in [now, now+horizon] whose ref is not in existing. Sources that
// fail are reported in the error slice; the rest are still imported.
func (im *Importer) Drafts(ctx context.Context, now time.Time, existing map[string]bool) ([]events.Draft, []error) {
	if len(im.sources) == 0 {
		return nil, nil
	}
	feeds, errs := im.fetcher.FetchAll(ctx, im.sources)

	w := Window{From: now, To: now.Add(im.horizon), Location: im.loc}
	var drafts []events.Draft
	seen := map[string]bool{}
	for _, feed := range feeds {
		entries, err := Parse(feed.Source, feed.Body, im.loc)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("ics parse failed", err, "id", feed.Source.ID)
			continue
		}
		occs, recurring, err := Expand(entries, w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, o := range occs {
			ref := o.Ref(recurring[o.UID])
			if existing[ref] || seen[ref] {
				continue
			}
			seen[ref] = true
			drafts = append(drafts, ToDraft(o, feed.Source, ref))
		}
	}
	appLog.Info("ics drafts ready", "drafts", len(drafts), "failed_sources", len(errs))
	return drafts, errs
}

// ToDraft maps an occurrence onto event input. The exclusive end of
// all-day occurrences becomes the inclusive last day.
func ToDraft(o Occurrence, src Source, ref string) events.Draft {
	end := o.End
	if o.AllDay && end.After(o.Start) {
		end = end.AddDate(0, 0, -1)
	}
	if end.Before(o.Start) {
		end = o.Start
	}

	name := strings.TrimSpace(o.Summary)
	if name == "" {
		name = "Evento"
	}
	location := strings.TrimSpace(o.Location)
	if location == "" {
		location = defaultLocation
	}
	company := src.Company
	if company == "" {
		company = defaultCompany
	}

	return events.Draft{
		Name:              name,
		Location:          location,
		StartDate:         events.FormatDate(o.Start),
		EndDate:           events.FormatDate(end),
		ProductionCompany: company,
		Description:       strings.TrimSpace(o.Description),
		ExternalRef:       &ref,
	}
}

// ExistingRefs collects the external refs of events already imported.
func ExistingRefs(evs []model.Event) map[string]bool {
	refs := map[string]bool{}
	for _, e := range evs {
		if e.ExternalRef != nil {
			refs[*e.ExternalRef] = true
		}
	}
	return refs
}
