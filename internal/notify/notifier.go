// Package notify composes event notifications and broadcasts them over a
// messaging relay to every user with a valid phone number.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"eventpro/internal/docstore"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
)

// Result summarizes one broadcast.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Notifier fans a message out to every user profile with a valid phone.
type Notifier struct {
	store     docstore.Store
	relay     Relay
	validator PhoneValidator
	loc       *time.Location
	parallel  int
}

// Options configures a Notifier.
type Options struct {
	CountryCode string
	Location    *time.Location
	// Parallel bounds concurrent relay calls; <= 0 means 4.
	Parallel int
}

func NewNotifier(store docstore.Store, relay Relay, opts Options) *Notifier {
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.Location == nil {
		opts.Location = LoadLocation("")
	}
	return &Notifier{
		store:     store,
		relay:     relay,
		validator: PhoneValidator{CountryCode: opts.CountryCode},
		loc:       opts.Location,
		parallel:  opts.Parallel,
	}
}

// Location is the timezone messages are rendered in.
func (n *Notifier) Location() *time.Location { return n.loc }

// Validator exposes the phone rules used for recipients.
func (n *Notifier) Validator() PhoneValidator { return n.validator }

// SendTo validates phone and sends one message. Invalid numbers are
// rejected without calling the relay.
func (n *Notifier) SendTo(ctx context.Context, phone, text string) error {
	normalized, err := n.validator.Validate(phone)
	if err != nil {
		return err
	}
	return n.relay.Send(ctx, normalized, text)
}

// Broadcast sends text to every user with a valid phone. Individual
// failures are counted, never returned.
func (n *Notifier) Broadcast(ctx context.Context, text string) Result {
	docs, err := n.store.List(ctx, model.CollectionUsers)
	if err != nil {
		appLog.Error("notify: list users failed", err)
		return Result{}
	}
	users, err := docstore.Decode(docs, func(u *model.User, id string) { u.UID = id })
	if err != nil {
		appLog.Error("notify: decode users failed", err)
		return Result{}
	}

	recipients := n.validator.Recipients(users)
	if len(recipients) == 0 {
		appLog.Info("notify: no users with valid phone numbers")
		return Result{}
	}

	var ok atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.parallel)
	for _, r := range recipients {
		g.Go(func() error {
			if err := n.relay.Send(gctx, r.Phone, text); err != nil {
				appLog.Error("notify: send failed", err, "uid", r.UID, "phone", maskPhone(r.Phone))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Success: int(ok.Load()),
		Total:   len(recipients),
	}
	res.Failed = res.Total - res.Success
	appLog.Info("notify: broadcast finished", "sent", res.Success, "failed", res.Failed)
	return res
}

func (n *Notifier) notify(ctx context.Context, kind Kind, ev model.Event) Result {
	msg, err := Compose(kind, ev, n.loc)
	if err != nil {
		appLog.Error("notify: compose failed", err, "kind", kind)
		return Result{}
	}
	appLog.Debug("notify: sending", "kind", kind, "event", ev.ID)
	return n.Broadcast(ctx, msg)
}

func (n *Notifier) EventCreated(ctx context.Context, ev model.Event) Result {
	return n.notify(ctx, KindEventCreated, ev)
}

func (n *Notifier) EventUpdated(ctx context.Context, ev model.Event) Result {
	return n.notify(ctx, KindEventUpdated, ev)
}

func (n *Notifier) EventDeleted(ctx context.Context, ev model.Event) Result {
	return n.notify(ctx, KindEventDeleted, ev)
}

// Reminder sends the 48h or 24h reminder for ev.
func (n *Notifier) Reminder(ctx context.Context, ev model.Event, hours int) (Result, error) {
	switch hours {
	case 48:
		return n.notify(ctx, KindReminder48h, ev), nil
	case 24:
		return n.notify(ctx, KindReminder24h, ev), nil
	default:
		return Result{}, fmt.Errorf("notify: no reminder template for %dh", hours)
	}
}
