// Package gcal mirrors events into a Google Calendar. The deployment links
// one Google account through the OAuth 2.0 code flow; the token is kept in
// the document store and refreshed tokens are written back.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"eventpro/internal/common"
	"eventpro/internal/docstore"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
)

const (
	// CollectionIntegrations holds linked third-party accounts.
	CollectionIntegrations = "integrations"
	tokenDoc               = "google_calendar"

	DefaultCalendarID = "primary"
	stateTTL          = 10 * time.Minute
)

var (
	ErrNotConfigured = errors.New("gcal: client id and secret are not configured")
	ErrBadState      = errors.New("gcal: unknown or expired authorization state")
)

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// CalendarID defaults to the account's primary calendar.
	CalendarID string
	Location   *time.Location

	// Endpoint overrides Google's OAuth endpoints.
	Endpoint *oauth2.Endpoint
	// APIEndpoint overrides the Calendar API base URL.
	APIEndpoint string
	// HTTPClient carries token and API requests; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Client links the Google account and pushes event changes to its calendar.
type Client struct {
	store       docstore.Store
	oauth       *oauth2.Config
	calendarID  string
	loc         *time.Location
	apiEndpoint string
	base        *http.Client
	now         func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
	svc    *calendar.Service
}

func New(store docstore.Store, opts Options) *Client {
	endpoint := google.Endpoint
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{calendar.CalendarEventsScope},
		},
		calendarID:  opts.CalendarID,
		loc:         opts.Location,
		apiEndpoint: opts.APIEndpoint,
		base:        opts.HTTPClient,
		now:         time.Now,
		states:      make(map[string]time.Time),
	}
}

func (c *Client) configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

func (c *Client) oauthContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
}

// AuthURL starts the consent flow. The returned URL carries a one-time
// state checked by Exchange.
func (c *Client) AuthURL() (string, error) {
	if !c.configured() {
		return "", ErrNotConfigured
	}
	state := uuid.NewString()
	now := c.now()

	c.mu.Lock()
	for s, exp := range c.states {
		if now.After(exp) {
			delete(c.states, s)
		}
	}
	c.states[state] = now.Add(stateTTL)
	c.mu.Unlock()

	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades the callback code for a token and stores it.
func (c *Client) Exchange(ctx context.Context, state, code string) error {
	c.mu.Lock()
	exp, ok := c.states[state]
	delete(c.states, state)
	c.mu.Unlock()
	if !ok || c.now().After(exp) {
		return ErrBadState
	}

	tok, err := c.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.base), code)
	if err != nil {
		return fmt.Errorf("gcal: exchange code: %w", err)
	}
	if err := c.saveToken(ctx, tok); err != nil {
		return err
	}

	c.mu.Lock()
	c.svc = nil
	c.mu.Unlock()
	appLog.Info("google calendar linked", "calendar", c.calendarID)
	return nil
}

// Connected reports whether a token is stored.
func (c *Client) Connected(ctx context.Context) bool {
	_, err := c.loadToken(ctx)
	return err == nil
}

// Disconnect forgets the stored token. Mirrored events are left in place.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.svc = nil
	c.mu.Unlock()
	if err := c.store.Delete(ctx, CollectionIntegrations, tokenDoc); err != nil {
		return fmt.Errorf("gcal: delete token: %w", err)
	}
	appLog.Info("google calendar unlinked")
	return nil
}

// Create inserts ev and returns the Google event id, or "" when no account
// is linked.
func (c *Client) Create(ctx context.Context, ev model.Event) (string, error) {
	svc, err := c.service(ctx)
	if err != nil || svc == nil {
		return "", err
	}
	created, err := svc.Events.Insert(c.calendarID, c.toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gcal: insert %s: %w", ev.ID, err)
	}
	appLog.Debug("google event created", "event", ev.ID, "google_id", created.Id)
	return created.Id, nil
}

func (c *Client) Update(ctx context.Context, ev model.Event) error {
	svc, err := c.service(ctx)
	if err != nil || svc == nil {
		return err
	}
	if _, err := svc.Events.Update(c.calendarID, ev.GoogleEventID, c.toGoogle(ev)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gcal: update %s: %w", ev.ID, err)
	}
	return nil
}

// Delete removes the Google event. An event already gone is not an error.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	svc, err := c.service(ctx)
	if err != nil || svc == nil {
		return err
	}
	err = svc.Events.Delete(c.calendarID, remoteID).Context(ctx).Do()
	if gone(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gcal: delete %s: %w", remoteID, err)
	}
	return nil
}

func gone(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone)
}

// service returns nil without error when no account is linked.
func (c *Client) service(ctx context.Context) (*calendar.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil {
		return c.svc, nil
	}
	tok, err := c.loadToken(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	src := oauth2.ReuseTokenSource(tok, &savingSource{
		client: c,
		src:    c.oauth.TokenSource(c.oauthContext(), tok),
		last:   tok.AccessToken,
	})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(c.oauthContext(), src))}
	if c.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.apiEndpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: calendar client: %w", err)
	}
	c.svc = svc
	return svc, nil
}

func (c *Client) loadToken(ctx context.Context) (*oauth2.Token, error) {
	doc, err := c.store.Get(ctx, CollectionIntegrations, tokenDoc)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := doc.DataTo(&tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("gcal: stored token is empty: %w", common.ErrNotFound)
	}
	return &tok, nil
}

func (c *Client) saveToken(ctx context.Context, tok *oauth2.Token) error {
	data, err := docstore.Encode(tok)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, CollectionIntegrations, tokenDoc, data, true); err != nil {
		return fmt.Errorf("gcal: store token: %w", err)
	}
	return nil
}

// savingSource writes refreshed tokens back to the store.
type savingSource struct {
	client *Client
	src    oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if changed {
		if err := s.client.saveToken(context.Background(), tok); err != nil {
			appLog.Error("persist refreshed google token failed", err)
		}
	}
	return tok, nil
}

// toGoogle maps an event onto an all-day Google event; Google's end date
// is exclusive.
func (c *Client) toGoogle(ev model.Event) *calendar.Event {
	start := ev.StartDate.In(c.loc)
	end := ev.EndDate.In(c.loc)
	if end.Before(start) {
		end = start
	}
	tz := c.loc.String()
	return &calendar.Event{
		Summary:     ev.Name,
		Location:    ev.Location,
		Description: describe(ev),
		Start:       &calendar.EventDateTime{Date: start.Format(time.DateOnly), TimeZone: tz},
		End:         &calendar.EventDateTime{Date: end.AddDate(0, 0, 1).Format(time.DateOnly), TimeZone: tz},
	}
}

func describe(ev model.Event) string {
	var b strings.Builder
	if ev.Description != "" {
		b.WriteString(ev.Description)
		b.WriteString("\n\n")
	}
	if ev.ProductionCompany != "" {
		fmt.Fprintf(&b, "Productora: %s\n", ev.ProductionCompany)
	}
	if ev.Contact != "" {
		fmt.Fprintf(&b, "Contacto: %s\n", ev.Contact)
	}
	if len(ev.Technicians) > 0 {
		fmt.Fprintf(&b, "Técnicos: %s\n", strings.Join(ev.Technicians, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
