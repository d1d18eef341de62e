package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "eventpro/internal/log"
)

// Relay delivers one text message to one phone number.
type Relay interface {
	Send(ctx context.Context, phone, text string) error
}

// ErrRelayRejected is returned when the relay answered but did not confirm
// delivery.
var ErrRelayRejected = errors.New("relay rejected message")

// CallMeBot sends WhatsApp messages through the CallMeBot HTTP API:
// GET {BaseURL}?phone=..&text=..&apikey=..
type CallMeBot struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCallMeBot creates a relay client. timeout <= 0 uses 15s.
func NewCallMeBot(baseURL, apiKey string, timeout time.Duration) *CallMeBot {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CallMeBot{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send succeeds only on a 2xx response whose body contains "sent".
func (c *CallMeBot) Send(ctx context.Context, phone, text string) error {
	if c.baseURL == "" {
		return errors.New("callmebot base url is empty")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("callmebot base url: %w", err)
	}
	q := u.Query()
	q.Set("phone", phone)
	q.Set("text", text)
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callmebot request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("callmebot read: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !strings.Contains(string(body), "sent") {
		return fmt.Errorf("%w: status %d: %s", ErrRelayRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	appLog.Debug("callmebot message sent", "phone", maskPhone(phone))
	return nil
}

// LogRelay only logs what would be sent. It is used when sending is
// disabled.
type LogRelay struct{}

func (LogRelay) Send(ctx context.Context, phone, text string) error {
	appLog.Info("relay disabled; message not sent", "phone", maskPhone(phone), "chars", len([]rune(text)))
	return nil
}

// maskPhone keeps only the last four digits for logging.
func maskPhone(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
