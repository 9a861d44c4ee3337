package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Settings holds technical parameters for the event stream client.
type Settings struct {
	// DialTimeout bounds one websocket handshake.
	DialTimeout time.Duration
	// ReadTimeout is the longest silence tolerated on an open
	// connection; heartbeats extend it.
	ReadTimeout time.Duration
	// BackoffBase and BackoffMax shape the reconnect delay:
	// base doubled per failed attempt, capped at max, plus jitter.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts caps consecutive failed connection attempts before
	// the client gives up. Zero means retry forever. The counter
	// resets after any successful connect.
	MaxAttempts int
	// RefreshInterval is the proactive credential refresh period,
	// independent of 401-driven reactive refresh.
	RefreshInterval time.Duration
	// EventBuffer sizes the bounded channel between the read loop
	// and the dispatcher; a full buffer applies backpressure to the
	// connection rather than dropping events.
	EventBuffer int
	// TokenInQuery sends the bearer credential as a query parameter
	// instead of a header, for transports that cannot set headers.
	TokenInQuery bool
}

func DefaultSettings() *Settings {
	return &Settings{
		DialTimeout:     5 * time.Second,
		ReadTimeout:     60 * time.Second,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      30 * time.Second,
		MaxAttempts:     0,
		RefreshInterval: 10 * time.Minute,
		EventBuffer:     256,
	}
}

// Client maintains one persistent subscription to the store's change
// feed. It reconnects with exponential backoff, refreshes expired
// credentials, and publishes decoded events into a bounded channel
// consumed by a single dispatcher.
//
// The feed is at-least-once: a gap may occur across a reconnect, so
// consumers must handle duplicates idempotently.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	creds    store.CredentialSource
	filter   breadcrumb.CoarseFilter
	settings *Settings

	dialer *websocket.Dialer
	events chan Event
	done   chan struct{}
	err    error
}

func NewClient(ctx context.Context, feedURL string, creds store.CredentialSource, filter breadcrumb.CoarseFilter, settings *Settings) *Client {
	if settings == nil {
		settings = DefaultSettings()
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      feedURL,
		creds:    creds,
		filter:   filter,
		settings: settings,
		dialer: &websocket.Dialer{
			HandshakeTimeout: settings.DialTimeout,
		},
		events: make(chan Event, settings.EventBuffer),
		done:   make(chan struct{}),
	}
	return c
}

// Events is the single channel of decoded document events. It is closed
// when the client stops, either via Close or after exhausting its
// connection attempts.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err reports why the event channel closed, nil on a clean Close.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Start launches the connection lifecycle and the proactive credential
// refresh loop.
func (c *Client) Start() {
	go c.refreshLoop()
	go c.run()
}

// Close tears down the connection and closes the event channel.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

// run is the reconnect loop. It blocks only its own connection
// lifecycle; buffered events stay deliverable throughout.
func (c *Client) run() {
	defer close(c.events)
	defer close(c.done)

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		ws, err := c.connect()
		if err != nil {
			attempt++
			if c.settings.MaxAttempts > 0 && attempt >= c.settings.MaxAttempts {
				c.err = fmt.Errorf("giving up after %d connection attempts: %w", attempt, err)
				slog.Error("Event stream exhausted connection attempts", "attempts", attempt, "error", err)
				// Stops the refresh loop too; a dead stream must not
				// keep its credential alive.
				c.cancel()
				return
			}
			delay := withJitter(backoffDelay(c.settings.BackoffBase, c.settings.BackoffMax, attempt))
			slog.Warn("Event stream connect failed, backing off", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		// Successful connect resets the backoff schedule.
		attempt = 0
		slog.Info("Event stream connected", "url", c.url)

		err = c.readLoop(ws)
		ws.Close()
		if c.ctx.Err() != nil {
			return
		}
		slog.Warn("Event stream disconnected", "error", err)
	}
}

// connect performs one authenticated dial. A 401 handshake rejection
// triggers a single credential refresh and one retry of the same
// attempt before the error propagates to the backoff loop.
func (c *Client) connect() (*websocket.Conn, error) {
	token, err := c.creds.Token(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credential: %w", err)
	}

	ws, resp, err := c.dial(token)
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		token, err = c.creds.Refresh(c.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh credential: %w", err)
		}
		ws, _, err = c.dial(token)
	}
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Client) dial(token string) (*websocket.Conn, *http.Response, error) {
	feedURL, header, err := c.dialTarget(token)
	if err != nil {
		return nil, nil, err
	}
	return c.dialer.DialContext(c.ctx, feedURL, header)
}

// dialTarget builds the feed URL with the coarse server-side filter and
// places the credential in a header, or in the query string when the
// transport cannot set headers.
func (c *Client) dialTarget(token string) (string, http.Header, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", nil, fmt.Errorf("invalid feed url: %w", err)
	}
	params := u.Query()
	if len(c.filter.Tags) > 0 {
		params.Set("tags", strings.Join(c.filter.Tags, ","))
	}
	if len(c.filter.SchemaNames) > 0 {
		params.Set("schemas", strings.Join(c.filter.SchemaNames, ","))
	}

	var header http.Header
	if c.settings.TokenInQuery {
		params.Set("token", token)
	} else {
		header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	u.RawQuery = params.Encode()
	return u.String(), header, nil
}

// readLoop decodes frames until the transport fails. Heartbeats only
// extend the read deadline; document events go into the bounded
// channel, blocking when the dispatcher falls behind.
func (c *Client) readLoop(ws *websocket.Conn) error {
	for {
		ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("Dropping malformed stream frame", "error", err)
			continue
		}
		if event.Type == EventPing {
			continue
		}
		if !event.IsDocument() {
			slog.Debug("Ignoring unknown frame type", "type", event.Type)
			continue
		}

		select {
		case c.events <- event:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// refreshLoop proactively refreshes the credential on a fixed timer so
// long-lived connections never depend solely on reactive 401 handling.
// When the credential is a JWT, the schedule tightens to refresh ahead
// of the token's own expiry.
func (c *Client) refreshLoop() {
	for {
		interval := c.settings.RefreshInterval
		if token, err := c.creds.Token(c.ctx); err == nil {
			if exp, ok := store.TokenExpiry(token); ok {
				if until := time.Until(exp) - time.Minute; until > time.Second && until < interval {
					interval = until
				}
			}
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			if _, err := c.creds.Refresh(c.ctx); err != nil {
				slog.Warn("Proactive credential refresh failed", "error", err)
			} else {
				slog.Debug("Credential refreshed proactively")
			}
		}
	}
}
