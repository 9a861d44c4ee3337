package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
)

func TestBackoffDelayMonotonicUntilCap(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := backoffDelay(base, max, attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, max, "attempt %d", attempt)
		prev = delay
	}
	assert.Equal(t, base, backoffDelay(base, max, 1), "first attempt starts at the base delay")
	assert.Equal(t, max, backoffDelay(base, max, 12), "delay saturates at the cap")
}

func TestWithJitterBounds(t *testing.T) {
	delay := 1 * time.Second
	for range 50 {
		jittered := withJitter(delay)
		assert.GreaterOrEqual(t, jittered, delay)
		assert.LessOrEqual(t, jittered, delay+delay/4)
	}
}

type feedServer struct {
	token    string
	upgrader websocket.Upgrader
	dials    atomic.Int32
	// frames written to every accepted connection, one per line
	frames    []string
	lastQuery atomic.Value
}

func (s *feedServer) handler(w http.ResponseWriter, r *http.Request) {
	s.dials.Add(1)
	s.lastQuery.Store(r.URL.RawQuery)
	authorized := r.Header.Get("Authorization") == "Bearer "+s.token ||
		r.URL.Query().Get("token") == s.token
	if !authorized {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	for _, frame := range s.frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	// Hold the connection open briefly, then drop it to exercise
	// the reconnect path.
	time.Sleep(50 * time.Millisecond)
}

func startFeed(t *testing.T, s *feedServer) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSettings() *Settings {
	settings := DefaultSettings()
	settings.BackoffBase = 10 * time.Millisecond
	settings.BackoffMax = 50 * time.Millisecond
	settings.ReadTimeout = time.Second
	return settings
}

func collect(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestPingFramesAreNeverDispatched(t *testing.T) {
	feed := &feedServer{
		token: "tok",
		frames: []string{
			`{"type":"ping"}`,
			`{"type":"document.created","id":"doc-1"}`,
			`{"type":"ping"}`,
			`{"type":"document.updated","id":"doc-1"}`,
		},
	}
	url := startFeed(t, feed)

	client := NewClient(context.Background(), url, store.StaticCredential("tok"), breadcrumb.CoarseFilter{}, testSettings())
	client.Start()
	defer client.Close()

	got := collect(t, client.Events(), 2)
	assert.Equal(t, EventDocumentCreated, got[0].Type)
	assert.Equal(t, EventDocumentUpdated, got[1].Type)
}

func TestInlineDocumentPayload(t *testing.T) {
	feed := &feedServer{
		token: "tok",
		frames: []string{
			`{"type":"document.created","id":"doc-1","document":{"id":"doc-1","schema_name":"user.message.v1","tags":["chat"],"context":{"text":"hi"},"version":1}}`,
		},
	}
	url := startFeed(t, feed)

	client := NewClient(context.Background(), url, store.StaticCredential("tok"), breadcrumb.CoarseFilter{}, testSettings())
	client.Start()
	defer client.Close()

	got := collect(t, client.Events(), 1)
	require.NotNil(t, got[0].Document)
	assert.Equal(t, "user.message.v1", got[0].Document.SchemaName)
	assert.Equal(t, int64(1), got[0].Document.Version)
}

func TestReconnectAfterServerDrop(t *testing.T) {
	feed := &feedServer{
		token:  "tok",
		frames: []string{`{"type":"document.created","id":"doc-1"}`},
	}
	url := startFeed(t, feed)

	client := NewClient(context.Background(), url, store.StaticCredential("tok"), breadcrumb.CoarseFilter{}, testSettings())
	client.Start()
	defer client.Close()

	// The server drops every connection after one event; receiving
	// several proves the client reconnects and keeps delivering.
	got := collect(t, client.Events(), 3)
	assert.Len(t, got, 3)
	assert.GreaterOrEqual(t, feed.dials.Load(), int32(3))
}

func TestBackoffResetsAfterSuccessfulConnect(t *testing.T) {
	// Three failed dials walk the delay up to 200ms, the fourth
	// connects and drops, then everything fails again. The gap after
	// the post-success failure must be back at the base delay, not a
	// continuation of the earlier schedule.
	var mu sync.Mutex
	var dialTimes []time.Time
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dialTimes = append(dialTimes, time.Now())
		n := len(dialTimes)
		mu.Unlock()
		if n != 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"document.created","id":"doc-1"}`))
		ws.Close()
	}))
	defer srv.Close()

	settings := testSettings()
	settings.BackoffBase = 50 * time.Millisecond
	settings.BackoffMax = 400 * time.Millisecond

	client := NewClient(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"),
		store.StaticCredential("tok"), breadcrumb.CoarseFilter{}, settings)
	client.Start()
	defer client.Close()

	collect(t, client.Events(), 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dialTimes) >= 6
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	gapBeforeSuccess := dialTimes[3].Sub(dialTimes[2])
	gapAfterSuccess := dialTimes[5].Sub(dialTimes[4])
	mu.Unlock()

	assert.GreaterOrEqual(t, gapBeforeSuccess, 200*time.Millisecond,
		"third consecutive failure waits the escalated delay")
	assert.Less(t, gapAfterSuccess, 150*time.Millisecond,
		"the first failure after a successful connection backs off from the base again")
}

func TestUnauthorizedDialRefreshesOnce(t *testing.T) {
	feed := &feedServer{
		token:  "fresh",
		frames: []string{`{"type":"document.created","id":"doc-1"}`},
	}
	url := startFeed(t, feed)

	// The first fetch yields a stale token, so the first handshake is
	// rejected; the reactive refresh must obtain the fresh one and
	// retry within the same connection attempt.
	fetches := atomic.Int32{}
	creds := store.NewRefreshingCredential(func(context.Context) (string, error) {
		if fetches.Add(1) == 1 {
			return "stale", nil
		}
		return "fresh", nil
	})
	client := NewClient(context.Background(), url, creds, breadcrumb.CoarseFilter{}, testSettings())
	client.Start()
	defer client.Close()

	collect(t, client.Events(), 1)
	assert.Equal(t, int32(2), fetches.Load())
	assert.GreaterOrEqual(t, feed.dials.Load(), int32(2))
}

func TestTokenInQueryFallback(t *testing.T) {
	feed := &feedServer{
		token:  "tok",
		frames: []string{`{"type":"document.created","id":"doc-1"}`},
	}
	url := startFeed(t, feed)

	settings := testSettings()
	settings.TokenInQuery = true
	filter := breadcrumb.CoarseFilter{Tags: []string{"chat"}, SchemaNames: []string{"user.message.v1"}}

	client := NewClient(context.Background(), url, store.StaticCredential("tok"), filter, settings)
	client.Start()
	defer client.Close()

	collect(t, client.Events(), 1)
	query, _ := feed.lastQuery.Load().(string)
	assert.Contains(t, query, "token=tok")
	assert.Contains(t, query, "tags=chat")
}

func TestMaxAttemptsExhaustsAndClosesChannel(t *testing.T) {
	// Nothing listens on this port; every dial fails.
	settings := testSettings()
	settings.MaxAttempts = 3

	client := NewClient(context.Background(), "ws://127.0.0.1:1", store.StaticCredential("tok"), breadcrumb.CoarseFilter{}, settings)
	client.Start()

	select {
	case _, ok := <-client.Events():
		assert.False(t, ok, "channel must close without delivering events")
	case <-time.After(5 * time.Second):
		t.Fatal("event channel did not close")
	}
	assert.Error(t, client.Err())
}

type countingCreds struct {
	refreshes atomic.Int32
}

func (c *countingCreds) Token(context.Context) (string, error) { return "tok", nil }

func (c *countingCreds) Refresh(context.Context) (string, error) {
	c.refreshes.Add(1)
	return "tok", nil
}

func TestGivingUpStopsCredentialRefresh(t *testing.T) {
	settings := testSettings()
	settings.MaxAttempts = 2
	settings.RefreshInterval = 20 * time.Millisecond

	creds := &countingCreds{}
	client := NewClient(context.Background(), "ws://127.0.0.1:1", creds, breadcrumb.CoarseFilter{}, settings)
	client.Start()

	require.Error(t, client.Err())

	// The refresh loop must die with the stream, not keep a dead
	// client's credential warm. One tick may already be in flight at
	// shutdown; give it a moment to land before sampling.
	time.Sleep(2 * settings.RefreshInterval)
	refreshesAtExit := creds.refreshes.Load()
	time.Sleep(5 * settings.RefreshInterval)
	assert.Equal(t, refreshesAtExit, creds.refreshes.Load())
}
