package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
	"ripple/pkg/stream"
)

type stubSource struct{}

func (stubSource) List(context.Context, store.Query) ([]breadcrumb.Breadcrumb, error) {
	return nil, nil
}

type stubFetcher struct {
	docs map[string]*breadcrumb.Breadcrumb
}

func (f *stubFetcher) Get(_ context.Context, id string) (*breadcrumb.Breadcrumb, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

type response struct {
	trigger string
	err     error
}

// probe is a component whose Execute can be delayed or blocked so the
// tests can observe scheduling.
type probe struct {
	subs    []breadcrumb.Subscription
	onExec  func(ctx context.Context, trigger *breadcrumb.Breadcrumb) (any, error)
	current atomic.Int32
	peak    atomic.Int32

	mu        sync.Mutex
	executed  []string
	responded []response
}

func newProbe(onExec func(ctx context.Context, trigger *breadcrumb.Breadcrumb) (any, error)) *probe {
	return &probe{
		subs: []breadcrumb.Subscription{{
			Role:     breadcrumb.RoleTrigger,
			Selector: breadcrumb.Selector{SchemaName: "user.message.v1"},
			Fetch:    breadcrumb.FetchSpec{Method: breadcrumb.FetchEventData},
		}},
		onExec: onExec,
	}
}

func (p *probe) Name() string                             { return "probe" }
func (p *probe) Subscriptions() []breadcrumb.Subscription { return p.subs }

func (p *probe) Execute(ctx context.Context, trigger *breadcrumb.Breadcrumb, _ assemble.Bundle) (any, error) {
	n := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	defer p.current.Add(-1)

	p.mu.Lock()
	p.executed = append(p.executed, trigger.ID)
	p.mu.Unlock()

	if p.onExec != nil {
		return p.onExec(ctx, trigger)
	}
	return "ok", nil
}

func (p *probe) Respond(_ context.Context, trigger *breadcrumb.Breadcrumb, _ any, execErr error) error {
	p.mu.Lock()
	p.responded = append(p.responded, response{trigger: trigger.ID, err: execErr})
	p.mu.Unlock()
	return nil
}

func (p *probe) executions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.executed...)
}

func (p *probe) responses() []response {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]response(nil), p.responded...)
}

func docEvent(id string) stream.Event {
	return stream.Event{
		Type: stream.EventDocumentCreated,
		ID:   id,
		Document: &breadcrumb.Breadcrumb{
			ID:         id,
			SchemaName: "user.message.v1",
			Context:    jsoniter.RawMessage(`{"text":"hi"}`),
			Version:    1,
		},
	}
}

func newTestExecutor(p *probe, settings Settings) *Executor {
	return NewExecutor(p, assemble.NewAssembler(stubSource{}), &stubFetcher{}, settings)
}

func TestBurstSameKeySerializes(t *testing.T) {
	p := newProbe(func(context.Context, *breadcrumb.Breadcrumb) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	e := newTestExecutor(p, DefaultSettings())

	for i := 0; i < 5; i++ {
		e.HandleEvent(docEvent("same-doc"))
	}
	e.Close()

	assert.Equal(t, int32(1), p.peak.Load(), "one key never runs concurrently")
	assert.Len(t, p.executions(), 5, "every queued trigger eventually runs")
	assert.Len(t, p.responses(), 5)
}

func TestDistinctKeysRunInParallel(t *testing.T) {
	arrived := make(chan struct{}, 3)
	release := make(chan struct{})
	p := newProbe(func(context.Context, *breadcrumb.Breadcrumb) (any, error) {
		arrived <- struct{}{}
		<-release
		return "ok", nil
	})
	e := newTestExecutor(p, DefaultSettings())

	e.HandleEvent(docEvent("doc-a"))
	e.HandleEvent(docEvent("doc-b"))
	e.HandleEvent(docEvent("doc-c"))

	for i := 0; i < 3; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("executions did not overlap; distinct keys must run in parallel")
		}
	}
	assert.Equal(t, int32(3), p.peak.Load())
	close(release)
	e.Close()
}

func TestSharedRequestIDSerializes(t *testing.T) {
	// Two distinct documents carrying the same requestId are one
	// logical unit of work.
	p := newProbe(func(context.Context, *breadcrumb.Breadcrumb) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	e := newTestExecutor(p, DefaultSettings())

	for _, id := range []string{"doc-a", "doc-b"} {
		ev := docEvent(id)
		ev.Document.Context = jsoniter.RawMessage(`{"requestId":"req-7"}`)
		e.HandleEvent(ev)
	}
	e.Close()

	assert.Equal(t, int32(1), p.peak.Load())
	assert.Len(t, p.executions(), 2)
}

func TestTimeoutReleasesSlot(t *testing.T) {
	var calls atomic.Int32
	hang := make(chan struct{})
	p := newProbe(func(context.Context, *breadcrumb.Breadcrumb) (any, error) {
		if calls.Add(1) == 1 {
			<-hang
		}
		return "ok", nil
	})
	settings := DefaultSettings()
	settings.ExecuteTimeout = 30 * time.Millisecond
	e := newTestExecutor(p, settings)

	e.HandleEvent(docEvent("stuck-doc"))
	e.HandleEvent(docEvent("stuck-doc"))

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 2*time.Second, 5*time.Millisecond, "timeout must release the slot for the queued trigger")

	close(hang)
	e.Close()

	responses := p.responses()
	require.Len(t, responses, 2)
	assert.ErrorContains(t, responses[0].err, "timeout")
	assert.NoError(t, responses[1].err)
}

func TestExecutePanicBecomesErrorResponse(t *testing.T) {
	p := newProbe(func(context.Context, *breadcrumb.Breadcrumb) (any, error) {
		panic("boom")
	})
	e := newTestExecutor(p, DefaultSettings())

	e.HandleEvent(docEvent("doc-a"))
	e.Close()

	responses := p.responses()
	require.Len(t, responses, 1)
	assert.ErrorContains(t, responses[0].err, "boom")
}

func TestNonMatchingEventsAreIgnored(t *testing.T) {
	p := newProbe(nil)
	e := newTestExecutor(p, DefaultSettings())

	ev := docEvent("doc-a")
	ev.Document.SchemaName = "note.v1"
	e.HandleEvent(ev)
	e.HandleEvent(stream.Event{Type: stream.EventPing})
	e.Close()

	assert.Empty(t, p.executions())
}

func TestIDOnlyEventIsResolvedBeforeMatching(t *testing.T) {
	doc := &breadcrumb.Breadcrumb{
		ID:         "doc-a",
		SchemaName: "user.message.v1",
		Context:    jsoniter.RawMessage(`{"text":"hi"}`),
		Version:    1,
	}
	p := newProbe(nil)
	e := NewExecutor(p, assemble.NewAssembler(stubSource{}),
		&stubFetcher{docs: map[string]*breadcrumb.Breadcrumb{"doc-a": doc}}, DefaultSettings())

	e.HandleEvent(stream.Event{Type: stream.EventDocumentUpdated, ID: "doc-a"})
	e.Close()

	assert.Equal(t, []string{"doc-a"}, p.executions())
}

func TestDispatcherSurvivesBadEvent(t *testing.T) {
	p := newProbe(nil)
	e := newTestExecutor(p, DefaultSettings())
	d := NewDispatcher()
	d.Register(e)

	events := make(chan stream.Event, 3)
	// A document event with a nil payload and an empty id exercises the
	// skip path; the dispatch loop must keep consuming afterwards.
	events <- stream.Event{Type: stream.EventDocumentCreated}
	events <- docEvent("doc-a")
	close(events)

	done := make(chan struct{})
	go func() {
		d.Run(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not drain the channel")
	}
	e.Close()

	assert.Equal(t, []string{"doc-a"}, p.executions())
}

func TestExecuteTimeoutErrorMentionsDuration(t *testing.T) {
	settings := Settings{ExecuteTimeout: 20 * time.Millisecond, RespondTimeout: time.Second}
	p := newProbe(func(ctx context.Context, _ *breadcrumb.Breadcrumb) (any, error) {
		<-ctx.Done()
		return nil, errors.New("cancelled")
	})
	e := newTestExecutor(p, settings)

	e.HandleEvent(docEvent("doc-a"))
	e.Close()

	responses := p.responses()
	require.Len(t, responses, 1)
	require.Error(t, responses[0].err)
}
