// Package executor turns matching stream events into component
// executions: assemble context, run the component's work bounded by a
// timeout, persist the outcome. Overlapping triggers for the same
// logical unit of work are serialized; distinct units run in parallel.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/stream"
)

// Component is the single extension point: a named unit of reactive
// work with a subscription set. Execute must confine its side effects
// to what Respond persists, so an abandoned execution is safe to
// discard. Respond receives the execution error, if any, and persists
// either the result or an error document under the same correlation.
type Component interface {
	Name() string
	Subscriptions() []breadcrumb.Subscription
	Execute(ctx context.Context, trigger *breadcrumb.Breadcrumb, bundle assemble.Bundle) (any, error)
	Respond(ctx context.Context, trigger *breadcrumb.Breadcrumb, result any, execErr error) error
}

// Fetcher resolves an event that carries only a document id into the
// full document.
type Fetcher interface {
	Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error)
}

type Settings struct {
	// ExecuteTimeout bounds one Execute call. Exceeding it releases
	// the key's slot; a result arriving later is discarded.
	ExecuteTimeout time.Duration
	// RespondTimeout bounds persisting one outcome.
	RespondTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ExecuteTimeout: 30 * time.Second,
		RespondTimeout: 15 * time.Second,
	}
}

type slot struct {
	queue []*breadcrumb.Breadcrumb
}

// Executor drives one component. Each instance owns its in-flight map;
// its lifecycle ends with Close, not with the process.
type Executor struct {
	component Component
	assembler *assemble.Assembler
	fetcher   Fetcher
	settings  Settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*slot
}

func NewExecutor(component Component, assembler *assemble.Assembler, fetcher Fetcher, settings Settings) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		component: component,
		assembler: assembler,
		fetcher:   fetcher,
		settings:  settings,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[string]*slot),
	}
}

// Close stops accepting triggers and waits for in-flight executions.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}

// HandleEvent inspects one stream event and, when it matches a trigger
// subscription, schedules an execution. A non-matching event returns
// without logging; the hot path stays cheap.
func (e *Executor) HandleEvent(ev stream.Event) {
	if !ev.IsDocument() {
		return
	}
	doc := ev.Document
	if doc == nil {
		if ev.Type == stream.EventDocumentDeleted || ev.ID == "" {
			return
		}
		fetched, err := e.fetchDocument(ev.ID)
		if err != nil {
			slog.Warn("Failed to resolve event document", "component", e.component.Name(), "id", ev.ID, "error", err)
			return
		}
		doc = fetched
	}

	triggered := false
	for _, sub := range e.component.Subscriptions() {
		if sub.Triggers(doc) {
			triggered = true
			break
		}
	}
	if !triggered {
		return
	}
	e.enqueue(doc)
}

func (e *Executor) fetchDocument(id string) (*breadcrumb.Breadcrumb, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.settings.RespondTimeout)
	defer cancel()
	return e.fetcher.Get(ctx, id)
}

// enqueue admits a trigger under its dedup key. The first trigger for
// an idle key starts a worker; later triggers for the same key queue
// behind the in-flight execution.
func (e *Executor) enqueue(doc *breadcrumb.Breadcrumb) {
	if e.ctx.Err() != nil {
		return
	}
	key := DedupKey(doc)

	e.mu.Lock()
	if s, running := e.inflight[key]; running {
		s.queue = append(s.queue, doc)
		e.mu.Unlock()
		return
	}
	e.inflight[key] = &slot{}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.drain(key, doc)
}

// drain runs the key's trigger and then any triggers queued while it
// was executing, one at a time, releasing the slot when the queue is
// empty.
func (e *Executor) drain(key string, doc *breadcrumb.Breadcrumb) {
	defer e.wg.Done()
	for doc != nil {
		e.runOne(doc)

		e.mu.Lock()
		s := e.inflight[key]
		if len(s.queue) == 0 {
			delete(e.inflight, key)
			doc = nil
		} else {
			doc = s.queue[0]
			s.queue = s.queue[1:]
		}
		e.mu.Unlock()
	}
}

type outcome struct {
	result any
	err    error
}

func (e *Executor) runOne(trigger *breadcrumb.Breadcrumb) {
	bundle := e.assembler.Assemble(e.ctx, trigger, e.component.Subscriptions())

	execCtx, cancel := context.WithTimeout(e.ctx, e.settings.ExecuteTimeout)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("execute panicked: %v", r)}
			}
		}()
		result, err := e.component.Execute(execCtx, trigger, bundle)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-execCtx.Done():
		// The slot is released now; if the execution ever finishes,
		// its result lands in the buffered channel and is dropped.
		out = outcome{err: fmt.Errorf("execute exceeded %s timeout", e.settings.ExecuteTimeout)}
	}
	cancel()

	if out.err != nil {
		slog.Warn("Execution failed", "component", e.component.Name(), "trigger", trigger.ID, "error", out.err)
	}

	respondCtx, respondCancel := context.WithTimeout(e.ctx, e.settings.RespondTimeout)
	defer respondCancel()
	if err := e.component.Respond(respondCtx, trigger, out.result, out.err); err != nil {
		slog.Error("Failed to persist execution outcome", "component", e.component.Name(), "trigger", trigger.ID, "error", err)
	}
}

// DedupKey derives the serialization key for a trigger: the requestId
// from its context when present, the document id otherwise. Duplicate
// deliveries of one logical request therefore share a key.
func DedupKey(doc *breadcrumb.Breadcrumb) string {
	if id := gjson.GetBytes(doc.Context, "requestId"); id.Exists() && id.String() != "" {
		return id.String()
	}
	return doc.ID
}
