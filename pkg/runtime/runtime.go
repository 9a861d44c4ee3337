// Package runtime assembles the moving parts into one process: store
// client, event stream, dispatcher, and one executor per configured
// agent and tool. Agent definitions live in the store as agent.def.v1
// documents and are re-synced when they change.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ripple/pkg/agent"
	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/config"
	"ripple/pkg/executor"
	"ripple/pkg/llm"
	"ripple/pkg/monitor"
	"ripple/pkg/store"
	"ripple/pkg/stream"
)

type Runtime struct {
	cfg       *config.Config
	sys       *config.SystemConfig
	store     *store.Client
	llmClient llm.Client
	mon       monitor.Monitor

	assembler  *assemble.Assembler
	dispatcher *executor.Dispatcher
	settings   executor.Settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	stream *stream.Client
	// static executors exist for the process lifetime; agent executors
	// come and go with their definitions.
	static []*executor.Executor
	agents map[string]*executor.Executor // agent name -> executor
	defIDs map[string]string             // agent.def.v1 doc id -> agent name
}

// Start connects the event stream and begins dispatching. Agent
// definitions are read from the store first so agents created before
// this process started participate immediately.
func (r *Runtime) Start() error {
	if r.mon != nil {
		if err := r.mon.Start(); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	if err := r.syncAgentDefs(); err != nil {
		slog.Warn("Initial agent definition sync failed, starting with configured agents only", "error", err)
	}

	r.stream.Start()
	r.wg.Add(1)
	go r.loop()

	slog.Info("Runtime started", "agents", len(r.agents), "static_components", len(r.static))
	return nil
}

// Stop tears down in dependency order: stream first so no new events
// arrive, then executors, then the monitor.
func (r *Runtime) Stop() {
	r.cancel()
	r.stream.Close()
	r.wg.Wait()

	r.mu.Lock()
	executors := append([]*executor.Executor(nil), r.static...)
	for _, e := range r.agents {
		executors = append(executors, e)
	}
	r.mu.Unlock()

	for _, e := range executors {
		e.Close()
	}
	if r.mon != nil {
		r.mon.Stop()
	}
	slog.Info("Runtime stopped")
}

func (r *Runtime) loop() {
	defer r.wg.Done()
	for ev := range r.stream.Events() {
		ev = r.resolve(ev)
		r.maybeSyncAgent(ev)
		r.dispatcher.Dispatch(ev)
	}
	if err := r.stream.Err(); err != nil && r.ctx.Err() == nil {
		slog.Error("Event stream terminated", "error", err)
	}
}

// resolve turns an id-only created/updated frame into a full document
// with a single fetch, shared by every executor downstream.
func (r *Runtime) resolve(ev stream.Event) stream.Event {
	if !ev.IsDocument() || ev.Document != nil ||
		ev.Type == stream.EventDocumentDeleted || ev.ID == "" {
		return ev
	}
	doc, err := r.store.Get(r.ctx, ev.ID)
	if err != nil {
		slog.Warn("Failed to resolve event document", "id", ev.ID, "error", err)
		return ev
	}
	ev.Document = doc
	return ev
}

// maybeSyncAgent keeps the agent set aligned with agent.def.v1
// documents as they are created, updated, and deleted.
func (r *Runtime) maybeSyncAgent(ev stream.Event) {
	if !ev.IsDocument() {
		return
	}

	if ev.Type == stream.EventDocumentDeleted {
		r.mu.Lock()
		name, known := r.defIDs[ev.ID]
		r.mu.Unlock()
		if known {
			r.removeAgent(ev.ID, name)
		}
		return
	}

	doc := ev.Document
	if doc == nil || doc.SchemaName != breadcrumb.SchemaAgentDef {
		return
	}

	var def breadcrumb.AgentDef
	if err := doc.DecodeContext(&def); err != nil || def.Name == "" {
		slog.Warn("Ignoring malformed agent definition", "id", doc.ID, "error", err)
		return
	}
	r.upsertAgent(doc.ID, def)
}

// configDefID is the synthetic definition id for agents declared in
// the config file rather than the store.
func configDefID(name string) string { return "config:" + name }

// ReloadConfiguredAgents replaces the agents owned by the config file
// with defs, removing entries the new config no longer declares.
// Store-defined agents are untouched.
func (r *Runtime) ReloadConfiguredAgents(defs []breadcrumb.AgentDef) {
	keep := map[string]bool{}
	for _, def := range defs {
		keep[def.Name] = true
	}

	r.mu.Lock()
	type entry struct{ docID, name string }
	var stale []entry
	for docID, name := range r.defIDs {
		if strings.HasPrefix(docID, "config:") && !keep[name] {
			stale = append(stale, entry{docID, name})
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		r.removeAgent(s.docID, s.name)
	}
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		r.upsertAgent(configDefID(def.Name), def)
	}
}

// syncAgentDefs loads every agent.def.v1 document from the store.
func (r *Runtime) syncAgentDefs() error {
	docs, err := r.store.List(r.ctx, store.Query{
		SchemaName: breadcrumb.SchemaAgentDef,
		Limit:      200,
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		var def breadcrumb.AgentDef
		if err := doc.DecodeContext(&def); err != nil || def.Name == "" {
			slog.Warn("Skipping malformed agent definition", "id", doc.ID, "error", err)
			continue
		}
		r.upsertAgent(doc.ID, def)
	}
	return nil
}

func (r *Runtime) upsertAgent(docID string, def breadcrumb.AgentDef) {
	a := agent.NewFromDef(def, r.llmClient, r.store)
	e := executor.NewExecutor(r.wrap(a), r.assembler, r.store, r.settings)

	r.mu.Lock()
	old := r.agents[def.Name]
	r.agents[def.Name] = e
	r.defIDs[docID] = def.Name
	r.mu.Unlock()

	if old != nil {
		r.dispatcher.Remove(old)
		old.Close()
	}
	r.dispatcher.Register(e)
	slog.Info("Agent synced", "agent", def.Name, "definition", docID)
}

func (r *Runtime) removeAgent(docID, name string) {
	r.mu.Lock()
	e := r.agents[name]
	delete(r.agents, name)
	delete(r.defIDs, docID)
	r.mu.Unlock()

	if e != nil {
		r.dispatcher.Remove(e)
		e.Close()
	}
	slog.Info("Agent removed", "agent", name, "definition", docID)
}

// wrap decorates a component with execution monitoring when a monitor
// is configured.
func (r *Runtime) wrap(c executor.Component) executor.Component {
	if r.mon == nil {
		return c
	}
	return &monitored{Component: c, mon: r.mon}
}

type monitored struct {
	executor.Component
	mon monitor.Monitor
}

func (m *monitored) Respond(ctx context.Context, trigger *breadcrumb.Breadcrumb, result any, execErr error) error {
	err := m.Component.Respond(ctx, trigger, result, execErr)

	ev := monitor.ExecutionEvent{
		Timestamp: time.Now(),
		Component: m.Name(),
		TriggerID: trigger.ID,
		Schema:    trigger.SchemaName,
		Action:    "done",
	}
	if outcome, ok := result.(*agent.Outcome); ok && outcome != nil {
		ev.Action = outcome.Decision.Action()
	}
	if execErr != nil {
		ev.Error = execErr.Error()
	}
	m.mon.OnExecution(ev)
	return err
}
