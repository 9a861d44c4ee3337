package executor

import (
	"log/slog"
	"sync"

	"ripple/pkg/stream"
)

// Dispatcher fans one event feed out to every registered executor. It
// is the only consumer of the stream channel; executors schedule their
// own goroutines, so a slow execution never stalls the feed.
type Dispatcher struct {
	mu        sync.RWMutex
	executors []*Executor
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Register(e *Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors = append(d.executors, e)
}

// Remove unregisters an executor, typically before closing it when its
// component's definition changed.
func (d *Dispatcher) Remove(e *Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.executors {
		if cur == e {
			d.executors = append(d.executors[:i], d.executors[i+1:]...)
			return
		}
	}
}

// Run consumes events until the channel closes. A panic while handling
// one event is logged and the loop keeps going; one bad event must not
// take the dispatcher down.
func (d *Dispatcher) Run(events <-chan stream.Event) {
	for ev := range events {
		d.Dispatch(ev)
	}
}

// Dispatch hands one event to every registered executor.
func (d *Dispatcher) Dispatch(ev stream.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatch panicked", "type", ev.Type, "id", ev.ID, "panic", r)
		}
	}()

	d.mu.RLock()
	executors := append([]*Executor(nil), d.executors...)
	d.mu.RUnlock()

	for _, e := range executors {
		e.HandleEvent(ev)
	}
}
