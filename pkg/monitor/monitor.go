// Package monitor provides the logging setup and a pluggable view of
// execution activity.
package monitor

import "time"

// ExecutionEvent describes one completed component execution.
type ExecutionEvent struct {
	Timestamp time.Time
	Component string
	TriggerID string
	Schema    string
	// Action is the decision or status the execution resolved to.
	Action string
	Error  string
}

// Monitor observes execution activity.
type Monitor interface {
	Start() error
	Stop() error
	OnExecution(ev ExecutionEvent)
}
