package stream

import (
	"ripple/pkg/breadcrumb"
)

// EventType identifies a frame on the store's change feed.
type EventType string

const (
	// EventPing is a heartbeat frame. Liveness signal only, never
	// dispatched to subscribers.
	EventPing            EventType = "ping"
	EventDocumentCreated EventType = "document.created"
	EventDocumentUpdated EventType = "document.updated"
	EventDocumentDeleted EventType = "document.deleted"
)

// Event is one decoded frame from the change feed. Created/updated
// frames typically carry the document id only; Document is non-nil when
// the server inlined the payload.
type Event struct {
	Type     EventType              `json:"type"`
	ID       string                 `json:"id,omitempty"`
	Document *breadcrumb.Breadcrumb `json:"document,omitempty"`
}

// IsDocument reports whether the event describes a document change
// (as opposed to a heartbeat or unknown frame).
func (e Event) IsDocument() bool {
	switch e.Type {
	case EventDocumentCreated, EventDocumentUpdated, EventDocumentDeleted:
		return true
	}
	return false
}
