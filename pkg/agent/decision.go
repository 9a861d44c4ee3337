package agent

import (
	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/breadcrumb"
)

// Decision is the closed set of actions an agent reply can resolve to.
// Construction is where capabilities are enforced: a parsed action the
// grant does not cover becomes Disallowed, so apply never has to
// re-check permissions.
type Decision interface {
	Action() string
}

// Create adds a new breadcrumb.
type Create struct {
	SchemaName string
	Title      string
	Tags       []string
	Context    jsoniter.RawMessage
	Message    string
}

// Update conditionally patches an existing breadcrumb. Version is the
// version the model read; the store rejects it when stale.
type Update struct {
	ID      string
	Version int64
	Title   string
	Context jsoniter.RawMessage
	Message string
}

// Delete removes a breadcrumb at a known version.
type Delete struct {
	ID      string
	Version int64
	Message string
}

// Spawn creates an agent.def.v1 so the runtime picks up a new agent.
type Spawn struct {
	Def     breadcrumb.AgentDef
	Message string
}

// None is an explicit decision to do nothing.
type None struct {
	Message string
}

// Unknown is the terminal fallback: the reply could not be understood,
// so no side effect runs.
type Unknown struct {
	Raw string
}

// Disallowed wraps a well-formed decision the agent's capability grant
// does not permit. It is a no-op, not an error.
type Disallowed struct {
	Wrapped Decision
}

func (Create) Action() string  { return "create" }
func (Update) Action() string  { return "update" }
func (Delete) Action() string  { return "delete" }
func (Spawn) Action() string   { return "spawn" }
func (None) Action() string    { return "none" }
func (Unknown) Action() string { return "unknown" }

func (d Disallowed) Action() string { return d.Wrapped.Action() }

// gate applies the capability grant at construction time.
func gate(d Decision, caps breadcrumb.Capabilities) Decision {
	allowed := true
	switch d.(type) {
	case Create:
		allowed = caps.CanCreateBreadcrumbs
	case Update:
		allowed = caps.CanUpdateOwn
	case Delete:
		allowed = caps.CanDeleteOwn
	case Spawn:
		allowed = caps.CanSpawnAgents
	}
	if !allowed {
		return Disallowed{Wrapped: d}
	}
	return d
}
