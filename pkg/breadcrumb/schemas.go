package breadcrumb

import jsoniter "github.com/json-iterator/go"

// Well-known schema names produced and consumed by the runtime.
const (
	SchemaToolRequest   = "tool.request.v1"
	SchemaToolResponse  = "tool.response.v1"
	SchemaAgentResponse = "agent.response.v1"
	SchemaAgentDef      = "agent.def.v1"
)

// Response status values for tool.response.v1.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolRequest is the context payload of a tool.request.v1 breadcrumb.
type ToolRequest struct {
	Tool        string              `json:"tool"`
	Input       jsoniter.RawMessage `json:"input,omitempty"`
	RequestID   string              `json:"requestId"`
	RequestedBy string              `json:"requestedBy,omitempty"`
}

// ToolResponse is the context payload of a tool.response.v1 breadcrumb,
// correlated to its request by RequestID and the request:<id> tag.
type ToolResponse struct {
	RequestID string              `json:"request_id"`
	Tool      string              `json:"tool"`
	Status    string              `json:"status"`
	Output    jsoniter.RawMessage `json:"output,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// AgentResponse is the context payload of an agent.response.v1 breadcrumb.
type AgentResponse struct {
	Message      string              `json:"message"`
	ToolRequests jsoniter.RawMessage `json:"tool_requests,omitempty"`
}

// Capabilities is an agent's declared grant. Actions outside the grant
// are no-ops, not errors.
type Capabilities struct {
	CanCreateBreadcrumbs bool `json:"can_create_breadcrumbs"`
	CanUpdateOwn         bool `json:"can_update_own"`
	CanDeleteOwn         bool `json:"can_delete_own"`
	CanSpawnAgents       bool `json:"can_spawn_agents"`
}

// AgentDef is the context payload of an agent.def.v1 breadcrumb. It
// declares an agent's subscriptions, capabilities, and model
// configuration; the runtime reads these at startup and on change.
type AgentDef struct {
	Name          string              `json:"name"`
	SystemPrompt  string              `json:"system_prompt"`
	Subscriptions []Subscription      `json:"subscriptions"`
	Capabilities  Capabilities        `json:"capabilities"`
	Model         jsoniter.RawMessage `json:"model,omitempty"`
}
