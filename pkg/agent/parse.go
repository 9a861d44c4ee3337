package agent

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/breadcrumb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawDecision is the wire shape a model reply is expected to carry.
type rawDecision struct {
	Action     string              `json:"action"`
	ID         string              `json:"id,omitempty"`
	Version    int64               `json:"version,omitempty"`
	SchemaName string              `json:"schema_name,omitempty"`
	Title      string              `json:"title,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
	Context    jsoniter.RawMessage `json:"context,omitempty"`
	Agent      jsoniter.RawMessage `json:"agent,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// ParseDecision resolves a model reply to a decision through a
// fallback chain: strict JSON parse, repair-then-parse, keyword
// heuristics. Each step is pure; the first to yield a result wins.
// Nothing here is a hard failure; an unreadable reply collapses to
// Unknown and no side effect runs. The capability grant is applied to
// whatever comes out.
func ParseDecision(reply string, caps breadcrumb.Capabilities) Decision {
	if raw, ok := parseStrict(reply); ok {
		return gate(fromRaw(raw, reply), caps)
	}
	if raw, ok := parseRepaired(reply); ok {
		return gate(fromRaw(raw, reply), caps)
	}
	return gate(classifyByKeywords(reply), caps)
}

func parseStrict(reply string) (rawDecision, bool) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &raw); err != nil {
		return rawDecision{}, false
	}
	return raw, raw.Action != ""
}

// parseRepaired retries after stripping code fences and trimming to
// the outermost object, which covers the common near-JSON replies:
// fenced blocks, leading prose, trailing commentary.
func parseRepaired(reply string) (rawDecision, bool) {
	cleaned := stripFences(reply)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return rawDecision{}, false
	}
	var raw rawDecision
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err != nil {
		return rawDecision{}, false
	}
	return raw, raw.Action != ""
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	return strings.ReplaceAll(s, "```", "")
}

// classifyByKeywords is the last resort: scan the reply for an action
// word. Mutating actions need fields a bare keyword cannot supply, so
// only none survives; anything else is Unknown.
func classifyByKeywords(reply string) Decision {
	lowered := strings.ToLower(reply)
	switch {
	case strings.Contains(lowered, "\"action\": \"none\""),
		strings.Contains(lowered, "no action"),
		strings.Contains(lowered, "nothing to do"):
		return None{Message: strings.TrimSpace(reply)}
	default:
		return Unknown{Raw: reply}
	}
}

// fromRaw validates the parsed shape into a typed decision. Missing
// required fields demote the decision to Unknown rather than letting a
// half-specified mutation through.
func fromRaw(raw rawDecision, reply string) Decision {
	switch strings.ToLower(raw.Action) {
	case "create":
		if raw.SchemaName == "" {
			return Unknown{Raw: reply}
		}
		return Create{
			SchemaName: raw.SchemaName,
			Title:      raw.Title,
			Tags:       raw.Tags,
			Context:    raw.Context,
			Message:    raw.Message,
		}
	case "update":
		if raw.ID == "" {
			return Unknown{Raw: reply}
		}
		return Update{
			ID:      raw.ID,
			Version: raw.Version,
			Title:   raw.Title,
			Context: raw.Context,
			Message: raw.Message,
		}
	case "delete":
		if raw.ID == "" {
			return Unknown{Raw: reply}
		}
		return Delete{
			ID:      raw.ID,
			Version: raw.Version,
			Message: raw.Message,
		}
	case "spawn":
		var def breadcrumb.AgentDef
		if raw.Agent == nil || json.Unmarshal(raw.Agent, &def) != nil || def.Name == "" {
			return Unknown{Raw: reply}
		}
		return Spawn{Def: def, Message: raw.Message}
	case "none":
		return None{Message: raw.Message}
	default:
		return Unknown{Raw: reply}
	}
}
