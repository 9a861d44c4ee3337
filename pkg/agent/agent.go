// Package agent layers an LLM-driven component on the executor: build
// a prompt from the assembled context, parse the reply into a
// decision, and run its side effects under a capability grant.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/llm"
	"ripple/pkg/store"
)

// Store is the slice of the document store agents mutate through.
type Store interface {
	Create(ctx context.Context, req store.CreateRequest) (string, error)
	Get(ctx context.Context, id string) (*breadcrumb.Breadcrumb, error)
	Update(ctx context.Context, id string, version int64, req store.UpdateRequest) error
	Delete(ctx context.Context, id string, version int64) error
}

type Agent struct {
	name         string
	systemPrompt string
	subs         []breadcrumb.Subscription
	caps         breadcrumb.Capabilities
	client       llm.Client
	store        Store
}

// NewFromDef builds an agent from its agent.def.v1 payload.
func NewFromDef(def breadcrumb.AgentDef, client llm.Client, st Store) *Agent {
	return &Agent{
		name:         def.Name,
		systemPrompt: def.SystemPrompt,
		subs:         def.Subscriptions,
		caps:         def.Capabilities,
		client:       client,
		store:        st,
	}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) Subscriptions() []breadcrumb.Subscription { return a.subs }

// Outcome is what one agent execution produced, consumed by Respond.
type Outcome struct {
	Decision   Decision
	Message    string
	Disallowed bool
	CreatedID  string
}

// Execute runs one reasoning pass: prompt, generate, parse, apply.
func (a *Agent) Execute(ctx context.Context, trigger *breadcrumb.Breadcrumb, bundle assemble.Bundle) (any, error) {
	reply, err := a.client.Generate(ctx, a.buildMessages(trigger, bundle))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	decision := ParseDecision(reply, a.caps)
	outcome, err := a.apply(ctx, decision)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (a *Agent) buildMessages(trigger *breadcrumb.Breadcrumb, bundle assemble.Bundle) []llm.Message {
	var sb strings.Builder
	sb.WriteString(a.systemPrompt)
	sb.WriteString("\n\nReply with a single JSON object: ")
	sb.WriteString(`{"action":"create|update|delete|spawn|none", ...fields, "message":"..."}.`)
	sb.WriteString("\ncreate needs schema_name, title, tags, context.")
	sb.WriteString("\nupdate and delete need id and the version you read.")
	sb.WriteString("\nspawn needs an agent object with name, system_prompt, subscriptions, capabilities.")

	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		bundleJSON = []byte("{}")
	}
	triggerJSON, err := json.Marshal(trigger)
	if err != nil {
		triggerJSON = []byte("{}")
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sb.String()},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Context bundle:\n%s\n\nTriggering document:\n%s", bundleJSON, triggerJSON)},
	}
}

// apply executes a decision's side effect. Disallowed and Unknown are
// no-ops recorded in the outcome; a version conflict is retried once
// with freshly read state before surfacing.
func (a *Agent) apply(ctx context.Context, decision Decision) (*Outcome, error) {
	switch d := decision.(type) {
	case Create:
		id, err := a.store.Create(ctx, store.CreateRequest{
			SchemaName: d.SchemaName,
			Title:      d.Title,
			Tags:       d.Tags,
			Context:    d.Context,
		})
		if err != nil {
			return nil, fmt.Errorf("create failed: %w", err)
		}
		return &Outcome{Decision: d, Message: d.Message, CreatedID: id}, nil

	case Update:
		req := store.UpdateRequest{Context: d.Context}
		if d.Title != "" {
			req.Title = &d.Title
		}
		if err := a.updateWithRetry(ctx, d.ID, d.Version, req); err != nil {
			return nil, fmt.Errorf("update failed: %w", err)
		}
		return &Outcome{Decision: d, Message: d.Message}, nil

	case Delete:
		if err := a.deleteWithRetry(ctx, d.ID, d.Version); err != nil {
			return nil, fmt.Errorf("delete failed: %w", err)
		}
		return &Outcome{Decision: d, Message: d.Message}, nil

	case Spawn:
		payload, err := json.Marshal(d.Def)
		if err != nil {
			return nil, fmt.Errorf("unserializable agent definition: %w", err)
		}
		id, err := a.store.Create(ctx, store.CreateRequest{
			SchemaName: breadcrumb.SchemaAgentDef,
			Title:      d.Def.Name,
			Tags:       []string{"agent:" + d.Def.Name},
			Context:    payload,
		})
		if err != nil {
			return nil, fmt.Errorf("spawn failed: %w", err)
		}
		return &Outcome{Decision: d, Message: d.Message, CreatedID: id}, nil

	case None:
		return &Outcome{Decision: d, Message: d.Message}, nil

	case Disallowed:
		slog.Info("Decision disallowed by capability grant", "agent", a.name, "action", d.Action())
		return &Outcome{Decision: d, Disallowed: true}, nil

	default:
		return &Outcome{Decision: decision}, nil
	}
}

func (a *Agent) updateWithRetry(ctx context.Context, id string, version int64, req store.UpdateRequest) error {
	err := a.store.Update(ctx, id, version, req)
	if !errors.Is(err, store.ErrStaleVersion) {
		return err
	}
	current, getErr := a.store.Get(ctx, id)
	if getErr != nil {
		return fmt.Errorf("refetch after stale version: %w", getErr)
	}
	return a.store.Update(ctx, id, current.Version, req)
}

func (a *Agent) deleteWithRetry(ctx context.Context, id string, version int64) error {
	err := a.store.Delete(ctx, id, version)
	if !errors.Is(err, store.ErrStaleVersion) {
		return err
	}
	current, getErr := a.store.Get(ctx, id)
	if getErr != nil {
		return fmt.Errorf("refetch after stale version: %w", getErr)
	}
	return a.store.Delete(ctx, id, current.Version)
}

// Respond persists exactly one agent.response.v1 correlated to the
// trigger. Execution failures become the response body instead of
// propagating; the dispatch loop never sees them.
func (a *Agent) Respond(ctx context.Context, trigger *breadcrumb.Breadcrumb, result any, execErr error) error {
	resp := breadcrumb.AgentResponse{}
	switch {
	case execErr != nil:
		resp.Message = fmt.Sprintf("execution failed: %v", execErr)
	case result != nil:
		if outcome, ok := result.(*Outcome); ok {
			resp.Message = outcome.Message
			if outcome.Disallowed {
				resp.Message = fmt.Sprintf("action %q disallowed by capability grant", outcome.Decision.Action())
			}
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode agent response: %w", err)
	}

	tags := []string{"agent:" + a.name}
	if requestID := breadcrumb.RequestIDFromTags(trigger.Tags); requestID != "" {
		tags = append(tags, breadcrumb.RequestTag(requestID))
	} else {
		tags = append(tags, breadcrumb.RequestTag(trigger.ID))
	}

	_, err = a.store.Create(ctx, store.CreateRequest{
		SchemaName: breadcrumb.SchemaAgentResponse,
		Title:      fmt.Sprintf("%s response", a.name),
		Tags:       tags,
		Context:    payload,
	})
	return err
}
