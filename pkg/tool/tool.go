// Package tool wraps a plain function as an executor component. Each
// invocation answers a tool.request.v1 breadcrumb with exactly one
// correlated tool.response.v1, success or error.
package tool

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"ripple/pkg/assemble"
	"ripple/pkg/breadcrumb"
	"ripple/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Func is the unit of work a tool wraps: the request's input plus the
// assembled context in, an arbitrary serializable result out. Tools
// are trusted code; no capability gate applies.
type Func func(ctx context.Context, input jsoniter.RawMessage, bundle assemble.Bundle) (any, error)

// Writer persists response documents.
type Writer interface {
	Create(ctx context.Context, req store.CreateRequest) (string, error)
}

type Tool struct {
	name   string
	fn     Func
	writer Writer
	subs   []breadcrumb.Subscription
}

// New builds a tool named name. Its trigger subscription selects
// tool.request.v1 documents whose context names this tool; extra
// context-role subscriptions may be appended.
func New(name string, fn Func, writer Writer, contextSubs ...breadcrumb.Subscription) *Tool {
	subs := []breadcrumb.Subscription{{
		Role: breadcrumb.RoleTrigger,
		Selector: breadcrumb.Selector{
			SchemaName: breadcrumb.SchemaToolRequest,
			ContextMatch: []breadcrumb.Predicate{
				{Path: "tool", Op: breadcrumb.OpEq, Value: name},
			},
		},
		Fetch: breadcrumb.FetchSpec{Method: breadcrumb.FetchEventData},
	}}
	subs = append(subs, contextSubs...)

	return &Tool{
		name:   name,
		fn:     fn,
		writer: writer,
		subs:   subs,
	}
}

func (t *Tool) Name() string { return t.name }

func (t *Tool) Subscriptions() []breadcrumb.Subscription { return t.subs }

// Execute decodes the request payload and runs the wrapped function.
func (t *Tool) Execute(ctx context.Context, trigger *breadcrumb.Breadcrumb, bundle assemble.Bundle) (any, error) {
	var req breadcrumb.ToolRequest
	if err := trigger.DecodeContext(&req); err != nil {
		return nil, fmt.Errorf("malformed tool request: %w", err)
	}
	return t.fn(ctx, req.Input, bundle)
}

// Respond writes the correlated tool.response.v1. A failed execution
// produces status error with the message; a normal return produces
// status success with the serialized result.
func (t *Tool) Respond(ctx context.Context, trigger *breadcrumb.Breadcrumb, result any, execErr error) error {
	requestID := requestIDOf(trigger)

	resp := breadcrumb.ToolResponse{
		RequestID: requestID,
		Tool:      t.name,
		Status:    breadcrumb.StatusSuccess,
	}
	if execErr != nil {
		resp.Status = breadcrumb.StatusError
		resp.Error = execErr.Error()
	} else if result != nil {
		output, err := json.Marshal(result)
		if err != nil {
			resp.Status = breadcrumb.StatusError
			resp.Error = fmt.Sprintf("unserializable tool result: %v", err)
		} else {
			resp.Output = output
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode tool response: %w", err)
	}

	tags := []string{}
	if requestID != "" {
		tags = append(tags, breadcrumb.RequestTag(requestID))
	}
	_, err = t.writer.Create(ctx, store.CreateRequest{
		SchemaName: breadcrumb.SchemaToolResponse,
		Title:      fmt.Sprintf("%s response", t.name),
		Tags:       tags,
		Context:    payload,
	})
	return err
}

// requestIDOf prefers the requestId context field, falling back to the
// request:<id> correlation tag.
func requestIDOf(trigger *breadcrumb.Breadcrumb) string {
	var req breadcrumb.ToolRequest
	if err := trigger.DecodeContext(&req); err == nil && req.RequestID != "" {
		return req.RequestID
	}
	return breadcrumb.RequestIDFromTags(trigger.Tags)
}
