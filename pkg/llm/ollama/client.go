// Package ollama backs the llm.Client interface with a local or remote
// Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"ripple/pkg/llm"
)

type Client struct {
	client  *api.Client
	model   string
	options map[string]any
}

func NewClient(model string, baseURL string, options map[string]any) (*Client, error) {
	var client *api.Client
	var err error

	if baseURL != "" {
		u, parseErr := url.Parse(baseURL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid base URL: %w", parseErr)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		client, err = api.ClientFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		client:  client,
		model:   model,
		options: options,
	}, nil
}

func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	streamVal := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Options:  c.options,
		Stream:   &streamVal,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from model %s", c.model)
	}
	return sb.String(), nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "overloaded")
}

func convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}
