// Package llm abstracts language-model providers behind one blocking
// Generate call. Providers register themselves through the factory
// registry; multiple configured providers are layered into a
// FallbackClient that tries them in order.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the provider-neutral generation interface.
type Client interface {
	// Generate runs one completion over the message sequence and
	// returns the model's textual reply.
	Generate(ctx context.Context, messages []Message) (string, error)

	// IsTransientError reports whether an error from Generate is worth
	// retrying (rate limits, overload, connection resets).
	IsTransientError(err error) bool
}

// FallbackClient tries each client in order, retrying transient
// failures per client before moving on to the next.
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Generate(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Provider failed, trying fallback", "provider_index", i, "error", lastErr)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			reply, err := client.Generate(ctx, messages)
			if err == nil {
				return reply, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Transient provider error, retrying", "provider_index", i, "attempt", retry, "error", err)
				continue
			}
			break
		}
	}
	return "", fmt.Errorf("all fallback providers failed, last error: %w", lastErr)
}

// IsTransientError implements Client. A FallbackClient error means
// every layer already failed, so it is never retried from outside.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}
