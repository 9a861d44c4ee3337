package llm

import (
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig builds a Client from the raw "llm" config section: a
// list of provider groups, expanded through the registered factories.
// A single resulting client is returned directly; several are wrapped
// in a FallbackClient tried in configuration order.
func NewFromConfig(rawLLM jsoniter.RawMessage, maxRetries int, retryDelay time.Duration) (Client, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var clients []Client
	for _, group := range groups {
		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type, skipping", "type", group.Type)
			continue
		}

		created, err := factory.Create(group)
		if err != nil {
			slog.Warn("Failed to create provider clients", "type", group.Type, "error", err)
			continue
		}
		slog.Info("Loaded LLM provider group", "type", group.Type, "clients", len(created))
		clients = append(clients, created...)
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	if len(clients) == 1 {
		return clients[0], nil
	}

	return &FallbackClient{
		Clients:    clients,
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
	}, nil
}
