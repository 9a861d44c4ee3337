package openailm

import (
	"log/slog"

	"ripple/pkg/llm"
)

type OpenAIFactory struct{}

// Create implements llm.ProviderFactory.
func (f *OpenAIFactory) Create(cfg llm.ProviderConfig) ([]llm.Client, error) {
	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	var clients []llm.Client
	for _, model := range cfg.Models {
		client, err := NewClient(apiKey, model, cfg.BaseURL, cfg.Options)
		if err != nil {
			slog.Error("Failed to create OpenAI client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
