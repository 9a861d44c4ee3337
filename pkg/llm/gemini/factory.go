package gemini

import (
	"log/slog"

	"ripple/pkg/llm"
)

type GeminiFactory struct{}

// Create implements llm.ProviderFactory. Models and keys expand as a
// cartesian product so a rate-limited key falls through to the next.
func (f *GeminiFactory) Create(cfg llm.ProviderConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range cfg.Models {
		for _, key := range cfg.APIKeys {
			client, err := NewClient(key, model)
			if err != nil {
				slog.Error("Failed to create Gemini client", "model", model, "error", err)
				continue
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
