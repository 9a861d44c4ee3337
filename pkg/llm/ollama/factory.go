package ollama

import (
	"log/slog"

	"ripple/pkg/llm"
)

type OllamaFactory struct{}

// Create implements llm.ProviderFactory.
func (f *OllamaFactory) Create(cfg llm.ProviderConfig) ([]llm.Client, error) {
	var clients []llm.Client
	for _, model := range cfg.Models {
		client, err := NewClient(model, cfg.BaseURL, cfg.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
