package llm

// ProviderConfig describes one configured provider group: a provider
// type plus the models and credentials to instantiate clients for.
type ProviderConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds the atomic clients for one provider group.
type ProviderFactory interface {
	Create(cfg ProviderConfig) ([]Client, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a factory under a provider type name.
// Provider packages call this from init; importing the autoload
// package pulls every provider in.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
