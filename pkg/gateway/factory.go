package gateway

import "fmt"

// ProviderConfig selects and parameterizes a provider implementation.
type ProviderConfig struct {
	Provider string // google, anthropic, openai, or ollama
	Model    string
	APIKey   string
	Host     string // ollama only
}

// DefaultOllamaHost is used when an ollama provider config omits the host.
const DefaultOllamaHost = "http://localhost:11434"

// New builds the gateway named by the provider config.
func New(cfg ProviderConfig) (Gateway, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gateway: model is required")
	}
	switch cfg.Provider {
	case "google", "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gateway: %s requires an API key", cfg.Provider)
		}
		return NewGeminiGateway(cfg.APIKey, cfg.Model), nil
	case "anthropic", "claude":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gateway: %s requires an API key", cfg.Provider)
		}
		return NewClaudeGateway(cfg.APIKey, cfg.Model), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gateway: %s requires an API key", cfg.Provider)
		}
		return NewOpenAIGateway(cfg.APIKey, cfg.Model), nil
	case "ollama":
		host := cfg.Host
		if host == "" {
			host = DefaultOllamaHost
		}
		return NewOllamaGateway(host, cfg.Model)
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", cfg.Provider)
	}
}
