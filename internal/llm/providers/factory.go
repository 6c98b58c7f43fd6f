// Package providers builds an llm.Provider from a config.ProviderConfig,
// adapted from the teacher's internal/llm/providers/factory.go switch, now
// keyed on the orchestrator's backend names and the four wired LLM clients.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"agenticrag/internal/config"
	"agenticrag/internal/llm"
	"agenticrag/internal/llm/anthropic"
	"agenticrag/internal/llm/bedrock"
	"agenticrag/internal/llm/google"
	openaillm "agenticrag/internal/llm/openai"
)

// Secrets carries the API keys resolved from the environment at load time
// (config.Config.AnthropicAPIKey / OpenAIAPIKey / GeminiAPIKey / AWSRegion),
// kept separate from ProviderConfig so that config.go never has to parse
// secrets out of YAML.
type Secrets struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AWSRegion       string
}

// Build constructs an llm.Provider for the given backend.
func Build(ctx context.Context, cfg config.ProviderConfig, secrets Secrets, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.Backend {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  secrets.AnthropicAPIKey,
			BaseURL: cfg.Host,
			Model:   cfg.Model,
		}, httpClient), nil
	case "", "openai":
		return openaillm.New(openaillm.Config{
			APIKey:  secrets.OpenAIAPIKey,
			BaseURL: cfg.Host,
			Model:   cfg.Model,
		}, httpClient), nil
	case "genai", "google":
		return google.New(google.Config{
			APIKey:  secrets.GeminiAPIKey,
			BaseURL: cfg.Host,
			Model:   cfg.Model,
		}, httpClient)
	case "bedrock":
		return bedrock.New(ctx, bedrock.Config{
			Region: secrets.AWSRegion,
			Model:  cfg.Model,
		}, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider backend: %s", cfg.Backend)
	}
}
