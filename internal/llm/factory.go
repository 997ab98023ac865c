package llm

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"trichat/internal/config"
)

// Factory builds the configured set of provider adapters.
type Factory struct {
	cfg *config.Config
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// Providers returns one adapter per known provider, in KnownProviders order.
// Adapters without credentials are still returned; they answer with a
// missing-credential outcome.
func (f *Factory) Providers(ctx context.Context) ([]Provider, error) {
	cfg := f.cfg

	var headers http.Header
	if cfg.OpenRouterReferrer != "" || cfg.OpenRouterTitle != "" {
		headers = http.Header{}
		if cfg.OpenRouterReferrer != "" {
			headers.Set("HTTP-Referer", cfg.OpenRouterReferrer)
		}
		if cfg.OpenRouterTitle != "" {
			headers.Set("X-Title", cfg.OpenRouterTitle)
		}
	}
	chatgpt := NewOpenAI(ProviderConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Params:  Params{MaxTokens: cfg.OpenAIMaxTokens, Temperature: cfg.OpenAITemperature},
		Headers: headers,
	})

	gemini, err := NewGemini(ctx, ProviderConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Params:  Params{MaxTokens: cfg.GeminiMaxTokens, Temperature: cfg.GeminiTemperature},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var grok Provider
	if cfg.GrokSimulated {
		grok = NewSimulated(ProviderGrok, cfg.GrokSimulatedDelay)
	} else {
		grok = NewGrok(ProviderConfig{
			APIKey:  cfg.GrokAPIKey,
			Model:   cfg.GrokModel,
			BaseURL: cfg.GrokBaseURL,
			Params:  Params{MaxTokens: cfg.GrokMaxTokens, Temperature: cfg.GrokTemperature},
		})
	}

	for name, key := range map[string]string{ProviderChatGPT: cfg.OpenAIAPIKey, ProviderGemini: cfg.GeminiAPIKey} {
		if key == "" {
			log.WithField("provider", name).Warn("API key not configured, provider disabled")
		}
	}
	if !cfg.GrokSimulated && cfg.GrokAPIKey == "" {
		log.WithField("provider", ProviderGrok).Warn("API key not configured, provider disabled")
	}

	return []Provider{chatgpt, gemini, grok}, nil
}
