package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// DefaultGrokBaseURL is xAI's OpenAI-compatible endpoint.
const DefaultGrokBaseURL = "https://api.x.ai/v1"

// ProviderConfig is the static configuration of one adapter.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Params  Params
	// Extra headers sent with every request (OpenRouter referrer/title).
	Headers http.Header
}

// OpenAIProvider talks to any OpenAI-compatible chat completion API. It backs
// both the ChatGPT and the Grok adapters.
type OpenAIProvider struct {
	name   string
	vendor string
	cfg    ProviderConfig
	client *openai.Client
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(cfg ProviderConfig) *OpenAIProvider {
	return newOpenAICompatible(ProviderChatGPT, "OpenAI", cfg)
}

func NewGrok(cfg ProviderConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGrokBaseURL
	}
	return newOpenAICompatible(ProviderGrok, "Grok", cfg)
}

func newOpenAICompatible(name, vendor string, cfg ProviderConfig) *OpenAIProvider {
	p := &OpenAIProvider{name: name, vendor: vendor, cfg: cfg}
	if cfg.APIKey == "" {
		return p
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if len(cfg.Headers) > 0 {
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: http.DefaultTransport, headers: cfg.Headers}}
	}
	p.client = openai.NewClientWithConfig(config)
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) Outcome {
	if p.client == nil {
		return missingCredential(p.name, p.vendor)
	}

	creq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    chatMessages(req),
		MaxTokens:   p.cfg.Params.MaxTokens,
		Temperature: requestTemperature(p.cfg.Params.Temperature),
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return generationFailure(p.name, Classify(err), err)
	}
	if len(resp.Choices) == 0 {
		return generationFailure(p.name, ProviderError, errors.New("no choices returned"))
	}

	out := Success(p.name, resp.Choices[0].Message.Content)
	out.Model = resp.Model
	if out.Model == "" {
		out.Model = p.cfg.Model
	}
	return out
}

// chatMessages encodes a request for user/assistant role providers: the
// system prompt leads, history is passed through unchanged.
func chatMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage})
	return msgs
}

func missingCredential(name, vendor string) Outcome {
	return Failure(name, MissingCredential, fmt.Sprintf("Error: %s API key not configured.", vendor))
}

func generationFailure(name string, kind FailureKind, err error) Outcome {
	return Failure(name, kind, fmt.Sprintf("Error generating response from %s: %v", name, err))
}

// requestTemperature keeps a configured zero on the wire. go-openai omits a
// zero Temperature, which makes the API fall back to its default of 1.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
