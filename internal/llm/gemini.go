package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// geminiChat is the part of *genai.ChatSession the adapter uses.
type geminiChat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GeminiProvider struct {
	cfg    ProviderConfig
	client *genai.Client
	// newChat starts a session seeded with history; nil without a credential.
	newChat func(history []*genai.Content) geminiChat
}

// NewGemini creates the Gemini adapter. Without an API key no client is
// created and every Generate call reports a missing credential.
func NewGemini(ctx context.Context, cfg ProviderConfig) (*GeminiProvider, error) {
	p := &GeminiProvider{cfg: cfg}
	if cfg.APIKey == "" {
		return p, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = client
	p.newChat = func(history []*genai.Content) geminiChat {
		model := client.GenerativeModel(cfg.Model)
		model.SetTemperature(cfg.Params.Temperature)
		model.SetMaxOutputTokens(int32(cfg.Params.MaxTokens))
		cs := model.StartChat()
		cs.History = history
		return cs
	}
	return p, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) Outcome {
	if p.newChat == nil {
		return missingCredential(ProviderGemini, "Gemini")
	}

	contents := geminiContents(req)
	last := contents[len(contents)-1]

	resp, err := p.newChat(contents[:len(contents)-1]).SendMessage(ctx, last.Parts...)
	if err != nil {
		return generationFailure(ProviderGemini, Classify(err), err)
	}
	text, err := geminiText(resp)
	if err != nil {
		return generationFailure(ProviderGemini, ProviderError, err)
	}
	out := Success(ProviderGemini, text)
	out.Model = p.cfg.Model
	return out
}

// geminiContents encodes a request as one combined array: the system prompt
// becomes the leading user entry and assistant turns are re-tagged as model.
// The last element is always the new user message.
func geminiContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+2)
	contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []genai.Part{genai.Text(req.SystemPrompt)}})
	for _, m := range req.History {
		role := geminiRoleUser
		if m.Role == RoleAssistant {
			role = geminiRoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []genai.Part{genai.Text(req.UserMessage)}})
	return contents
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("response contained no text")
	}
	return sb.String(), nil
}
