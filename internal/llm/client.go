package llm

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names double as the primary_model values a conversation can select.
const (
	ProviderChatGPT = "ChatGPT"
	ProviderGemini  = "Gemini"
	ProviderGrok    = "Grok"
)

// KnownProviders lists providers in display order.
var KnownProviders = []string{ProviderChatGPT, ProviderGemini, ProviderGrok}

// IsKnownProvider reports whether name is one of KnownProviders.
func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the generation limits an adapter is configured with.
type Params struct {
	MaxTokens   int
	Temperature float32
}

// Request is the provider-agnostic input of a single generation.
type Request struct {
	SystemPrompt string
	History      []Message
	UserMessage  string
}

// Provider is implemented once per upstream API. Generate must not panic and
// must always return a fully populated Outcome, even when the context expires.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) Outcome
}

type FailureKind string

const (
	MissingCredential FailureKind = "missing-credential"
	TransportError    FailureKind = "transport-error"
	ProviderError     FailureKind = "provider-error"
)

// Outcome is either a success carrying Text or a failure carrying Kind and
// Message. Use Success and Failure to build one.
type Outcome struct {
	Provider string        `json:"provider"`
	Text     string        `json:"text,omitempty"`
	Kind     FailureKind   `json:"failure,omitempty"`
	Message  string        `json:"message,omitempty"`
	Model    string        `json:"model,omitempty"`
	Latency  time.Duration `json:"latency"`
}

func Success(provider, text string) Outcome {
	return Outcome{Provider: provider, Text: text}
}

func Failure(provider string, kind FailureKind, message string) Outcome {
	return Outcome{Provider: provider, Kind: kind, Message: message}
}

func (o Outcome) OK() bool { return o.Kind == "" }

// Display returns what a user sees for this outcome: the reply text, or the
// failure message verbatim.
func (o Outcome) Display() string {
	if o.OK() {
		return o.Text
	}
	return o.Message
}

// Classify maps an error returned by a remote call to a failure kind.
// Timeouts, cancellations and network errors are transport errors; anything
// the remote side answered with is a provider error.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransportError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransportError
	}
	return ProviderError
}
