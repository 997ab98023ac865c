// Package dispatch fans a user message out to every configured provider,
// waits for all of them and persists the turn with the primary reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trichat/internal/conversation"
	"trichat/internal/llm"
	"trichat/internal/metrics"
	"trichat/internal/settings"
	"trichat/internal/storage"
)

const DefaultSystemPrompt = `You are a virtual gynecology assistant designed to provide support, information,
and reassurance to users with gynecological concerns. Provide clear, accurate,
and concise information. Emphasize when symptoms are likely benign, but always
recommend consulting a healthcare provider for proper diagnosis when appropriate.
Do not provide definitive diagnoses. Be supportive, informative, and reassuring.`

const Greeting = "Welcome to the Virtual Gynecology Assistant. How can I help you today?"

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrUnknownPrimary = errors.New("primary model has no configured provider")
)

type Coordinator struct {
	store        *conversation.Store
	providers    []llm.Provider
	systemPrompt string
	timeout      time.Duration
	recorder     storage.Recorder
	now          func() time.Time
}

type Option func(*Coordinator)

func WithSystemPrompt(prompt string) Option {
	return func(c *Coordinator) {
		if strings.TrimSpace(prompt) != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithTimeout bounds each provider call; zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

func WithRecorder(r storage.Recorder) Option { return func(c *Coordinator) { c.recorder = r } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func New(store *conversation.Store, providers []llm.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		providers:    providers,
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result is the outcome of one dispatch.
type Result struct {
	ConversationID string                 `json:"conversation_id"`
	Primary        llm.Outcome            `json:"primary"`
	All            map[string]llm.Outcome `json:"all"`
	Order          []string               `json:"order"`
	Settings       conversation.Settings  `json:"settings"`
}

// Comparison returns the non-primary outcomes in provider order, or nil when
// the conversation only shows the primary reply.
func (r Result) Comparison() []llm.Outcome {
	if !r.Settings.ShowAllModels {
		return nil
	}
	var out []llm.Outcome
	for _, name := range r.Order {
		if name == r.Settings.PrimaryModel {
			continue
		}
		out = append(out, r.All[name])
	}
	return out
}

// ComparisonText renders an outcome the way it is labelled in the comparison
// view.
func ComparisonText(o llm.Outcome) string {
	return fmt.Sprintf("**%s Response:**\n\n%s", o.Provider, o.Display())
}

// HandleMessage dispatches message to every provider concurrently, waits for
// all of them, then appends the user turn and the primary reply to the
// conversation. A failed primary still produces a turn whose text is the
// failure message. Dispatches for the same conversation are serialized.
func (c *Coordinator) HandleMessage(ctx context.Context, conversationID, message string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrEmptyMessage
	}
	release, err := c.store.Acquire(conversationID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	cs := c.store.Settings(conversationID)
	req := llm.Request{
		SystemPrompt: c.systemPrompt,
		History:      c.store.History(conversationID),
		UserMessage:  message,
	}
	logger := log.WithFields(log.Fields{"conversation": conversationID, "primary": cs.PrimaryModel})
	logger.WithField("history", len(req.History)).Debug("dispatching message")

	start := time.Now()
	outcomes := c.fanout(ctx, req)

	res := Result{
		ConversationID: conversationID,
		All:            make(map[string]llm.Outcome, len(outcomes)),
		Order:          make([]string, 0, len(outcomes)),
		Settings:       cs,
	}
	for _, o := range outcomes {
		res.All[o.Provider] = o
		res.Order = append(res.Order, o.Provider)
	}

	primary, ok := res.All[cs.PrimaryModel]
	if !ok {
		logger.WithField("providers", res.Order).Error("primary model has no configured provider")
		return res, fmt.Errorf("%w: %q", ErrUnknownPrimary, cs.PrimaryModel)
	}
	res.Primary = primary

	reply := primary.Display()
	if err := c.store.AppendTurns(conversationID,
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	); errors.Is(err, conversation.ErrReset) {
		logger.Info("conversation reset during dispatch, turns discarded")
	} else if err != nil {
		return res, err
	}

	took := time.Since(start)
	metrics.ObserveDispatch(cs.PrimaryModel, took)
	metrics.SetConversations(c.store.Len())
	logger.WithFields(log.Fields{"took": took, "primary_ok": primary.OK()}).Info("dispatch complete")

	c.record(conversationID, message, cs.PrimaryModel, reply, outcomes)
	return res, nil
}

// fanout runs every provider in its own goroutine and returns their outcomes
// in provider order once all have resolved.
func (c *Coordinator) fanout(ctx context.Context, req llm.Request) []llm.Outcome {
	outcomes := make([]llm.Outcome, len(c.providers))
	var wg sync.WaitGroup
	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p llm.Provider) {
			defer wg.Done()
			outcomes[i] = c.generate(ctx, p, req)
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

func (c *Coordinator) generate(ctx context.Context, p llm.Provider, req llm.Request) (out llm.Outcome) {
	name := p.Name()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = llm.Failure(name, llm.ProviderError, fmt.Sprintf("Error generating response from %s: %v", name, r))
		}
		if out.Provider == "" {
			out.Provider = name
		}
		out.Latency = time.Since(start)
		metrics.ObserveOutcome(name, string(out.Kind), out.Latency)
		if !out.OK() {
			log.WithFields(log.Fields{"provider": name, "kind": out.Kind}).Warn(out.Message)
		}
	}()
	return p.Generate(ctx, req)
}

func (c *Coordinator) record(conversationID, message, primary, reply string, outcomes []llm.Outcome) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.AppendInteraction(storage.Event{
		Timestamp:         c.now().UTC(),
		ConversationID:    conversationID,
		UserMessage:       message,
		PrimaryModel:      primary,
		AssistantResponse: reply,
		Outcomes:          outcomes,
	})
	if err != nil {
		log.WithError(err).WithField("conversation", conversationID).Warn("failed to record interaction")
	}
}

// Start is what a front-end renders when a chat begins.
type Start struct {
	ConversationID string                `json:"conversation_id"`
	Greeting       string                `json:"greeting"`
	Settings       conversation.Settings `json:"settings"`
	Options        settings.Options      `json:"options"`
}

// StartChat allocates a new conversation with default settings.
func (c *Coordinator) StartChat() (Start, error) {
	snap, err := c.store.GetOrCreate(conversation.NewID())
	if err != nil {
		return Start{}, err
	}
	metrics.SetConversations(c.store.Len())
	log.WithField("conversation", snap.ID).Info("chat started")
	return Start{
		ConversationID: snap.ID,
		Greeting:       Greeting,
		Settings:       snap.Settings,
		Options:        settings.DefaultOptions(),
	}, nil
}

// Reset drops the conversation and reports whether it existed.
func (c *Coordinator) Reset(conversationID string) bool {
	ok := c.store.Delete(conversationID)
	if ok {
		metrics.SetConversations(c.store.Len())
		log.WithField("conversation", conversationID).Info("conversation reset")
	}
	return ok
}

// Sweep evicts idle conversations. It is meant to run as a scheduled job.
func (c *Coordinator) Sweep(_ context.Context) error {
	n := c.store.Evict()
	metrics.AddEvictions(n)
	metrics.SetConversations(c.store.Len())
	if n > 0 {
		log.WithField("evicted", n).Info("evicted idle conversations")
	}
	return nil
}

func (c *Coordinator) Store() *conversation.Store { return c.store }
