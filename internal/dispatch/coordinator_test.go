package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trichat/internal/conversation"
	"trichat/internal/llm"
	"trichat/internal/storage"
)

type stubProvider struct {
	name  string
	fn    func(ctx context.Context, req llm.Request) llm.Outcome
	calls atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req llm.Request) llm.Outcome {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

func echo(name string) *stubProvider {
	return &stubProvider{name: name, fn: func(context.Context, llm.Request) llm.Outcome {
		return llm.Success(name, "ok:"+name)
	}}
}

func failing(name string, kind llm.FailureKind, msg string) *stubProvider {
	return &stubProvider{name: name, fn: func(context.Context, llm.Request) llm.Outcome {
		return llm.Failure(name, kind, msg)
	}}
}

func echoAll() []llm.Provider {
	return []llm.Provider{echo(llm.ProviderChatGPT), echo(llm.ProviderGemini), echo(llm.ProviderGrok)}
}

type memRecorder struct {
	mu     sync.Mutex
	events []storage.Event
	err    error
}

func (m *memRecorder) AppendInteraction(ev storage.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) LoadInteractions() ([]storage.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Event(nil), m.events...), nil
}

func (m *memRecorder) LoadInteractionsBetween(from, to time.Time) ([]storage.Event, error) {
	all, _ := m.LoadInteractions()
	var out []storage.Event
	for _, ev := range all {
		if !ev.Timestamp.Before(from) && ev.Timestamp.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }

func TestHandleMessage_PrimaryGeminiScenario(t *testing.T) {
	store := conversation.NewStore()
	c := New(store, echoAll())

	start, err := c.StartChat()
	require.NoError(t, err)
	_, err = store.MergeSettings(start.ConversationID, conversation.Patch{PrimaryModel: ptr(llm.ProviderGemini)})
	require.NoError(t, err)

	msg := "I have pelvic pain, should I worry?"
	res, err := c.HandleMessage(context.Background(), start.ConversationID, msg)
	require.NoError(t, err)

	assert.Equal(t, "ok:Gemini", res.Primary.Text)
	assert.Len(t, res.All, 3)
	for _, name := range llm.KnownProviders {
		assert.Equal(t, "ok:"+name, res.All[name].Text)
	}
	assert.Equal(t, llm.KnownProviders, res.Order)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: msg},
		{Role: llm.RoleAssistant, Content: "ok:Gemini"},
	}, store.History(start.ConversationID))
}

func TestHandleMessage_HistoryIsTwicePerDispatch(t *testing.T) {
	store := conversation.NewStore()
	providers := []llm.Provider{
		echo(llm.ProviderChatGPT),
		failing(llm.ProviderGemini, llm.TransportError, "boom"),
		failing(llm.ProviderGrok, llm.MissingCredential, "Error: Grok API key not configured."),
	}
	c := New(store, providers)

	for i := 1; i <= 5; i++ {
		_, err := c.HandleMessage(context.Background(), "conv", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		assert.Len(t, store.History("conv"), 2*i)
	}
	for i, m := range store.History("conv") {
		if i%2 == 0 {
			assert.Equal(t, llm.RoleUser, m.Role)
		} else {
			assert.Equal(t, llm.RoleAssistant, m.Role)
		}
	}
}

func TestHandleMessage_FailedPrimaryPersistsFailureText(t *testing.T) {
	store := conversation.NewStore()
	failure := "Error generating response from Gemini: googleapi: Error 503: overloaded; retry later"
	c := New(store, []llm.Provider{
		echo(llm.ProviderChatGPT),
		failing(llm.ProviderGemini, llm.ProviderError, failure),
		echo(llm.ProviderGrok),
	})
	_, err := store.MergeSettings("conv", conversation.Patch{PrimaryModel: ptr(llm.ProviderGemini)})
	require.NoError(t, err)

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	assert.False(t, res.Primary.OK())

	h := store.History("conv")
	require.Len(t, h, 2)
	assert.Equal(t, failure, h[1].Content)
}

func TestHandleMessage_AllProvidersFailStillAppendsPair(t *testing.T) {
	store := conversation.NewStore()
	c := New(store, []llm.Provider{
		failing(llm.ProviderChatGPT, llm.MissingCredential, "Error: OpenAI API key not configured."),
		failing(llm.ProviderGemini, llm.MissingCredential, "Error: Gemini API key not configured."),
		failing(llm.ProviderGrok, llm.MissingCredential, "Error: Grok API key not configured."),
	})

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	assert.Len(t, res.All, 3)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "Error: OpenAI API key not configured."},
	}, store.History("conv"))
}

func TestHandleMessage_MissingCredentialStillInAll(t *testing.T) {
	store := conversation.NewStore()
	gemini, err := llm.NewGemini(context.Background(), llm.ProviderConfig{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	c := New(store, []llm.Provider{echo(llm.ProviderChatGPT), gemini, echo(llm.ProviderGrok)})

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	require.Len(t, res.All, 3)
	assert.True(t, res.All[llm.ProviderChatGPT].OK())
	assert.True(t, res.All[llm.ProviderGrok].OK())
	g := res.All[llm.ProviderGemini]
	assert.Equal(t, llm.MissingCredential, g.Kind)
	assert.Equal(t, "Error: Gemini API key not configured.", g.Message)
}

func TestHandleMessage_RunsProvidersConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	slow := func(name string) *stubProvider {
		return &stubProvider{name: name, fn: func(ctx context.Context, _ llm.Request) llm.Outcome {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return llm.Success(name, "ok:"+name)
		}}
	}
	c := New(conversation.NewStore(), []llm.Provider{slow(llm.ProviderChatGPT), slow(llm.ProviderGemini), slow(llm.ProviderGrok)})

	done := make(chan error, 1)
	go func() {
		_, err := c.HandleMessage(context.Background(), "conv", "hello")
		done <- err
	}()
	assert.Eventually(t, func() bool { return running.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), peak.Load())
}

func TestHandleMessage_TimeoutIsTransportError(t *testing.T) {
	hang := &stubProvider{name: llm.ProviderGrok, fn: func(ctx context.Context, _ llm.Request) llm.Outcome {
		<-ctx.Done()
		return llm.Failure(llm.ProviderGrok, llm.Classify(ctx.Err()), "Error generating response from Grok: "+ctx.Err().Error())
	}}
	store := conversation.NewStore()
	c := New(store, []llm.Provider{echo(llm.ProviderChatGPT), echo(llm.ProviderGemini), hang}, WithTimeout(50*time.Millisecond))

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	assert.Equal(t, llm.TransportError, res.All[llm.ProviderGrok].Kind)
	assert.Equal(t, "ok:ChatGPT", res.Primary.Text)
	assert.GreaterOrEqual(t, res.All[llm.ProviderGrok].Latency, 50*time.Millisecond)
}

func TestHandleMessage_PanickingProviderBecomesFailure(t *testing.T) {
	boom := &stubProvider{name: llm.ProviderGemini, fn: func(context.Context, llm.Request) llm.Outcome {
		panic("kaboom")
	}}
	c := New(conversation.NewStore(), []llm.Provider{echo(llm.ProviderChatGPT), boom, echo(llm.ProviderGrok)})

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	g := res.All[llm.ProviderGemini]
	assert.Equal(t, llm.ProviderError, g.Kind)
	assert.Contains(t, g.Message, "kaboom")
}

func TestHandleMessage_RequestCarriesPromptAndHistory(t *testing.T) {
	var mu sync.Mutex
	var seen []llm.Request
	rec := &stubProvider{name: llm.ProviderChatGPT, fn: func(_ context.Context, req llm.Request) llm.Outcome {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		return llm.Success(llm.ProviderChatGPT, "reply:"+req.UserMessage)
	}}
	store := conversation.NewStore()
	c := New(store, []llm.Provider{rec, echo(llm.ProviderGemini), echo(llm.ProviderGrok)}, WithSystemPrompt("be brief"))

	_, err := c.HandleMessage(context.Background(), "a", "first")
	require.NoError(t, err)
	_, err = c.HandleMessage(context.Background(), "b", "other")
	require.NoError(t, err)
	_, err = c.HandleMessage(context.Background(), "a", "second")
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, "be brief", seen[0].SystemPrompt)
	assert.Empty(t, seen[0].History)
	assert.Empty(t, seen[1].History)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "reply:first"},
	}, seen[2].History)
	assert.Equal(t, "second", seen[2].UserMessage)
}

func TestHandleMessage_ConcurrentSameConversationNeverInterleaves(t *testing.T) {
	var mu sync.Mutex
	var historyLens []int
	slowEcho := &stubProvider{name: llm.ProviderChatGPT, fn: func(_ context.Context, req llm.Request) llm.Outcome {
		mu.Lock()
		historyLens = append(historyLens, len(req.History))
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return llm.Success(llm.ProviderChatGPT, "re:"+req.UserMessage)
	}}
	store := conversation.NewStore()
	c := New(store, []llm.Provider{slowEcho, echo(llm.ProviderGemini), echo(llm.ProviderGrok)})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.HandleMessage(context.Background(), "conv", fmt.Sprintf("msg-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	h := store.History("conv")
	require.Len(t, h, 2*n)
	for i := 0; i < len(h); i += 2 {
		require.Equal(t, llm.RoleUser, h[i].Role)
		require.Equal(t, llm.RoleAssistant, h[i+1].Role)
		require.Equal(t, "re:"+h[i].Content, h[i+1].Content)
	}

	// every dispatch saw all earlier turns
	sort.Ints(historyLens)
	for i, l := range historyLens {
		assert.Equal(t, 2*i, l)
	}
}

func TestHandleMessage_EmptyMessage(t *testing.T) {
	store := conversation.NewStore()
	p := echo(llm.ProviderChatGPT)
	c := New(store, []llm.Provider{p})

	_, err := c.HandleMessage(context.Background(), "conv", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, p.calls.Load())
	assert.Zero(t, store.Len())
}

func TestHandleMessage_EmptyConversationID(t *testing.T) {
	c := New(conversation.NewStore(), echoAll())
	_, err := c.HandleMessage(context.Background(), "", "hello")
	assert.ErrorIs(t, err, conversation.ErrEmptyID)
}

func TestHandleMessage_UnknownPrimaryAppendsNothing(t *testing.T) {
	store := conversation.NewStore()
	c := New(store, []llm.Provider{echo(llm.ProviderChatGPT), echo(llm.ProviderGemini)})
	_, err := store.MergeSettings("conv", conversation.Patch{PrimaryModel: ptr(llm.ProviderGrok)})
	require.NoError(t, err)

	res, err := c.HandleMessage(context.Background(), "conv", "hello")
	assert.True(t, errors.Is(err, ErrUnknownPrimary))
	assert.Len(t, res.All, 2)
	assert.Empty(t, store.History("conv"))
}

func TestHandleMessage_RecordsInteraction(t *testing.T) {
	rec := &memRecorder{}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(conversation.NewStore(), echoAll(), WithRecorder(rec), WithClock(func() time.Time { return fixed }))

	_, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)

	events, _ := rec.LoadInteractions()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, fixed, ev.Timestamp)
	assert.Equal(t, "conv", ev.ConversationID)
	assert.Equal(t, "hello", ev.UserMessage)
	assert.Equal(t, llm.ProviderChatGPT, ev.PrimaryModel)
	assert.Equal(t, "ok:ChatGPT", ev.AssistantResponse)
	assert.Len(t, ev.Outcomes, 3)
}

func TestHandleMessage_RecorderFailureDoesNotFailDispatch(t *testing.T) {
	store := conversation.NewStore()
	c := New(store, echoAll(), WithRecorder(&memRecorder{err: errors.New("disk full")}))
	_, err := c.HandleMessage(context.Background(), "conv", "hello")
	require.NoError(t, err)
	assert.Len(t, store.History("conv"), 2)
}

func TestResultComparison(t *testing.T) {
	res := Result{
		All: map[string]llm.Outcome{
			llm.ProviderChatGPT: llm.Success(llm.ProviderChatGPT, "a"),
			llm.ProviderGemini:  llm.Failure(llm.ProviderGemini, llm.ProviderError, "bad"),
			llm.ProviderGrok:    llm.Success(llm.ProviderGrok, "c"),
		},
		Order:    llm.KnownProviders,
		Settings: conversation.Settings{ShowAllModels: true, PrimaryModel: llm.ProviderGrok},
	}
	cmp := res.Comparison()
	require.Len(t, cmp, 2)
	assert.Equal(t, llm.ProviderChatGPT, cmp[0].Provider)
	assert.Equal(t, llm.ProviderGemini, cmp[1].Provider)
	assert.Equal(t, "**Gemini Response:**\n\nbad", ComparisonText(cmp[1]))

	res.Settings.ShowAllModels = false
	assert.Nil(t, res.Comparison())
}

func TestStartChatAndReset(t *testing.T) {
	store := conversation.NewStore()
	c := New(store, echoAll())

	s1, err := c.StartChat()
	require.NoError(t, err)
	s2, err := c.StartChat()
	require.NoError(t, err)
	assert.NotEqual(t, s1.ConversationID, s2.ConversationID)
	assert.Equal(t, Greeting, s1.Greeting)
	assert.Equal(t, conversation.DefaultSettings(), s1.Settings)
	assert.Equal(t, llm.KnownProviders, s1.Options.PrimaryModels)
	assert.Equal(t, 2, store.Len())

	assert.True(t, c.Reset(s1.ConversationID))
	assert.False(t, c.Reset(s1.ConversationID))
	assert.Equal(t, 1, store.Len())
}

func TestSweepEvictsIdle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := conversation.NewStore(conversation.WithTTL(time.Hour), conversation.WithClock(func() time.Time { return now }))
	c := New(store, echoAll())
	_, err := c.HandleMessage(context.Background(), "old", "hello")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	require.NoError(t, c.Sweep(context.Background()))
	assert.Zero(t, store.Len())
}

func TestReset_DuringDispatchKeepsSerializationAndDiscardsTurn(t *testing.T) {
	var running, peak atomic.Int32
	entered := make(chan struct{}, 2)
	gate := make(chan struct{})
	gated := &stubProvider{name: llm.ProviderChatGPT, fn: func(_ context.Context, req llm.Request) llm.Outcome {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- struct{}{}
		<-gate
		return llm.Success(llm.ProviderChatGPT, "re:"+req.UserMessage)
	}}
	store := conversation.NewStore()
	c := New(store, []llm.Provider{gated, echo(llm.ProviderGemini), echo(llm.ProviderGrok)})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := c.HandleMessage(context.Background(), "conv", "A")
		assert.NoError(t, err)
		assert.Equal(t, "re:A", res.Primary.Text)
	}()
	<-entered

	require.True(t, c.Reset("conv"))
	_, ok := store.Snapshot("conv")
	assert.False(t, ok)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.HandleMessage(context.Background(), "conv", "B")
		assert.NoError(t, err)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), gated.calls.Load(), "second dispatch must wait for the first")

	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	snap, ok := store.Snapshot("conv")
	require.True(t, ok)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "B"},
		{Role: llm.RoleAssistant, Content: "re:B"},
	}, snap.History)
}
