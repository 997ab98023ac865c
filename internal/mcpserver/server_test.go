package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trichat/internal/conversation"
	"trichat/internal/dispatch"
	"trichat/internal/llm"
	"trichat/internal/settings"
)

type echoProvider struct{ name string }

func (e echoProvider) Name() string { return e.name }

func (e echoProvider) Generate(context.Context, llm.Request) llm.Outcome {
	return llm.Success(e.name, "ok:"+e.name)
}

func newServer() (*Server, *conversation.Store) {
	store := conversation.NewStore()
	coord := dispatch.New(store, []llm.Provider{echoProvider{llm.ProviderChatGPT}, echoProvider{llm.ProviderGemini}, echoProvider{llm.ProviderGrok}})
	return New(coord, settings.NewManager(store)), store
}

func text(t *testing.T, res *mcp.CallToolResultFor[any]) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestStartChatTool(t *testing.T) {
	s, store := newServer()
	res, err := s.StartChat(context.Background(), nil, &mcp.CallToolParamsFor[StartChatParams]{})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var start dispatch.Start
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &start))
	assert.Equal(t, dispatch.Greeting, start.Greeting)
	_, ok := store.Snapshot(start.ConversationID)
	assert.True(t, ok)
}

func TestAskAllModelsTool(t *testing.T) {
	s, store := newServer()
	res, err := s.AskAllModels(context.Background(), nil, &mcp.CallToolParamsFor[AskParams]{
		Arguments: AskParams{ConversationID: "c1", Message: "hello"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "**ChatGPT (primary):**\n\nok:ChatGPT\n\n**Gemini Response:**\n\nok:Gemini\n\n**Grok Response:**\n\nok:Grok", text(t, res))
	assert.Len(t, store.History("c1"), 2)

	res, err = s.AskAllModels(context.Background(), nil, &mcp.CallToolParamsFor[AskParams]{
		Arguments: AskParams{ConversationID: "c1"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestUpdateSettingsTool(t *testing.T) {
	s, store := newServer()
	model := llm.ProviderGrok
	hide := false
	res, err := s.UpdateSettings(context.Background(), nil, &mcp.CallToolParamsFor[UpdateSettingsParams]{
		Arguments: UpdateSettingsParams{ConversationID: "c1", PrimaryModel: &model, ShowAllModels: &hide},
	})
	require.NoError(t, err)
	assert.Equal(t, "Settings updated: Primary model set to Grok. Only primary model responses will be shown.", text(t, res))
	assert.Equal(t, conversation.Settings{ShowAllModels: false, PrimaryModel: llm.ProviderGrok}, store.Settings("c1"))

	res, err = s.AskAllModels(context.Background(), nil, &mcp.CallToolParamsFor[AskParams]{
		Arguments: AskParams{ConversationID: "c1", Message: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "**Grok (primary):**\n\nok:Grok", text(t, res))

	bad := "Claude"
	res, err = s.UpdateSettings(context.Background(), nil, &mcp.CallToolParamsFor[UpdateSettingsParams]{
		Arguments: UpdateSettingsParams{ConversationID: "c1", PrimaryModel: &bad},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPServerBuilds(t *testing.T) {
	s, _ := newServer()
	assert.NotNil(t, s.MCPServer("test"))
}
