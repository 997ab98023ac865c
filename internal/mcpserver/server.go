// Package mcpserver exposes the dispatch core as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"

	"trichat/internal/conversation"
	"trichat/internal/dispatch"
	"trichat/internal/settings"
)

type StartChatParams struct{}

type AskParams struct {
	ConversationID string `json:"conversation_id" mcp:"conversation id returned by start_chat; unknown ids start a new conversation"`
	Message        string `json:"message" mcp:"the user message to send to every model"`
}

type UpdateSettingsParams struct {
	ConversationID string  `json:"conversation_id" mcp:"conversation id returned by start_chat"`
	PrimaryModel   *string `json:"primary_model,omitempty" mcp:"primary model: ChatGPT, Gemini or Grok"`
	ShowAllModels  *bool   `json:"show_all_models,omitempty" mcp:"whether non-primary replies are returned"`
}

type Server struct {
	coord    *dispatch.Coordinator
	settings *settings.Manager
}

func New(coord *dispatch.Coordinator, mgr *settings.Manager) *Server {
	return &Server{coord: coord, settings: mgr}
}

// MCPServer builds an MCP server with the chat tools registered.
func (s *Server) MCPServer(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "trichat",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_chat",
		Description: "Starts a new conversation and returns its id, the greeting and the default settings",
	}, s.StartChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_all_models",
		Description: "Sends a message to ChatGPT, Gemini and Grok concurrently and returns the primary reply plus the others for comparison",
	}, s.AskAllModels)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_settings",
		Description: "Changes the primary model or the show-all flag of a conversation",
	}, s.UpdateSettings)

	return server
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResultFor[any] {
	res := textResult(fmt.Sprintf(format, args...))
	res.IsError = true
	return res
}

func (s *Server) StartChat(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[StartChatParams]) (*mcp.CallToolResultFor[any], error) {
	start, err := s.coord.StartChat()
	if err != nil {
		return errorResult("Failed to start conversation: %v", err), nil
	}
	data, err := json.MarshalIndent(start, "", "  ")
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}

func (s *Server) AskAllModels(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[AskParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	log.WithField("conversation", args.ConversationID).Debug("mcp: ask_all_models")

	res, err := s.coord.HandleMessage(ctx, args.ConversationID, args.Message)
	if err != nil {
		return errorResult("An error occurred: %v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s (primary):**\n\n%s", res.Settings.PrimaryModel, res.Primary.Display())
	for _, o := range res.Comparison() {
		b.WriteString("\n\n")
		b.WriteString(dispatch.ComparisonText(o))
	}
	return textResult(b.String()), nil
}

func (s *Server) UpdateSettings(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UpdateSettingsParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	cs, err := s.settings.Update(args.ConversationID, conversation.Patch{
		PrimaryModel:  args.PrimaryModel,
		ShowAllModels: args.ShowAllModels,
	})
	if err != nil {
		return errorResult("Failed to update settings: %v", err), nil
	}
	return textResult(settings.Confirmation(cs)), nil
}
